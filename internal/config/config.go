// Package config loads application configuration from the environment with
// CLI overrides. Priority: CLI args > .env file > OS environment variables.
package config

import (
	"crypto/subtle"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/olegiv/chatlog-ai-go/internal/ai"
)

// CLIOptions holds command-line argument overrides
type CLIOptions struct {
	InputDir    string // -input: directory of exported chat-log files to ingest
	Economical  bool   // -economical: conservative queue tuning
	RetryFailed bool   // -retry-failed: reset failed records to pending before running
	ShowHelp    bool   // -help: show usage
	ShowVersion bool   // -version: show version

	// Files are positional arguments: individual export files to ingest.
	Files []string
}

// ParseCLI parses command-line arguments and returns CLIOptions
func ParseCLI() *CLIOptions {
	opts := &CLIOptions{}

	flag.StringVar(&opts.InputDir, "input", "", "Directory of exported chat-log files to ingest")
	flag.BoolVar(&opts.Economical, "economical", false, "Conservative queue tuning (smaller batches, longer delays)")
	flag.BoolVar(&opts.RetryFailed, "retry-failed", false, "Reset failed conversations to pending before running the queue")
	flag.BoolVar(&opts.ShowHelp, "help", false, "Show usage information")
	flag.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Chatlog AI Analyzer - conversation analysis with Claude AI\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options] [file ...]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nExamples:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  %s -input ./exports\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "  %s -economical chat1.txt chat2.txt\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "  %s -retry-failed\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment variables can be set in .env file or exported directly.\n")
		_, _ = fmt.Fprintf(os.Stderr, "CLI arguments override environment variables.\n")
	}

	flag.Parse()
	opts.Files = flag.Args()

	return opts
}

// PrintUsage prints the command-line usage information
func PrintUsage() {
	flag.Usage()
}

// Config holds all application configuration
type Config struct {
	// Analysis Provider Selection
	AnalysisProvider string // "anthropic" (default) or "ollama"

	// Anthropic/Claude Settings (used when AnalysisProvider = "anthropic")
	AnthropicAPIKey string
	ClaudeModel     string

	// Ollama Settings (used when AnalysisProvider = "ollama")
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3.3:latest"

	// AI Settings
	AITimeoutSeconds int
	AIMaxTokens      int

	// Queue tuning
	EconomicalMode      bool
	BatchSize           int
	MaxRetries          int
	RetryDelay          time.Duration
	BatchDelay          time.Duration
	ThrottlePoll        time.Duration
	BackoffFloor        time.Duration
	BackoffMax          time.Duration
	CleanBatchThreshold int

	// Analysis business rules
	Channels            []string
	EquipmentCategories []string
	AnalysisRules       string // optional free-form additions to the prompt

	// Telegram completion report (optional)
	TelegramBotToken string
	TelegramChannel  int64

	// Application
	LogLevel     string
	DatabasePath string

	// Proxy
	HTTPProxy  string
	HTTPSProxy string
}

// Load loads configuration from .env file and environment variables
func Load() (*Config, error) {
	return LoadWithCLI(nil)
}

// LoadWithCLI loads configuration with CLI argument overrides
func LoadWithCLI(cli *CLIOptions) (*Config, error) {
	// Set up viper first to read OS environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Load .env file to override OS environment variables
	// godotenv.Load() sets OS env vars from .env, which viper will then read
	_ = godotenv.Load()

	setDefaults()

	config := &Config{
		AnalysisProvider: viper.GetString("ANALYSIS_PROVIDER"),
		AnthropicAPIKey:  viper.GetString("ANTHROPIC_API_KEY"),
		ClaudeModel:      viper.GetString("CLAUDE_MODEL"),
		OllamaBaseURL:    viper.GetString("OLLAMA_BASE_URL"),
		OllamaModel:      viper.GetString("OLLAMA_MODEL"),

		AITimeoutSeconds: viper.GetInt("AI_TIMEOUT_SECONDS"),
		AIMaxTokens:      viper.GetInt("AI_MAX_TOKENS"),

		EconomicalMode:      viper.GetBool("ECONOMICAL_MODE"),
		BatchSize:           viper.GetInt("BATCH_SIZE"),
		MaxRetries:          viper.GetInt("MAX_RETRIES"),
		RetryDelay:          time.Duration(viper.GetInt("RETRY_DELAY_MS")) * time.Millisecond,
		BatchDelay:          time.Duration(viper.GetInt("BATCH_DELAY_MS")) * time.Millisecond,
		ThrottlePoll:        time.Duration(viper.GetInt("THROTTLE_POLL_MS")) * time.Millisecond,
		BackoffFloor:        time.Duration(viper.GetInt("BACKOFF_FLOOR_MS")) * time.Millisecond,
		BackoffMax:          time.Duration(viper.GetInt("BACKOFF_MAX_MS")) * time.Millisecond,
		CleanBatchThreshold: viper.GetInt("CLEAN_BATCH_THRESHOLD"),

		Channels:            splitList(viper.GetString("ANALYSIS_CHANNELS")),
		EquipmentCategories: splitList(viper.GetString("EQUIPMENT_CATEGORIES")),
		AnalysisRules:       viper.GetString("ANALYSIS_RULES"),

		TelegramBotToken: viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChannel:  viper.GetInt64("TELEGRAM_CHANNEL_ID"),

		LogLevel:     viper.GetString("LOG_LEVEL"),
		DatabasePath: viper.GetString("DATABASE_PATH"),
		HTTPProxy:    viper.GetString("HTTP_PROXY"),
		HTTPSProxy:   viper.GetString("HTTPS_PROXY"),
	}

	// Apply CLI overrides (highest priority)
	if cli != nil && cli.Economical {
		config.EconomicalMode = true
	}

	// Economical mode tightens the batch ceiling and slows the cadence
	// unless explicitly overridden via env vars.
	if config.EconomicalMode {
		if !viper.IsSet("BATCH_SIZE") {
			config.BatchSize = 3
		}
		if !viper.IsSet("BATCH_DELAY_MS") {
			config.BatchDelay = 15 * time.Second
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("ANALYSIS_PROVIDER", "anthropic")
	viper.SetDefault("CLAUDE_MODEL", "claude-sonnet-4-5-20250929")
	viper.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	viper.SetDefault("OLLAMA_MODEL", "llama3.3:latest")

	viper.SetDefault("AI_TIMEOUT_SECONDS", 120)
	viper.SetDefault("AI_MAX_TOKENS", 2000)

	viper.SetDefault("ECONOMICAL_MODE", false)
	viper.SetDefault("BATCH_SIZE", 10)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY_MS", 2000)
	viper.SetDefault("BATCH_DELAY_MS", 5000)
	viper.SetDefault("THROTTLE_POLL_MS", 1000)
	viper.SetDefault("BACKOFF_FLOOR_MS", 5000)
	viper.SetDefault("BACKOFF_MAX_MS", 60000)
	viper.SetDefault("CLEAN_BATCH_THRESHOLD", 5)

	viper.SetDefault("ANALYSIS_CHANNELS", "whatsapp,instagram,facebook,website,phone,other")
	viper.SetDefault("EQUIPMENT_CATEGORIES", "excavator,loader,crane,compactor,generator,scaffolding,other")
	viper.SetDefault("ANALYSIS_RULES", "")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATABASE_PATH", "./data/conversations.db")
}

// splitList splits a comma-separated env value into trimmed entries.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}

	// Telegram is optional; if a token is set the channel must be valid too
	if c.TelegramBotToken != "" {
		telegramTokenRegex := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
		if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
		}
		if c.TelegramChannel == 0 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ID is required when TELEGRAM_BOT_TOKEN is set")
		}
	}

	if c.BatchSize < 1 || c.BatchSize > 50 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 50")
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES must be between 0 and 10")
	}
	if c.BackoffFloor <= 0 || c.BackoffMax < c.BackoffFloor {
		return fmt.Errorf("BACKOFF_FLOOR_MS must be positive and BACKOFF_MAX_MS must not be smaller")
	}
	if c.CleanBatchThreshold < 1 {
		return fmt.Errorf("CLEAN_BATCH_THRESHOLD must be at least 1")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("ANALYSIS_CHANNELS must list at least one channel")
	}
	if len(c.EquipmentCategories) == 0 {
		return fmt.Errorf("EQUIPMENT_CATEGORIES must list at least one category")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.AITimeoutSeconds < 30 || c.AITimeoutSeconds > 600 {
		return fmt.Errorf("AI_TIMEOUT_SECONDS must be between 30 and 600")
	}
	if c.AIMaxTokens < 500 || c.AIMaxTokens > 16000 {
		return fmt.Errorf("AI_MAX_TOKENS must be between 500 and 16000")
	}

	return nil
}

// constantTimePrefixMatch checks if s starts with prefix using constant-time
// comparison, so validation cannot leak information about the key content.
func constantTimePrefixMatch(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s[:len(prefix)]), []byte(prefix)) == 1
}

// validateProvider validates analysis provider configuration
func (c *Config) validateProvider() error {
	if !ai.IsValidProviderType(c.AnalysisProvider) {
		return fmt.Errorf("ANALYSIS_PROVIDER must be 'anthropic' or 'ollama' (got: %s)", c.AnalysisProvider)
	}

	switch ai.ProviderType(c.AnalysisProvider) {
	case ai.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when ANALYSIS_PROVIDER=anthropic")
		}
		if !constantTimePrefixMatch(c.AnthropicAPIKey, "sk-ant-") {
			return fmt.Errorf("ANTHROPIC_API_KEY must start with 'sk-ant-'")
		}
		if c.ClaudeModel == "" {
			return fmt.Errorf("CLAUDE_MODEL is required when ANALYSIS_PROVIDER=anthropic")
		}

	case ai.ProviderOllama:
		if c.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_MODEL is required when ANALYSIS_PROVIDER=ollama")
		}
		if !strings.HasPrefix(c.OllamaBaseURL, "http://") && !strings.HasPrefix(c.OllamaBaseURL, "https://") {
			return fmt.Errorf("OLLAMA_BASE_URL must start with 'http://' or 'https://'")
		}
	}

	return nil
}

// HasTelegram returns true if the Telegram completion report is configured
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.TelegramChannel != 0
}

// GetProxyURL returns the appropriate proxy URL for HTTP/HTTPS requests
func (c *Config) GetProxyURL(isHTTPS bool) string {
	if isHTTPS && c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return ""
}

// IsAnthropic returns true if the analysis provider is Anthropic
func (c *Config) IsAnthropic() bool {
	return ai.ProviderType(c.AnalysisProvider) == ai.ProviderAnthropic
}

// IsOllama returns true if the analysis provider is Ollama
func (c *Config) IsOllama() bool {
	return ai.ProviderType(c.AnalysisProvider) == ai.ProviderOllama
}
