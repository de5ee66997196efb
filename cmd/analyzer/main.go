package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/ai"
	"github.com/olegiv/chatlog-ai-go/internal/config"
	"github.com/olegiv/chatlog-ai-go/internal/ingest"
	"github.com/olegiv/chatlog-ai-go/internal/logging"
	"github.com/olegiv/chatlog-ai-go/internal/notification"
	"github.com/olegiv/chatlog-ai-go/internal/queue"
	"github.com/olegiv/chatlog-ai-go/internal/storage"
	"github.com/olegiv/chatlog-ai-go/pkg/logger"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse CLI arguments first
	cli := config.ParseCLI()

	if cli.ShowHelp {
		config.PrintUsage()
		return exitSuccess
	}

	if cli.ShowVersion {
		fmt.Printf("chatlog-analyzer %s\n", version)
		if gitCommit != "unknown" {
			fmt.Printf("  commit: %s\n", gitCommit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
		return exitSuccess
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Load configuration with CLI overrides
	cfg, err := config.LoadWithCLI(cli)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	// Initialize logger with credential sanitization
	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     "./logs",
		Filename:   "chatlog-analyzer.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	})
	log := logging.NewSecure(baseLog)
	defer func() {
		if err := log.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	log.Info().
		Str("provider", cfg.AnalysisProvider).
		Bool("economical", cfg.EconomicalMode).
		Msg("Starting Chatlog AI Analyzer")

	if err := runAnalyzer(ctx, cfg, cli, log); err != nil {
		log.Error().Err(err).Msg("Analyzer run failed")
		return exitFailure
	}

	log.Info().Msg("Analyzer run completed")
	return exitSuccess
}

func runAnalyzer(ctx context.Context, cfg *config.Config, cli *config.CLIOptions, log *logging.SecureLogger) error {
	startTime := time.Now()

	// 1. Initialize storage
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func(store *storage.Storage) {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}(store)
	log.Info().Str("path", cfg.DatabasePath).Msg("Database initialized")

	// Records left in-flight by a previous interrupted run go back to pending
	requeued, err := store.RequeueInFlight()
	if err != nil {
		return fmt.Errorf("failed to requeue in-flight records: %w", err)
	}
	if requeued > 0 {
		log.Info().Int64("count", requeued).Msg("Requeued in-flight conversations from previous run")
	}

	if cli.RetryFailed {
		reset, err := store.ResetFailed()
		if err != nil {
			return fmt.Errorf("failed to reset failed records: %w", err)
		}
		log.Info().Int64("count", reset).Msg("Reset failed conversations to pending")
	}

	// 2. Ingest new exports
	ingestor := ingest.NewIngestor(store, log)
	files, err := collectInputFiles(cli)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		added, errs := ingestor.IngestFiles(files)
		for _, ierr := range errs {
			log.Warn().Err(ierr).Msg("Ingestion error")
		}
		log.Info().
			Int("files", len(files)).
			Int("added", added).
			Msg("Ingestion completed")
	}

	// 3. Initialize the analysis provider
	provider, err := createProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create analysis provider: %w", err)
	}
	log.Info().Str("provider", provider.GetProviderName()).Msg("Analysis provider initialized")

	// 4. Initialize Telegram client (optional)
	var telegramClient *notification.TelegramClient
	if cfg.HasTelegram() {
		telegramClient, err = notification.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramChannel)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		defer func(telegramClient *notification.TelegramClient) {
			if err := telegramClient.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close Telegram client")
			}
		}(telegramClient)

		botInfo := telegramClient.GetBotInfo()
		log.Info().
			Str("username", botInfo["username"].(string)).
			Msg("Telegram bot initialized")
	}

	// 5. Run the analysis queue
	limiter := queue.NewRateLimitController(cfg.BackoffFloor, cfg.BackoffMax)
	defer limiter.Stop()

	scheduler := queue.NewScheduler(store, provider, limiter, log, queue.Config{
		BatchSize:           cfg.BatchSize,
		MaxRetries:          cfg.MaxRetries,
		RetryDelay:          cfg.RetryDelay,
		BatchDelay:          cfg.BatchDelay,
		PollInterval:        cfg.ThrottlePoll,
		CleanBatchThreshold: cfg.CleanBatchThreshold,
	})

	unsubscribe := scheduler.Subscribe(func(stats queue.QueueStats) {
		log.Info().
			Int("total", stats.Total).
			Int("processed", stats.Processed).
			Int("failed", stats.Failed).
			Int("pending", stats.Pending).
			Msg("Queue progress")
	})
	defer unsubscribe()

	rules := ai.Rules{
		Channels:            cfg.Channels,
		EquipmentCategories: cfg.EquipmentCategories,
		Instructions:        cfg.AnalysisRules,
	}

	scheduler.Run(ctx, rules)

	stats := scheduler.ComputeStats()
	duration := time.Since(startTime)

	log.Info().
		Int("total", stats.Total).
		Int("processed", stats.Processed).
		Int("failed", stats.Failed).
		Dur("duration", duration).
		Msg("Queue drained")

	if telegramClient != nil {
		if err := telegramClient.SendCompletionReport(stats, duration); err != nil {
			log.Warn().Err(err).Msg("Failed to send Telegram completion report")
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}

	return nil
}

// createProvider creates the configured analysis provider
func createProvider(cfg *config.Config) (ai.Provider, error) {
	switch {
	case cfg.IsAnthropic():
		proxyURL := cfg.GetProxyURL(true) // HTTPS proxy for API calls
		return ai.NewClient(cfg.AnthropicAPIKey, cfg.ClaudeModel, proxyURL, cfg.AITimeoutSeconds, cfg.AIMaxTokens)

	case cfg.IsOllama():
		return ai.NewOllamaClient(ai.OllamaConfig{
			BaseURL:        cfg.OllamaBaseURL,
			Model:          cfg.OllamaModel,
			TimeoutSeconds: cfg.AITimeoutSeconds,
			MaxTokens:      cfg.AIMaxTokens,
		})

	default:
		return nil, fmt.Errorf("unsupported analysis provider: %s", cfg.AnalysisProvider)
	}
}

// collectInputFiles gathers export files from -input dir and positional args
func collectInputFiles(cli *config.CLIOptions) ([]string, error) {
	var files []string

	if cli.InputDir != "" {
		entries, err := os.ReadDir(cli.InputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read input directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			files = append(files, filepath.Join(cli.InputDir, entry.Name()))
		}
	}

	files = append(files, cli.Files...)
	return files, nil
}
