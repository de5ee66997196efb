package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
)

// OllamaClient wraps the Ollama REST API for local inference
type OllamaClient struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	BaseURL        string // e.g., "http://localhost:11434"
	Model          string // e.g., "llama3.3:latest"
	TimeoutSeconds int    // Request timeout
	MaxTokens      int    // Max tokens in response
}

// ollamaChatRequest is the request body for Ollama's /api/chat endpoint
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
	Format   string          `json:"format,omitempty"`
}

// ollamaMessage represents a chat message
type ollamaMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ollamaOptions contains model parameters
type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens to generate
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

// ollamaChatResponse is the response from Ollama's /api/chat endpoint
type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt time.Time     `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}

	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300 // large local models can be slow to first token
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	return &OllamaClient{
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}, nil
}

// Analyze performs one analysis attempt for a conversation using Ollama.
// Like the Anthropic client, it makes a single call and leaves retry policy
// to the queue scheduler.
func (c *OllamaClient) Analyze(ctx context.Context, msgs []chatlog.Message, rules Rules) (*Analysis, error) {
	request := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: GetSystemPrompt(rules)},
			{Role: "user", Content: GetUserPrompt(msgs)},
		},
		Stream: false,
		Options: ollamaOptions{
			NumPredict:  c.maxTokens,
			Temperature: 0.1, // Low temperature for consistent, factual output
			TopP:        0.9,
		},
		Format: "json", // Request JSON output format
	}

	response, err := doJSONPost[ollamaChatResponse](ctx, c.httpClient, c.baseURL+"/api/chat", request)
	if err != nil {
		return nil, err
	}

	if !response.Done {
		return nil, fmt.Errorf("incomplete response from Ollama")
	}

	responseText := response.Message.Content
	if responseText == "" {
		return nil, fmt.Errorf("%w: empty response from Ollama", ErrMalformedResponse)
	}

	analysis, err := ParseAnalysis(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}

	return analysis, nil
}

// GetProviderName returns the name of the provider
func (c *OllamaClient) GetProviderName() string {
	return "Ollama"
}

// Ensure OllamaClient implements Provider interface
var _ Provider = (*OllamaClient)(nil)
