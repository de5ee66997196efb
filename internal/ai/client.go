package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
	internalerrors "github.com/olegiv/chatlog-ai-go/internal/errors"
)

// Client wraps the Anthropic API client
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClient creates a new Claude analysis client.
// timeoutSeconds and maxTokens are configurable.
func NewClient(apiKey, model, proxyURL string, timeoutSeconds, maxTokens int) (*Client, error) {
	var httpClient *http.Client
	timeout := time.Duration(timeoutSeconds) * time.Second

	// Configure proxy if provided
	if proxyURL != "" {
		proxyURLParsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		if proxyURLParsed.Scheme != "http" && proxyURLParsed.Scheme != "https" {
			return nil, fmt.Errorf("proxy URL must use http or https scheme, got: %s", proxyURLParsed.Scheme)
		}

		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURLParsed),
			},
			Timeout: timeout,
		}
	} else {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	client := anthropic.NewClient(
		apiKey,
		anthropic.WithHTTPClient(httpClient),
	)

	return &Client{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Analyze performs one analysis attempt for a conversation. It makes exactly
// one API call: retry and backoff policy belong to the queue scheduler, which
// classifies the returned error via Classify.
func (c *Client) Analyze(ctx context.Context, msgs []chatlog.Message, rules Rules) (*Analysis, error) {
	request := anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(GetUserPrompt(msgs)),
				},
			},
		},
		System:    GetSystemPrompt(rules),
		MaxTokens: c.maxTokens,
	}

	response, err := c.client.CreateMessages(ctx, request)
	if err != nil {
		// Sanitize error to prevent credentials from appearing in error messages
		return nil, internalerrors.Wrapf(err, "API call failed")
	}

	if len(response.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response from Claude", ErrMalformedResponse)
	}

	responseText := ""
	for _, content := range response.Content {
		if content.Type == "text" && content.Text != nil {
			responseText += *content.Text
		}
	}

	analysis, err := ParseAnalysis(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}

	return analysis, nil
}

// GetProviderName returns the name of the provider
func (c *Client) GetProviderName() string {
	return "Anthropic"
}

// Ensure Client implements Provider interface
var _ Provider = (*Client)(nil)
