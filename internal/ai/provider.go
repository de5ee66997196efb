package ai

import (
	"context"

	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
)

// Provider performs one conversation's analysis call against an external
// text-analysis service.
type Provider interface {
	// Analyze submits a conversation's messages plus the business rules and
	// returns the structured result, or an error classifiable via Classify.
	Analyze(ctx context.Context, msgs []chatlog.Message, rules Rules) (*Analysis, error)

	// GetProviderName returns the name of the provider (e.g., "Anthropic", "Ollama")
	GetProviderName() string
}

// ProviderType represents the type of analysis provider
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
)

// IsValidProviderType checks if the given provider type is valid
func IsValidProviderType(pt string) bool {
	return pt == string(ProviderAnthropic) || pt == string(ProviderOllama)
}

// Rules carries the business taxonomy injected into the analysis prompt.
type Rules struct {
	Channels            []string
	EquipmentCategories []string
	Instructions        string // optional free-form additions
}
