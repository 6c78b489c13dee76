package llm

import (
	"context"
	"time"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Completion is a raw provider response with token accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Config holds LLM provider configuration.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int

	// Cost per million tokens. Zero disables cost estimates.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}
