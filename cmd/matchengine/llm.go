package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/buildledger/matchengine/internal/common"
	"github.com/buildledger/matchengine/internal/llm"
)

// createSemanticMatcher builds the external matcher from configuration.
// Returns nil when no provider is configured, which disables the tier.
func createSemanticMatcher() (*llm.Matcher, error) {
	provider := viper.GetString("llm.provider")
	if provider == "" {
		return nil, nil
	}

	cfg := llm.Config{
		Provider:          provider,
		Model:             viper.GetString("llm.model"),
		Temperature:       viper.GetFloat64("llm.temperature"),
		MaxTokens:         viper.GetInt("llm.max_tokens"),
		MaxRetries:        viper.GetInt("llm.max_retries"),
		RetryDelay:        viper.GetDuration("llm.retry_delay"),
		RateLimit:         viper.GetInt("llm.rate_limit"),
		InputCostPerMTok:  viper.GetFloat64("llm.input_cost_per_mtok"),
		OutputCostPerMTok: viper.GetFloat64("llm.output_cost_per_mtok"),
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 60
	}

	switch provider {
	case "openai":
		apiKey := viper.GetString("llm.openai_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key not found in config or OPENAI_API_KEY environment variable", common.ErrMissingConfig)
		}
		cfg.APIKey = apiKey

	case "anthropic":
		apiKey := viper.GetString("llm.anthropic_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: anthropic API key not found in config or ANTHROPIC_API_KEY environment variable", common.ErrMissingConfig)
		}
		cfg.APIKey = apiKey

	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %s", common.ErrInvalidConfig, provider)
	}

	matcher, err := llm.NewMatcher(cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create semantic matcher: %w", err)
	}
	return matcher, nil
}
