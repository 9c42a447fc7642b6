package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/nag/internal/config"
)

// New builds the configured provider gateway with timeout and retry
// applied. Observers wrap the retried gateway so each logical call is
// reported once.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger, observers ...Observer) (Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var g Gateway
	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = NewOpenAI(OpenAIOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
		}, logger)
	case config.ProviderGemini:
		gem, err := NewGemini(ctx, GeminiOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, err
		}
		g = gem
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	g = WithTimeout(g, cfg.Timeout())
	g = WithRetry(g, cfg.Retries, 2*time.Second, logger)
	return Observe(g, cfg.Provider, observers...), nil
}
