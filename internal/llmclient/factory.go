package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
)

// NewClient builds the tiered client for the configured provider. Both tiers
// share one SDK client and one rate limiter.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		sdk, err := NewGenAIClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		limiter := NewLimiter(cfg.RequestsPerMinute)
		fast, err := NewGeminiClient(sdk, cfg.FastModel, cfg, limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		powerful, err := NewGeminiClient(sdk, cfg.PowerfulModel, cfg, limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
		return NewLLMRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
