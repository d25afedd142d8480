package llmclient

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
)

// Factory builds a client from one configuration snapshot.
type Factory func(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error)

// ReloadingClient implements schemas.LLMClient over whatever configuration is
// current when a request is made. The underlying client is built on first use
// and rebuilt whenever the configuration it was built from changes.
type ReloadingClient struct {
	logger  *zap.Logger
	current func() config.LLMConfig
	build   Factory

	mu     sync.Mutex
	cfg    config.LLMConfig
	client schemas.LLMClient
}

// NewReloadingClient creates a client that reads its configuration from current.
func NewReloadingClient(logger *zap.Logger, current func() config.LLMConfig, build Factory) *ReloadingClient {
	return &ReloadingClient{
		logger:  logger.Named("llm_reload"),
		current: current,
		build:   build,
	}
}

// Prepare builds the client for the current configuration so that a bad
// configuration is reported before the first request.
func (c *ReloadingClient) Prepare(ctx context.Context) error {
	_, err := c.clientFor(ctx, c.current())
	return err
}

// Generate implements schemas.LLMClient.
func (c *ReloadingClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	client, err := c.clientFor(ctx, c.current())
	if err != nil {
		return nil, err
	}
	return client.Generate(ctx, req)
}

func (c *ReloadingClient) clientFor(ctx context.Context, cfg config.LLMConfig) (schemas.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", schemas.ErrNoClient)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.cfg == cfg {
		return c.client, nil
	}

	client, err := c.build(ctx, cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	if client == nil {
		return nil, schemas.ErrNoClient
	}

	// The previous client is closed once its replacement exists.
	if old := c.client; old != nil {
		c.logger.Info("LLM configuration changed; client rebuilt.",
			zap.String("fast_model", cfg.FastModel), zap.String("powerful_model", cfg.PowerfulModel))
		if err := old.Close(); err != nil {
			c.logger.Warn("Failed to close previous LLM client.", zap.Error(err))
		}
	}
	c.cfg, c.client = cfg, client
	return client, nil
}

// Close closes the current underlying client, if one was built.
func (c *ReloadingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
