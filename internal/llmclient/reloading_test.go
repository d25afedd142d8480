package llmclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
)

type reloadFixture struct {
	cfg    atomic.Pointer[config.LLMConfig]
	builds []config.LLMConfig
	next   []*MockLLMClient
}

func (f *reloadFixture) set(cfg config.LLMConfig) { f.cfg.Store(&cfg) }

func (f *reloadFixture) current() config.LLMConfig { return *f.cfg.Load() }

func (f *reloadFixture) build(_ context.Context, cfg config.LLMConfig, _ *zap.Logger) (schemas.LLMClient, error) {
	f.builds = append(f.builds, cfg)
	if len(f.next) == 0 {
		return nil, errors.New("no client left")
	}
	c := f.next[0]
	f.next = f.next[1:]
	return c, nil
}

func TestReloadingClient(t *testing.T) {
	ctx := context.Background()
	req := schemas.GenerationRequest{UserPrompt: "why", Tier: schemas.TierFast}

	t.Run("no key until the configuration gains one", func(t *testing.T) {
		logger, _ := setupTestLogger(t)
		first := &MockLLMClient{Name: "first"}
		first.On("Generate", mock.Anything, req).Return(&schemas.GenerationResponse{Text: "ok"}, nil).Once()
		first.On("Close").Return(nil).Once()

		fx := &reloadFixture{next: []*MockLLMClient{first}}
		empty := getValidLLMConfig()
		empty.APIKey = ""
		fx.set(empty)
		client := NewReloadingClient(logger, fx.current, fx.build)

		_, err := client.Generate(ctx, req)
		assert.ErrorIs(t, err, schemas.ErrNoClient)
		assert.Empty(t, fx.builds, "nothing is built without a key")

		fx.set(getValidLLMConfig())
		resp, err := client.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text)
		require.Len(t, fx.builds, 1)
		assert.Equal(t, "test-api-key", fx.builds[0].APIKey)

		require.NoError(t, client.Close())
		first.AssertExpectations(t)
	})

	t.Run("reuses the client while the configuration is unchanged", func(t *testing.T) {
		logger, _ := setupTestLogger(t)
		only := &MockLLMClient{Name: "only"}
		only.On("Generate", mock.Anything, req).Return(&schemas.GenerationResponse{Text: "ok"}, nil).Twice()

		fx := &reloadFixture{next: []*MockLLMClient{only}}
		fx.set(getValidLLMConfig())
		client := NewReloadingClient(logger, fx.current, fx.build)

		require.NoError(t, client.Prepare(ctx))
		_, err := client.Generate(ctx, req)
		require.NoError(t, err)
		_, err = client.Generate(ctx, req)
		require.NoError(t, err)
		assert.Len(t, fx.builds, 1)
		only.AssertExpectations(t)
	})

	t.Run("rebuilds and closes the old client on change", func(t *testing.T) {
		logger, logs := setupTestLogger(t)
		old := &MockLLMClient{Name: "old"}
		old.On("Close").Return(nil).Once()
		fresh := &MockLLMClient{Name: "fresh"}
		fresh.On("Generate", mock.Anything, req).Return(&schemas.GenerationResponse{Text: "fresh"}, nil).Once()

		fx := &reloadFixture{next: []*MockLLMClient{old, fresh}}
		fx.set(getValidLLMConfig())
		client := NewReloadingClient(logger, fx.current, fx.build)
		require.NoError(t, client.Prepare(ctx))

		changed := getValidLLMConfig()
		changed.FastModel = "gemini-faster"
		fx.set(changed)

		resp, err := client.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "fresh", resp.Text)
		assert.Len(t, fx.builds, 2)
		assert.Equal(t, 1, logs.FilterMessage("LLM configuration changed; client rebuilt.").Len())
		old.AssertExpectations(t)
		fresh.AssertExpectations(t)
	})

	t.Run("build failures are returned", func(t *testing.T) {
		logger, _ := setupTestLogger(t)
		fx := &reloadFixture{}
		fx.set(getValidLLMConfig())
		client := NewReloadingClient(logger, fx.current, fx.build)

		err := client.Prepare(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create LLM client")
		assert.NoError(t, client.Close())
	})
}
