package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
)

// MockLLMClient is a mock implementation of schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
	Name string
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*schemas.GenerationResponse)
	return resp, args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:      config.ProviderGemini,
		APIKey:        "test-api-key",
		FastModel:     "gemini-fast",
		PowerfulModel: "gemini-pro",
		APITimeout:    5 * time.Second,
		Temperature:   0.2,
		TopP:          0.9,
		TopK:          40,
		MaxTokens:     1024,
		MaxRetries:    2,
	}
}
