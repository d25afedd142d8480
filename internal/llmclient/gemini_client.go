// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
)

const providerGemini = "gemini"

// generateFunc is the subset of the genai models service the client needs.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiClient implements schemas.LLMClient for one Gemini model.
type GeminiClient struct {
	logger         *zap.Logger
	config         config.LLMConfig
	model          string
	generate       generateFunc
	limiter        *rate.Limiter
	backoffFactory func() backoff.BackOff
}

// NewGenAIClient creates the SDK client shared by every model tier.
func NewGenAIClient(ctx context.Context, cfg config.LLMConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set %s)", config.APIKeyEnv)
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// NewGeminiClient binds client to model. The limiter may be shared between
// tiers so that they draw from one request budget.
func NewGeminiClient(client *genai.Client, model string, cfg config.LLMConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiClient, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	return newGeminiClient(client.Models.GenerateContent, model, cfg, limiter, logger)
}

func newGeminiClient(generate generateFunc, model string, cfg config.LLMConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if limiter == nil {
		limiter = NewLimiter(cfg.RequestsPerMinute)
	}
	return &GeminiClient{
		logger:   logger.Named("gemini").With(zap.String("model", model)),
		config:   cfg,
		model:    model,
		generate: generate,
		limiter:  limiter,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 20 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}, nil
}

// NewLimiter converts a per-minute budget into a limiter. Zero means unlimited.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
}

// Model returns the bound model name.
func (c *GeminiClient) Model() string { return c.model }

// Generate sends the prompts to Gemini, retrying transient failures.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	genCfg := c.buildConfig(req)

	retries := c.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.WithContext(c.backoffFactory(), ctx), uint64(retries))

	var text string
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
		}

		callCtx := ctx
		if c.config.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.generate(callCtx, c.model, contents, genCfg)
		if err != nil {
			return c.classify(ctx, err, attempt)
		}

		out, err := extractText(resp)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start)), zap.Int("attempt", attempt)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount))
		}
		c.logger.Info("LLM generation complete.", fields...)
		text = out
		return nil
	}

	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return &schemas.GenerationResponse{Text: text, Provider: providerGemini, Model: c.model}, nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := c.config.Temperature
	if req.Options.Temperature > 0 {
		temperature = float32(req.Options.Temperature)
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	topP := c.config.TopP
	if req.Options.TopP > 0 {
		topP = float32(req.Options.TopP)
	}
	if topP > 0 {
		cfg.TopP = genai.Ptr(topP)
	}

	topK := c.config.TopK
	if req.Options.TopK > 0 {
		topK = req.Options.TopK
	}
	if topK > 0 {
		cfg.TopK = genai.Ptr(float32(topK))
	}

	maxTokens := c.config.MaxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// classify marks errors that retrying cannot fix as permanent.
// A per-attempt timeout is retried; cancellation of ctx is not.
func (c *GeminiClient) classify(ctx context.Context, err error, attempt int) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}

	if apiErr, ok := asAPIError(err); ok {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			c.logger.Warn("Transient Gemini API error, retrying.", zap.Int("status", apiErr.Code), zap.Int("attempt", attempt))
			return fmt.Errorf("gemini API error %d: %w", apiErr.Code, err)
		default:
			c.logger.Error("Gemini API rejected the request.", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return backoff.Permanent(fmt.Errorf("gemini API error %d: %w", apiErr.Code, err))
		}
	}

	c.logger.Warn("Network error during LLM request, retrying.", zap.Int("attempt", attempt), zap.Error(err))
	return fmt.Errorf("gemini request failed: %w", err)
}

func asAPIError(err error) (genai.APIError, bool) {
	var byValue genai.APIError
	if errors.As(err, &byValue) {
		return byValue, true
	}
	var byPointer *genai.APIError
	if errors.As(err, &byPointer) && byPointer != nil {
		return *byPointer, true
	}
	return genai.APIError{}, false
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini returned no candidates: %w", schemas.ErrEmptyResponse))
	}
	switch reason := resp.Candidates[0].FinishReason; reason {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return "", backoff.Permanent(fmt.Errorf("gemini blocked the response (reason: %s)", reason))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty content (reason: %s): %w", resp.Candidates[0].FinishReason, schemas.ErrEmptyResponse)
	}
	return text, nil
}

// Close implements schemas.LLMClient. The SDK client holds no resources that
// need releasing.
func (c *GeminiClient) Close() error { return nil }
