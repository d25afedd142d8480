package schemas

import (
	"context"
	"errors"
)

// ModelTier selects a model by preference for speed versus capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls sampling for a single request. Zero values mean
// "use the client's configured default".
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	MaxTokens       int     `json:"max_tokens"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest is a complete request to a language model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// GenerationResponse carries the generated text and where it came from.
type GenerationResponse struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// LLMClient abstracts a language model provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
	// Close releases any resources held by the client.
	Close() error
}

var (
	// ErrEmptyResponse is returned when the model produced no usable text.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrNoClient is returned when no client is registered for a tier.
	ErrNoClient = errors.New("no language model client for tier")
)
