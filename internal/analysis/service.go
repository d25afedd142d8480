// internal/analysis/service.go
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// Analysis modes.
const (
	ModeQuick    = "quick"
	ModeDetailed = "detailed"
	ModeFix      = "fix"
)

// ErrUnknownMode is returned for a mode other than quick, detailed or fix.
var ErrUnknownMode = errors.New("unknown analysis mode")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// modeSettings selects the model tier and sampling for each mode.
var modeSettings = map[string]struct {
	tier    schemas.ModelTier
	options schemas.GenerationOptions
}{
	ModeQuick:    {schemas.TierFast, schemas.GenerationOptions{Temperature: 0.2, MaxTokens: 1024}},
	ModeDetailed: {schemas.TierPowerful, schemas.GenerationOptions{Temperature: 0.2}},
	ModeFix:      {schemas.TierPowerful, schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true}},
}

// FixProposal is the structured answer requested in fix mode.
type FixProposal struct {
	Explanation string  `json:"explanation"`
	RootCause   string  `json:"root_cause"`
	Confidence  float64 `json:"confidence"`
	Patch       string  `json:"patch"`
}

// Service implements triage.AnalysisService on top of a language model.
type Service struct {
	logger *zap.Logger
	llm    schemas.LLMClient
	now    func() time.Time
}

// NewService creates a Service.
func NewService(logger *zap.Logger, llm schemas.LLMClient) *Service {
	return &Service{
		logger: logger.Named("analysis"),
		llm:    llm,
		now:    time.Now,
	}
}

// Analyze asks the model to explain the failure in fc.
func (s *Service) Analyze(ctx context.Context, fc *triage.FailureContext, mode string) (*triage.AnalysisResult, error) {
	if fc == nil {
		return nil, fmt.Errorf("analysis requires a failure context")
	}
	if s.llm == nil {
		return nil, schemas.ErrNoClient
	}
	settings, ok := modeSettings[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	start := s.now()
	s.logger.Info("Requesting failure analysis.",
		zap.String("scenario", fc.ScenarioName()),
		zap.String("mode", mode),
		zap.String("tier", string(settings.tier)))

	resp, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt(mode),
		UserPrompt:   BuildPrompt(fc, mode),
		Tier:         settings.tier,
		Options:      settings.options,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, schemas.ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Text)
	if mode == ModeFix {
		proposal, err := parseFixProposal(text)
		if err != nil {
			s.logger.Warn("Fix response was not valid JSON; showing it verbatim.", zap.Error(err))
		} else {
			text = proposal.Markdown()
		}
	}

	return &triage.AnalysisResult{
		Text:           text,
		Service:        resp.Provider,
		Model:          resp.Model,
		Timestamp:      s.now(),
		ProcessingTime: s.now().Sub(start),
		RunID:          fc.RunID(),
	}, nil
}

// parseFixProposal extracts the JSON proposal, tolerating a markdown fence
// around it.
func parseFixProposal(response string) (*FixProposal, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	var p FixProposal
	if err := json.Unmarshal([]byte(response), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fix proposal: %w", err)
	}
	if p.Explanation == "" || p.RootCause == "" {
		return nil, fmt.Errorf("fix proposal is missing required fields (explanation or root_cause)")
	}
	switch {
	case p.Confidence < 0:
		p.Confidence = 0
	case p.Confidence > 1:
		p.Confidence = 1
	}
	p.Patch = strings.TrimSpace(p.Patch)
	return &p, nil
}

// Markdown renders the proposal for display.
func (p *FixProposal) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Root cause\n\n%s\n\n", p.RootCause)
	fmt.Fprintf(&b, "## Explanation\n\n%s\n\n", p.Explanation)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", p.Confidence*100)
	if p.Patch != "" {
		fmt.Fprintf(&b, "\n## Suggested patch\n\n```diff\n%s\n```\n", p.Patch)
	}
	return b.String()
}
