// internal/scenario/resolver.go
package scenario

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/specrepo"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// StepFinder locates the specification block containing a step.
type StepFinder interface {
	FindStep(stepText, nameHint string) (*specrepo.Match, bool)
}

// Resolver builds scenario descriptors from the specification repository.
type Resolver struct {
	logger *zap.Logger
	finder StepFinder
}

// NewResolver creates a Resolver.
func NewResolver(logger *zap.Logger, finder StepFinder) *Resolver {
	return &Resolver{logger: logger.Named("scenario"), finder: finder}
}

// Resolve finds the scenario owning stepText. nameHint, typically the
// parser's scenario name, disambiguates between scenarios sharing the step;
// an outline example suffix on it is ignored. Reports false when the step is
// in no known specification file.
func (r *Resolver) Resolve(stepText, nameHint string) (desc *triage.ScenarioDescriptor, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("Recovered from panic while resolving scenario.", zap.Any("panic", rec))
			desc, ok = nil, false
		}
	}()

	step := triage.StripStepKeyword(stepText)
	if step == "" || r.finder == nil {
		return nil, false
	}

	m, found := r.finder.FindStep(step, specrepo.BaseScenarioName(strings.TrimSpace(nameHint)))
	if !found || m == nil || m.Document == nil || m.Block == nil {
		r.logger.Debug("Step not found in any specification file.", zap.String("step", step))
		return nil, false
	}
	return Describe(m.Document, m.Block), true
}

// Describe converts a parsed block into a ScenarioDescriptor.
func Describe(doc *specrepo.Document, b *specrepo.Block) *triage.ScenarioDescriptor {
	d := &triage.ScenarioDescriptor{
		FeatureName:     doc.FeatureName,
		ScenarioName:    b.Name,
		Steps:           renderSteps(b.Steps),
		Tags:            append([]string(nil), b.Tags...),
		BackgroundSteps: renderSteps(b.Background),
		ScenarioText:    doc.BlockText(b),
		IsOutline:       b.IsOutline,
		FilePath:        doc.Path,
		LineNumber:      b.HeaderLine,
		FileContent:     doc.Content,
	}
	if b.IsOutline {
		d.ExampleRows = append([]string(nil), b.ExampleRows...)
	}
	if len(d.Tags) == 0 {
		d.Tags = nil
	}
	return d
}

func renderSteps(steps []specrepo.Step) []string {
	if len(steps) == 0 {
		return nil
	}
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.String())
	}
	return out
}
