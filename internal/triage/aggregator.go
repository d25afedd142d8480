// internal/triage/aggregator.go
package triage

import (
	"strings"

	"go.uber.org/zap"
)

// Aggregator combines the parser's draft context with the optional resolver
// outputs into the final FailureContext.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger.Named("aggregator")}
}

// Aggregate builds the final context. The scenario resolver's name is
// authoritative when present; otherwise the parser's name is kept. An outline
// example identifier is appended exactly once.
func (a *Aggregator) Aggregate(parsed *FailureContext, stepDef *StepDefinitionDescriptor, scenario *ScenarioDescriptor) *FailureContext {
	var b *Builder
	if parsed == nil {
		b = NewBuilder()
	} else {
		b = parsed.ToBuilder()
	}

	name := ""
	if parsed != nil {
		name = parsed.ScenarioName()
	}
	if scenario != nil && strings.TrimSpace(scenario.ScenarioName) != "" {
		if name != "" && name != scenario.ScenarioName {
			a.logger.Debug("Scenario resolver name overrides parsed name.",
				zap.String("parsed", name), zap.String("resolved", scenario.ScenarioName))
		}
		name = strings.TrimSpace(scenario.ScenarioName)
	}

	if parsed != nil {
		name = WithExampleSuffix(name, parsed.ExampleID())
	}

	return b.ScenarioName(name).
		StepDefinition(stepDef).
		Scenario(scenario).
		Build()
}

// WithExampleSuffix appends " (<exampleID>)" to name unless it is already there
// or name is the example identifier itself.
func WithExampleSuffix(name, exampleID string) string {
	name = strings.TrimSpace(name)
	suffix := " (" + exampleID + ")"
	switch {
	case exampleID == "":
		return name
	case name == "":
		return exampleID
	case name == exampleID, strings.HasSuffix(name, suffix):
		return name
	}
	return name + suffix
}
