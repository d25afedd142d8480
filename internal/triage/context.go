// internal/triage/context.go
package triage

import (
	"strings"
	"time"
)

// FailureContext is the immutable record of everything known about one scenario
// failure. It is only constructed through a Builder.
type FailureContext struct {
	runID         string
	testName      string
	scenarioName  string
	failedStep    string
	stackTrace    string
	sourceFile    string
	sourceLine    int
	exampleID     string
	stepDef       *StepDefinitionDescriptor
	scenario      *ScenarioDescriptor
	expected      string
	actual        string
	errorMessage  string
	parseDuration time.Duration
}

func (f *FailureContext) RunID() string                { return f.runID }
func (f *FailureContext) TestName() string             { return f.testName }
func (f *FailureContext) ScenarioName() string         { return f.scenarioName }
func (f *FailureContext) FailedStep() string           { return f.failedStep }
func (f *FailureContext) StackTrace() string           { return f.stackTrace }
func (f *FailureContext) SourceFile() string           { return f.sourceFile }
func (f *FailureContext) SourceLine() int              { return f.sourceLine }
func (f *FailureContext) ExampleID() string            { return f.exampleID }
func (f *FailureContext) Expected() string             { return f.expected }
func (f *FailureContext) Actual() string               { return f.actual }
func (f *FailureContext) ErrorMessage() string         { return f.errorMessage }
func (f *FailureContext) ParseDuration() time.Duration { return f.parseDuration }

// StepDefinition returns a copy of the resolved step definition, or nil.
func (f *FailureContext) StepDefinition() *StepDefinitionDescriptor { return f.stepDef.clone() }

// Scenario returns a copy of the resolved scenario, or nil.
func (f *FailureContext) Scenario() *ScenarioDescriptor { return f.scenario.clone() }

// HasAssertionDetail reports whether expected or actual values were extracted.
func (f *FailureContext) HasAssertionDetail() bool {
	return f.expected != "" || f.actual != ""
}

// ToBuilder returns a Builder seeded with every field of f. The receiver is not
// affected by anything done to the returned builder.
func (f *FailureContext) ToBuilder() *Builder {
	return &Builder{ctx: FailureContext{
		runID:         f.runID,
		testName:      f.testName,
		scenarioName:  f.scenarioName,
		failedStep:    f.failedStep,
		stackTrace:    f.stackTrace,
		sourceFile:    f.sourceFile,
		sourceLine:    f.sourceLine,
		exampleID:     f.exampleID,
		stepDef:       f.stepDef.clone(),
		scenario:      f.scenario.clone(),
		expected:      f.expected,
		actual:        f.actual,
		errorMessage:  f.errorMessage,
		parseDuration: f.parseDuration,
	}}
}

// Builder assembles a FailureContext. A Builder must not be shared between goroutines.
type Builder struct {
	ctx FailureContext
}

// NewBuilder returns a Builder with the source line set to UnknownLine.
func NewBuilder() *Builder {
	return &Builder{ctx: FailureContext{sourceLine: UnknownLine}}
}

func (b *Builder) RunID(id string) *Builder          { b.ctx.runID = id; return b }
func (b *Builder) TestName(name string) *Builder     { b.ctx.testName = name; return b }
func (b *Builder) ScenarioName(name string) *Builder { b.ctx.scenarioName = name; return b }
func (b *Builder) FailedStep(step string) *Builder   { b.ctx.failedStep = step; return b }
func (b *Builder) StackTrace(trace string) *Builder  { b.ctx.stackTrace = trace; return b }
func (b *Builder) SourceFile(path string) *Builder   { b.ctx.sourceFile = path; return b }
func (b *Builder) SourceLine(line int) *Builder      { b.ctx.sourceLine = line; return b }
func (b *Builder) ExampleID(id string) *Builder      { b.ctx.exampleID = id; return b }
func (b *Builder) Expected(v string) *Builder        { b.ctx.expected = v; return b }
func (b *Builder) Actual(v string) *Builder          { b.ctx.actual = v; return b }
func (b *Builder) ErrorMessage(msg string) *Builder  { b.ctx.errorMessage = msg; return b }
func (b *Builder) ParseDuration(d time.Duration) *Builder {
	b.ctx.parseDuration = d
	return b
}

func (b *Builder) StepDefinition(d *StepDefinitionDescriptor) *Builder {
	b.ctx.stepDef = d.clone()
	return b
}

func (b *Builder) Scenario(d *ScenarioDescriptor) *Builder {
	b.ctx.scenario = d.clone()
	return b
}

// Build returns the finished context. The scenario name is never empty in the result.
func (b *Builder) Build() *FailureContext {
	out := b.ctx
	out.stepDef = b.ctx.stepDef.clone()
	out.scenario = b.ctx.scenario.clone()
	if strings.TrimSpace(out.scenarioName) == "" {
		out.scenarioName = SyntheticScenarioName(out.failedStep)
	}
	return &out
}

// maxSyntheticNameLen bounds the step text used to fabricate a scenario name.
const maxSyntheticNameLen = 50

// SyntheticScenarioName derives a display name from step text when no real scenario
// name is known.
func SyntheticScenarioName(step string) string {
	step = strings.TrimSpace(step)
	if step == "" {
		return UnknownScenario
	}
	runes := []rune(step)
	if len(runes) > maxSyntheticNameLen {
		runes = runes[:maxSyntheticNameLen]
	}
	return string(runes) + "..."
}
