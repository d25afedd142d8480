// internal/pipeline/listener.go
package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/bddtriage/internal/events"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// Classifier gates entry into the pipeline.
type Classifier interface {
	IsInScope(test triage.TestHandle) bool
}

// Parser extracts the draft context from a failed test.
type Parser interface {
	Parse(test triage.TestHandle) *triage.FailureContext
}

// StepDefinitionResolver maps a stack trace to the executing step method.
type StepDefinitionResolver interface {
	Resolve(trace string) (*triage.StepDefinitionDescriptor, bool)
}

// ScenarioResolver maps step text to its scenario block.
type ScenarioResolver interface {
	Resolve(stepText, nameHint string) (*triage.ScenarioDescriptor, bool)
}

// Dispatcher is the orchestrator side of the pipeline.
type Dispatcher interface {
	OnRunStarted(runID string)
	HandleFailure(fc *triage.FailureContext, mode string) triage.Decision
}

// Recorder receives pipeline measurements.
type Recorder interface {
	FailureSeen(inScope bool)
	Parsed(d time.Duration)
	Resolved(resolver string, found bool)
}

type nopRecorder struct{}

func (nopRecorder) FailureSeen(bool)      {}
func (nopRecorder) Parsed(time.Duration)  {}
func (nopRecorder) Resolved(string, bool) {}

// Components bundles the stages of the pipeline.
type Components struct {
	Classifier Classifier
	Parser     Parser
	StepDefs   StepDefinitionResolver
	Scenarios  ScenarioResolver
	Aggregator *triage.Aggregator
	Dispatcher Dispatcher
	Settings   triage.SettingsProvider
	Recorder   Recorder
}

// FailureListener runs every failed test from the host through
// classification, extraction, resolution and aggregation, then hands the
// result to the orchestrator. Extraction runs synchronously on the caller's
// goroutine.
type FailureListener struct {
	logger *zap.Logger
	c      Components

	mu       sync.Mutex
	runID    string
	failures int
	last     *triage.FailureContext
}

// NewFailureListener creates a listener. A nil Recorder disables measurements.
func NewFailureListener(logger *zap.Logger, c Components) *FailureListener {
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Aggregator == nil {
		c.Aggregator = triage.NewAggregator(logger)
	}
	return &FailureListener{logger: logger.Named("pipeline"), c: c}
}

// OnRunStarted implements events.Listener.
func (l *FailureListener) OnRunStarted(runID string) {
	l.mu.Lock()
	l.runID = runID
	l.failures = 0
	l.mu.Unlock()
	l.c.Dispatcher.OnRunStarted(runID)
}

// OnRunFinished implements events.Listener.
func (l *FailureListener) OnRunFinished(runID string) {
	l.mu.Lock()
	failures := l.failures
	l.mu.Unlock()
	l.logger.Info("Test run finished.", zap.String("run_id", runID), zap.Int("in_scope_failures", failures))
}

// OnTestFailed implements events.Listener.
func (l *FailureListener) OnTestFailed(test triage.TestHandle) {
	fc, ok := l.Extract(test)
	if !ok {
		return
	}
	decision := l.c.Dispatcher.HandleFailure(fc, l.c.Settings.AnalysisMode())
	if !decision.Dispatched {
		l.logger.Debug("Failure not analysed.", zap.String("scenario", fc.ScenarioName()), zap.String("reason", string(decision.Reason)))
	}
}

// Extract classifies test and, when it is in scope, builds its final
// FailureContext stamped with the current run.
func (l *FailureListener) Extract(test triage.TestHandle) (*triage.FailureContext, bool) {
	if test == nil {
		return nil, false
	}
	inScope := l.c.Classifier.IsInScope(test)
	l.c.Recorder.FailureSeen(inScope)
	if !inScope {
		l.logger.Debug("Failed test is out of scope.", zap.String("test", test.Name()))
		return nil, false
	}

	draft := l.c.Parser.Parse(test)
	l.c.Recorder.Parsed(draft.ParseDuration())

	var (
		stepDef  *triage.StepDefinitionDescriptor
		scenario *triage.ScenarioDescriptor
		g        errgroup.Group
	)
	g.Go(func() error {
		var found bool
		stepDef, found = l.c.StepDefs.Resolve(draft.StackTrace())
		l.c.Recorder.Resolved("step_definition", found)
		return nil
	})
	g.Go(func() error {
		var found bool
		scenario, found = l.c.Scenarios.Resolve(draft.FailedStep(), draft.ScenarioName())
		l.c.Recorder.Resolved("scenario", found)
		return nil
	})
	_ = g.Wait()

	l.mu.Lock()
	runID := l.runID
	l.failures++
	l.mu.Unlock()

	fc := l.c.Aggregator.Aggregate(draft, stepDef, scenario).ToBuilder().RunID(runID).Build()
	l.mu.Lock()
	l.last = fc
	l.mu.Unlock()

	l.logger.Debug("Failure context built.",
		zap.String("run_id", runID),
		zap.String("scenario", fc.ScenarioName()),
		zap.String("step", fc.FailedStep()),
		zap.Bool("step_definition", stepDef != nil),
		zap.Bool("scenario_resolved", scenario != nil),
		zap.Duration("parse_duration", fc.ParseDuration()))
	return fc, true
}

// Last returns the most recent context built, or nil.
func (l *FailureListener) Last() *triage.FailureContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

var _ events.Listener = (*FailureListener)(nil)
