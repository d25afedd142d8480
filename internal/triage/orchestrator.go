// internal/triage/orchestrator.go
package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrNilResult is reported when the analysis service returns neither a result nor an error.
var ErrNilResult = errors.New("analysis service returned no result")

// State is the per-run analysis state.
type State int

const (
	StateIdle State = iota
	StateDispatched
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SkipReason explains why a failure did not trigger an analysis.
type SkipReason string

const (
	SkipNone               SkipReason = ""
	SkipFeatureDisabled    SkipReason = "feature_disabled"
	SkipNotConfigured      SkipReason = "not_configured"
	SkipAutoAnalyzeOff     SkipReason = "auto_analyze_disabled"
	SkipAlreadyDisplayed   SkipReason = "already_displayed"
	SkipUIUnavailable      SkipReason = "ui_unavailable"
	SkipOrchestratorClosed SkipReason = "closed"
	SkipNilContext         SkipReason = "nil_context"
)

// Decision is the outcome of HandleFailure.
type Decision struct {
	Dispatched bool
	Reason     SkipReason
}

// Observer receives orchestration events, typically for metrics.
type Observer interface {
	Dispatched()
	Skipped(reason SkipReason)
	Completed(elapsed time.Duration)
	Failed(elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Dispatched()             {}
func (nopObserver) Skipped(SkipReason)      {}
func (nopObserver) Completed(time.Duration) {}
func (nopObserver) Failed(time.Duration)    {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver installs an Observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithAnalysisTimeout bounds each analysis call. Zero disables the bound.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithMaxConcurrent bounds the number of analyses in flight across runs.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// Orchestrator decides whether a failure is analysed and runs the analysis
// asynchronously, routing the outcome back through the UI executor.
type Orchestrator struct {
	logger   *zap.Logger
	settings SettingsProvider
	sink     NotificationSink
	ui       UIExecutor
	service  AnalysisService
	observer Observer
	sem      *semaphore.Weighted
	timeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	runID  string
	state  State
	closed bool
}

// NewOrchestrator wires an orchestrator. All collaborators are required.
func NewOrchestrator(logger *zap.Logger, settings SettingsProvider, sink NotificationSink, ui UIExecutor, service AnalysisService, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		logger:   logger.Named("orchestrator"),
		settings: settings,
		sink:     sink,
		ui:       ui,
		service:  service,
		observer: nopObserver{},
		sem:      semaphore.NewWeighted(2),
		timeout:  2 * time.Minute,
		baseCtx:  ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnRunStarted resets the per-run state and notifies the sink on the UI goroutine.
// Analyses still in flight for the previous run are not cancelled.
func (o *Orchestrator) OnRunStarted(runID string) {
	o.mu.Lock()
	o.runID = runID
	o.state = StateIdle
	o.mu.Unlock()

	o.logger.Debug("Test run started; analysis slot reset.", zap.String("run_id", runID))
	if err := o.ui.Call(func() { o.sink.OnRunStarted(runID) }); err != nil {
		o.logger.Warn("Could not notify sink of run start.", zap.String("run_id", runID), zap.Error(err))
	}
}

// State returns the state of the current run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// HandleFailure applies the dispatch gates to fc and, if all pass, starts the
// analysis. It blocks only for the RecordFailure round trip on the UI goroutine.
func (o *Orchestrator) HandleFailure(fc *FailureContext, mode string) Decision {
	if fc == nil {
		return o.skip(SkipNilContext, "")
	}

	o.mu.Lock()
	closed := o.closed
	runID := o.runID
	o.mu.Unlock()
	if closed {
		return o.skip(SkipOrchestratorClosed, runID)
	}
	if fc.RunID() != "" {
		runID = fc.RunID()
	}

	// Settings are consulted fresh for every decision.
	if !o.settings.IsFeatureEnabled() {
		return o.skip(SkipFeatureDisabled, runID)
	}
	if !o.settings.IsConfigured() {
		return o.skip(SkipNotConfigured, runID)
	}
	if !o.settings.IsAutoAnalyzeEnabled() {
		return o.skip(SkipAutoAnalyzeOff, runID)
	}

	var accepted bool
	if err := o.ui.Call(func() { accepted = o.sink.RecordFailure(fc) }); err != nil {
		o.logger.Warn("UI executor rejected failure record.", zap.Error(err))
		return o.skip(SkipUIUnavailable, runID)
	}
	if !accepted {
		return o.skip(SkipAlreadyDisplayed, runID)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return o.skip(SkipOrchestratorClosed, runID)
	}
	if runID == o.runID {
		o.state = StateDispatched
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.observer.Dispatched()
	o.logger.Info("Dispatching failure analysis.",
		zap.String("run_id", runID),
		zap.String("scenario", fc.ScenarioName()),
		zap.String("mode", mode))

	go o.analyze(runID, fc, mode)
	return Decision{Dispatched: true}
}

func (o *Orchestrator) skip(reason SkipReason, runID string) Decision {
	o.observer.Skipped(reason)
	o.logger.Debug("Analysis dispatch skipped.", zap.String("reason", string(reason)), zap.String("run_id", runID))
	return Decision{Reason: reason}
}

// analyze runs on its own goroutine. It never touches the sink directly.
func (o *Orchestrator) analyze(runID string, fc *FailureContext, mode string) {
	defer o.wg.Done()
	start := time.Now()

	result, err := o.invoke(fc, mode)
	elapsed := time.Since(start)

	if err == nil && result == nil {
		err = ErrNilResult
	}
	if err != nil {
		o.finish(runID, StateFailed)
		o.observer.Failed(elapsed)
		o.logger.Warn("Failure analysis failed.", zap.String("run_id", runID), zap.Duration("elapsed", elapsed), zap.Error(err))
		msg := fmt.Sprintf("Analysis of %q failed: %v", fc.ScenarioName(), err)
		if postErr := o.ui.Post(func() { o.sink.ShowError(msg) }); postErr != nil {
			o.logger.Warn("Could not deliver analysis error to UI.", zap.Error(postErr))
		}
		return
	}

	if result.RunID == "" {
		result.RunID = runID
	}
	if result.ProcessingTime == 0 {
		result.ProcessingTime = elapsed
	}
	o.finish(runID, StateCompleted)
	o.observer.Completed(elapsed)
	o.logger.Info("Failure analysis completed.", zap.String("run_id", runID), zap.Duration("elapsed", elapsed))
	if postErr := o.ui.Post(func() { o.sink.ShowResult(result) }); postErr != nil {
		o.logger.Warn("Could not deliver analysis result to UI.", zap.Error(postErr))
	}
}

// invoke calls the service, converting panics into errors.
func (o *Orchestrator) invoke(fc *FailureContext, mode string) (result *AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("analysis service panicked: %v", r)
		}
	}()

	if err := o.sem.Acquire(o.baseCtx, 1); err != nil {
		return nil, fmt.Errorf("waiting for analysis slot: %w", err)
	}
	defer o.sem.Release(1)

	ctx := o.baseCtx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return o.service.Analyze(ctx, fc, mode)
}

// finish records a terminal state, unless a newer run has started meanwhile.
func (o *Orchestrator) finish(runID string, st State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if runID == o.runID && o.state == StateDispatched {
		o.state = st
	}
}

// Wait blocks until all in-flight analyses have delivered their outcome to the
// UI executor, or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting failures and waits for in-flight analyses. If ctx ends
// first, outstanding analyses are cancelled.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	err := o.Wait(ctx)
	o.cancel()
	return err
}
