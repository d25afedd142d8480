// internal/triage/interfaces.go
package triage

import (
	"context"
)

// TestHandle is the host's view of a single test node in a run. Implementations
// must return a nil interface (not a typed nil) from Parent at the root.
type TestHandle interface {
	// Name is the display name of the node (a step, a scenario, an example...).
	Name() string
	// LocationURL is the host-reported location, e.g. "file:///repo/login.feature:12".
	LocationURL() string
	Parent() TestHandle
	ErrorMessage() string
	StackTrace() string
}

// AnalysisService runs the (potentially slow) analysis of a failure. A nil result
// with a nil error is treated as a failure by the orchestrator.
type AnalysisService interface {
	Analyze(ctx context.Context, fc *FailureContext, mode string) (*AnalysisResult, error)
}

// NotificationSink is the UI boundary. Every method is invoked on the UI loop only.
type NotificationSink interface {
	// RecordFailure records fc for display and reports whether it was accepted.
	// A false return means the current run already displays a failure.
	RecordFailure(fc *FailureContext) bool
	ShowResult(result *AnalysisResult)
	ShowError(message string)
	OnRunStarted(runID string)
}

// SettingsProvider answers the dispatch eligibility questions. Values are read on
// every call and must not be cached by callers.
type SettingsProvider interface {
	IsFeatureEnabled() bool
	IsConfigured() bool
	IsAutoAnalyzeEnabled() bool
	AnalysisMode() string
}

// UIExecutor runs functions on the goroutine that owns NotificationSink state.
type UIExecutor interface {
	// Post queues fn and returns immediately.
	Post(fn func()) error
	// Call runs fn on the UI goroutine and blocks until it has returned.
	Call(fn func()) error
}
