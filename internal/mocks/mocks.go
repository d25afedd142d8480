// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
	"github.com/xkilldash9x/bddtriage/internal/navigator"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Triage() config.TriageConfig {
	args := m.Called()
	return args.Get(0).(config.TriageConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	args := m.Called()
	return args.Get(0).(config.LLMConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

func (m *MockConfig) SetAnalysisMode(mode string) { m.Called(mode) }
func (m *MockConfig) SetProjectRoot(root string)  { m.Called(root) }
func (m *MockConfig) SetAutoAnalyze(enabled bool) { m.Called(enabled) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*schemas.GenerationResponse)
	return resp, args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Triage Boundary Mocks --

// MockAnalysisService mocks triage.AnalysisService.
type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) Analyze(ctx context.Context, fc *triage.FailureContext, mode string) (*triage.AnalysisResult, error) {
	args := m.Called(ctx, fc, mode)
	result, _ := args.Get(0).(*triage.AnalysisResult)
	return result, args.Error(1)
}

// MockNotificationSink mocks triage.NotificationSink.
type MockNotificationSink struct {
	mock.Mock
}

func (m *MockNotificationSink) RecordFailure(fc *triage.FailureContext) bool {
	return m.Called(fc).Bool(0)
}

func (m *MockNotificationSink) ShowResult(result *triage.AnalysisResult) { m.Called(result) }
func (m *MockNotificationSink) ShowError(message string)                 { m.Called(message) }
func (m *MockNotificationSink) OnRunStarted(runID string)                { m.Called(runID) }

// MockSettingsProvider mocks triage.SettingsProvider.
type MockSettingsProvider struct {
	mock.Mock
}

func (m *MockSettingsProvider) IsFeatureEnabled() bool     { return m.Called().Bool(0) }
func (m *MockSettingsProvider) IsConfigured() bool         { return m.Called().Bool(0) }
func (m *MockSettingsProvider) IsAutoAnalyzeEnabled() bool { return m.Called().Bool(0) }
func (m *MockSettingsProvider) AnalysisMode() string       { return m.Called().String(0) }

// MockNavigator mocks navigator.Navigator.
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) Locate(path string, line int) (navigator.Declaration, bool) {
	args := m.Called(path, line)
	decl, _ := args.Get(0).(navigator.Declaration)
	return decl, args.Bool(1)
}

// -- Fakes --

// FakeTest is a plain triage.TestHandle for building test trees by hand.
type FakeTest struct {
	TestName   string
	Location   string
	Error      string
	Trace      string
	ParentNode *FakeTest
}

func (f *FakeTest) Name() string         { return f.TestName }
func (f *FakeTest) LocationURL() string  { return f.Location }
func (f *FakeTest) ErrorMessage() string { return f.Error }
func (f *FakeTest) StackTrace() string   { return f.Trace }

// Parent returns a nil interface at the root.
func (f *FakeTest) Parent() triage.TestHandle {
	if f.ParentNode == nil {
		return nil
	}
	return f.ParentNode
}

// InlineExecutor is a triage.UIExecutor that runs every function on the
// calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Post(fn func()) error { fn(); return nil }
func (InlineExecutor) Call(fn func()) error { fn(); return nil }
