package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bddtriage/internal/classifier"
	"github.com/xkilldash9x/bddtriage/internal/mocks"
	"github.com/xkilldash9x/bddtriage/internal/navigator"
	"github.com/xkilldash9x/bddtriage/internal/scenario"
	"github.com/xkilldash9x/bddtriage/internal/specrepo"
	"github.com/xkilldash9x/bddtriage/internal/stacktrace"
	"github.com/xkilldash9x/bddtriage/internal/stepdef"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

const loginFeature = `Feature: Login

  @auth
  Scenario: Successful login
    Given I am on the login page
    When I click the login button
    Then I see the dashboard
`

const loginSteps = `package com.example.steps;

public class LoginSteps {

    @Given("I am on the login page")
    public void openLoginPage() {
    }

    @When("I click the login button")
    public void clickLogin() {
        assertThat(page.status(), is(200));
    }
}
`

const loginTrace = `java.lang.AssertionError: 
Expected: is <200>
     but: was <500>
	at org.hamcrest.MatcherAssert.assertThat(MatcherAssert.java:20)
	at com.example.steps.LoginSteps.clickLogin(LoginSteps.java:11)
	at io.cucumber.java.Invoker.doInvoke(Invoker.java:66)
`

type recordingDispatcher struct {
	runs      []string
	contexts  []*triage.FailureContext
	modes     []string
	decisions triage.Decision
}

func (d *recordingDispatcher) OnRunStarted(runID string) { d.runs = append(d.runs, runID) }

func (d *recordingDispatcher) HandleFailure(fc *triage.FailureContext, mode string) triage.Decision {
	d.contexts = append(d.contexts, fc)
	d.modes = append(d.modes, mode)
	return d.decisions
}

type countingRecorder struct {
	seen, inScope, parsed int
	resolved              map[string]bool
}

func (r *countingRecorder) FailureSeen(inScope bool) {
	r.seen++
	if inScope {
		r.inScope++
	}
}
func (r *countingRecorder) Parsed(time.Duration) { r.parsed++ }
func (r *countingRecorder) Resolved(name string, found bool) {
	if r.resolved == nil {
		r.resolved = map[string]bool{}
	}
	r.resolved[name] = found
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// project lays out a feature file and its step implementation and returns the
// wired stages.
func project(t *testing.T) (string, Components) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/test/resources/features/login.feature", loginFeature)
	writeFile(t, root, "src/test/java/com/example/steps/LoginSteps.java", loginSteps)

	logger := zaptest.NewLogger(t)
	nav := navigator.NewDefault(logger, 16)
	return root, Components{
		Classifier: classifier.New(logger, classifier.DefaultMarkers()),
		Parser:     stacktrace.NewParser(logger, nav, root),
		StepDefs:   stepdef.NewResolver(logger, nav, root, nil),
		Scenarios:  scenario.NewResolver(logger, specrepo.New(logger, root, nil)),
	}
}

func failedStep(root string) *mocks.FakeTest {
	feature := &mocks.FakeTest{TestName: "Feature: Login"}
	sc := &mocks.FakeTest{TestName: "Scenario: Successful login", ParentNode: feature}
	return &mocks.FakeTest{
		TestName:   "When I click the login button",
		Location:   "file://" + filepath.ToSlash(filepath.Join(root, "src/test/resources/features/login.feature")) + ":6",
		Error:      "java.lang.AssertionError",
		Trace:      loginTrace,
		ParentNode: sc,
	}
}

func TestFailureListener_BuildsAndDispatches(t *testing.T) {
	root, c := project(t)
	dispatcher := &recordingDispatcher{decisions: triage.Decision{Dispatched: true}}
	rec := &countingRecorder{}
	settings := new(mocks.MockSettingsProvider)
	settings.On("AnalysisMode").Return("detailed")
	c.Dispatcher, c.Recorder, c.Settings = dispatcher, rec, settings

	l := NewFailureListener(zaptest.NewLogger(t), c)
	l.OnRunStarted("run-7")
	l.OnTestFailed(failedStep(root))
	l.OnRunFinished("run-7")

	assert.Equal(t, []string{"run-7"}, dispatcher.runs)
	require.Len(t, dispatcher.contexts, 1)
	assert.Equal(t, []string{"detailed"}, dispatcher.modes)

	fc := dispatcher.contexts[0]
	assert.Equal(t, "run-7", fc.RunID())
	assert.Equal(t, "Successful login", fc.ScenarioName())
	assert.Equal(t, "I click the login button", fc.FailedStep())
	assert.Equal(t, 6, fc.SourceLine())
	assert.Equal(t, "is <200>", fc.Expected())
	assert.Equal(t, "<500>", fc.Actual())

	sd := fc.StepDefinition()
	require.NotNil(t, sd)
	assert.Equal(t, "clickLogin", sd.MethodName)
	assert.Equal(t, "I click the login button", sd.StepPattern)

	sc := fc.Scenario()
	require.NotNil(t, sc)
	assert.Equal(t, "Login", sc.FeatureName)
	assert.Equal(t, []string{"@auth"}, sc.Tags)

	assert.Equal(t, 1, rec.seen)
	assert.Equal(t, 1, rec.inScope)
	assert.Equal(t, 1, rec.parsed)
	assert.Equal(t, map[string]bool{"step_definition": true, "scenario": true}, rec.resolved)
	assert.Same(t, fc, l.Last())
	settings.AssertExpectations(t)
}

func TestFailureListener_OutOfScope(t *testing.T) {
	_, c := project(t)
	dispatcher := &recordingDispatcher{}
	rec := &countingRecorder{}
	c.Dispatcher, c.Recorder, c.Settings = dispatcher, rec, new(mocks.MockSettingsProvider)

	l := NewFailureListener(zaptest.NewLogger(t), c)
	l.OnRunStarted("run-1")
	l.OnTestFailed(&mocks.FakeTest{
		TestName: "testAddition",
		Location: "java:test://com.example.CalculatorTest/testAddition",
		Error:    "expected:<4> but was:<5>",
	})
	l.OnTestFailed(nil)

	assert.Empty(t, dispatcher.contexts)
	assert.Equal(t, 1, rec.seen)
	assert.Zero(t, rec.inScope)
	assert.Zero(t, rec.parsed)
	assert.Nil(t, l.Last())
}

func TestFailureListener_UnresolvedStillDispatches(t *testing.T) {
	root := t.TempDir()
	logger := zaptest.NewLogger(t)
	dispatcher := &recordingDispatcher{decisions: triage.Decision{Reason: triage.SkipAutoAnalyzeOff}}
	settings := new(mocks.MockSettingsProvider)
	settings.On("AnalysisMode").Return("quick")

	l := NewFailureListener(logger, Components{
		Classifier: classifier.New(logger, classifier.DefaultMarkers()),
		Parser:     stacktrace.NewParser(logger, nil, root),
		StepDefs:   stepdef.NewResolver(logger, nil, root, nil),
		Scenarios:  scenario.NewResolver(logger, specrepo.New(logger, root, nil)),
		Dispatcher: dispatcher,
		Settings:   settings,
	})
	l.OnRunStarted("r")
	l.OnTestFailed(&mocks.FakeTest{
		TestName: "Then the cart total is 42 euros and the discount banner is shown on top",
		Location: "classpath:features/cart.feature:12",
		Trace:    "io.cucumber.junit.UndefinedStepException: undefined",
	})

	require.Len(t, dispatcher.contexts, 1)
	fc := dispatcher.contexts[0]
	assert.Nil(t, fc.StepDefinition())
	assert.Nil(t, fc.Scenario())
	assert.Equal(t, "Then the cart total is 42 euros and the discount banner is shown on top", fc.FailedStep())
	assert.Equal(t, "Then the cart total is 42 euros and the discount b...", fc.ScenarioName())
}

// TestFailureListener_WithOrchestrator runs the whole chain into a real
// orchestrator and sink mock.
func TestFailureListener_WithOrchestrator(t *testing.T) {
	root, c := project(t)
	logger := zaptest.NewLogger(t)

	settings := new(mocks.MockSettingsProvider)
	settings.On("IsFeatureEnabled").Return(true)
	settings.On("IsConfigured").Return(true)
	settings.On("IsAutoAnalyzeEnabled").Return(true)
	settings.On("AnalysisMode").Return("quick")

	sink := new(mocks.MockNotificationSink)
	sink.On("OnRunStarted", "run-9").Return().Once()
	sink.On("RecordFailure", mock.Anything).Return(true).Once()
	sink.On("RecordFailure", mock.Anything).Return(false)
	sink.On("ShowResult", mock.MatchedBy(func(r *triage.AnalysisResult) bool {
		return r.RunID == "run-9" && r.Text == "The login endpoint returned 500."
	})).Return().Once()

	service := new(mocks.MockAnalysisService)
	service.On("Analyze", mock.Anything, mock.MatchedBy(func(fc *triage.FailureContext) bool {
		return fc.ScenarioName() == "Successful login" && fc.StepDefinition() != nil
	}), "quick").Return(&triage.AnalysisResult{Text: "The login endpoint returned 500."}, nil).Once()

	orch := triage.NewOrchestrator(logger, settings, sink, mocks.InlineExecutor{}, service)
	c.Dispatcher, c.Settings = orch, settings
	l := NewFailureListener(logger, c)

	l.OnRunStarted("run-9")
	l.OnTestFailed(failedStep(root))
	l.OnTestFailed(failedStep(root))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Close(ctx))

	assert.Equal(t, triage.StateCompleted, orch.State())
	service.AssertExpectations(t)
	sink.AssertExpectations(t)
}
