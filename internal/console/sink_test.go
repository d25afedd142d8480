package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

func newSink(t *testing.T) (*Sink, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s, err := New(zaptest.NewLogger(t), &buf, WithPlainText())
	require.NoError(t, err)
	return s, &buf
}

func failure(scenario, step string) *triage.FailureContext {
	return triage.NewBuilder().
		ScenarioName(scenario).
		FailedStep(step).
		SourceFile("/repo/login.feature").
		SourceLine(11).
		Expected("200").
		Actual("500").
		StepDefinition(&triage.StepDefinitionDescriptor{TypeName: "LoginSteps", MethodName: "clickLogin", FileName: "LoginSteps.java", LineNumber: 21}).
		Build()
}

func TestSink_FirstFailureWinsPerRun(t *testing.T) {
	s, buf := newSink(t)
	s.OnRunStarted("run-1")

	assert.True(t, s.RecordFailure(failure("Successful login", "I click the login button")))
	assert.False(t, s.RecordFailure(failure("Logout", "I click logout")))
	assert.False(t, s.RecordFailure(nil))
	assert.True(t, s.Displayed())
	assert.Equal(t, 1, s.Suppressed())

	out := buf.String()
	assert.Contains(t, out, "test run run-1")
	assert.Contains(t, out, "Successful login")
	assert.Contains(t, out, "/repo/login.feature:11")
	assert.Contains(t, out, "LoginSteps.clickLogin (LoginSteps.java:21)")
	assert.Contains(t, out, "Expected: 200")
	assert.Contains(t, out, "also failed: Logout / I click logout")

	s.OnRunStarted("run-2")
	assert.False(t, s.Displayed())
	assert.Zero(t, s.Suppressed())
	assert.True(t, s.RecordFailure(failure("Logout", "I click logout")))
}

func TestSink_ShowResult(t *testing.T) {
	s, buf := newSink(t)
	s.OnRunStarted("run-2")

	s.ShowResult(&triage.AnalysisResult{Text: "The **button** moved.", Service: "gemini", Model: "gemini-2.5-flash", RunID: "run-2", ProcessingTime: 1500 * time.Millisecond})
	out := buf.String()
	assert.Contains(t, out, "Analysis by gemini (gemini-2.5-flash) in 1.5s")
	assert.Contains(t, out, "The **button** moved.")
	assert.NotContains(t, out, "stale")

	buf.Reset()
	stale := &triage.AnalysisResult{Text: "old news", RunID: "run-1"}
	assert.True(t, s.IsStale(stale))
	s.ShowResult(stale)
	assert.Contains(t, buf.String(), "[stale: from run run-1]")
	assert.Contains(t, buf.String(), "unknown")

	buf.Reset()
	s.ShowResult(nil)
	assert.Empty(t, buf.String())
}

func TestSink_ShowError(t *testing.T) {
	s, buf := newSink(t)
	s.ShowError(`Analysis of "Login" failed: quota exceeded`)
	assert.Contains(t, buf.String(), "Analysis failed:")
	assert.Contains(t, buf.String(), "quota exceeded")
}

func TestSink_ErrorLineWithoutAssertion(t *testing.T) {
	s, buf := newSink(t)
	s.RecordFailure(triage.NewBuilder().FailedStep("x").ErrorMessage("java.lang.NullPointerException\n\tat a.B.c(B.java:1)").Build())
	assert.Contains(t, buf.String(), "Error: java.lang.NullPointerException")
	assert.NotContains(t, buf.String(), "B.java")
}

func TestSink_MarkdownRenderer(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(zaptest.NewLogger(t), &buf, WithWordWrap(60))
	require.NoError(t, err)
	require.NotNil(t, s.renderer)

	s.ShowResult(&triage.AnalysisResult{Text: "# Root cause\n\nThe selector changed."})
	assert.Contains(t, buf.String(), "The selector changed.")
}
