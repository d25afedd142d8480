package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/mocks"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

func sampleContext() *triage.FailureContext {
	return triage.NewBuilder().
		RunID("run-1").
		ScenarioName("Successful login").
		FailedStep("I click the login button").
		SourceFile("/repo/login.feature").
		SourceLine(11).
		Expected(`is "Welcome, alice"`).
		Actual(`"Invalid credentials"`).
		ErrorMessage("java.lang.AssertionError").
		StackTrace("java.lang.AssertionError\n\tat com.example.steps.LoginSteps.clickLogin(LoginSteps.java:25)").
		ExampleID("Example #1.2").
		StepDefinition(&triage.StepDefinitionDescriptor{
			MethodName:  "clickLogin",
			TypeName:    "LoginSteps",
			Namespace:   "com.example.steps",
			FileName:    "/repo/src/test/java/com/example/steps/LoginSteps.java",
			LineNumber:  21,
			StepPattern: "I click the login button",
			SourceText:  "public void clickLogin() { browser.click(\"#login\"); }",
		}).
		Scenario(&triage.ScenarioDescriptor{
			FeatureName:     "Login",
			ScenarioName:    "Successful login",
			Tags:            []string{"@smoke"},
			BackgroundSteps: []string{"Given I am on the login page"},
			ScenarioText:    "Scenario: Successful login\n  When I click the login button",
			IsOutline:       true,
			FilePath:        "/repo/login.feature",
			LineNumber:      9,
		}).
		Build()
}

func newService(t *testing.T, llm schemas.LLMClient) *Service {
	t.Helper()
	s := NewService(zaptest.NewLogger(t), llm)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(500 * time.Millisecond)
		return clock
	}
	return s
}

func TestAnalyze_Modes(t *testing.T) {
	tests := []struct {
		mode     string
		wantTier schemas.ModelTier
		wantJSON bool
	}{
		{ModeQuick, schemas.TierFast, false},
		{ModeDetailed, schemas.TierPowerful, false},
		{ModeFix, schemas.TierPowerful, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			llm := new(mocks.MockLLMClient)
			llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
				return req.Tier == tt.wantTier && req.Options.ForceJSONFormat == tt.wantJSON
			})).Return(&schemas.GenerationResponse{Text: "  The button id changed.  ", Provider: "gemini", Model: "gemini-2.5-flash"}, nil).Once()

			result, err := newService(t, llm).Analyze(context.Background(), sampleContext(), tt.mode)
			require.NoError(t, err)
			assert.Equal(t, "The button id changed.", result.Text)
			assert.Equal(t, "gemini", result.Service)
			assert.Equal(t, "gemini-2.5-flash", result.Model)
			assert.Equal(t, "run-1", result.RunID)
			assert.False(t, result.Timestamp.IsZero())
			assert.Positive(t, result.ProcessingTime)
			llm.AssertExpectations(t)
		})
	}
}

func TestAnalyze_FixProposalRendered(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	raw := "```json\n" + `{"explanation":"The locator is stale.","root_cause":"Renamed button id","confidence":1.4,"patch":"--- a/x\n+++ b/x"}` + "\n```"
	llm.On("Generate", mock.Anything, mock.Anything).Return(&schemas.GenerationResponse{Text: raw}, nil)

	result, err := newService(t, llm).Analyze(context.Background(), sampleContext(), ModeFix)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "## Root cause\n\nRenamed button id")
	assert.Contains(t, result.Text, "Confidence: 100%")
	assert.Contains(t, result.Text, "```diff\n--- a/x\n+++ b/x\n```")
}

func TestAnalyze_FixProposalFallsBackToRawText(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).Return(&schemas.GenerationResponse{Text: "Not JSON at all"}, nil)

	result, err := newService(t, llm).Analyze(context.Background(), sampleContext(), ModeFix)
	require.NoError(t, err)
	assert.Equal(t, "Not JSON at all", result.Text)
}

func TestAnalyze_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown mode", func(t *testing.T) {
		llm := new(mocks.MockLLMClient)
		_, err := newService(t, llm).Analyze(ctx, sampleContext(), "verbose")
		assert.ErrorIs(t, err, ErrUnknownMode)
		llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("nil context", func(t *testing.T) {
		_, err := newService(t, new(mocks.MockLLMClient)).Analyze(ctx, nil, ModeQuick)
		assert.Error(t, err)
	})

	t.Run("no client", func(t *testing.T) {
		_, err := newService(t, nil).Analyze(ctx, sampleContext(), ModeQuick)
		assert.ErrorIs(t, err, schemas.ErrNoClient)
	})

	t.Run("provider error", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		llm := new(mocks.MockLLMClient)
		llm.On("Generate", mock.Anything, mock.Anything).Return(nil, boom)
		_, err := newService(t, llm).Analyze(ctx, sampleContext(), ModeQuick)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("blank response", func(t *testing.T) {
		llm := new(mocks.MockLLMClient)
		llm.On("Generate", mock.Anything, mock.Anything).Return(&schemas.GenerationResponse{Text: " \n"}, nil)
		_, err := newService(t, llm).Analyze(ctx, sampleContext(), ModeQuick)
		assert.ErrorIs(t, err, schemas.ErrEmptyResponse)
	})
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(sampleContext(), ModeQuick)

	for _, want := range []string{
		"**Scenario:** Successful login",
		"**Failed step:** I click the login button",
		"**Location:** /repo/login.feature:11",
		`- Expected: is "Welcome, alice"`,
		"**Feature:** Login (/repo/login.feature:9)",
		"**Tags:** @smoke",
		"    Given I am on the login page",
		"Example #1.2",
		"**Step definition:** com.example.steps.LoginSteps.clickLogin",
		"```java\n",
		"LoginSteps.java:25",
	} {
		assert.Contains(t, prompt, want)
	}
	assert.NotContains(t, prompt, "Response Format")
	assert.Contains(t, BuildPrompt(sampleContext(), ModeFix), "Response Format (Strict JSON)")

	minimal := BuildPrompt(triage.NewBuilder().FailedStep("x").Build(), ModeQuick)
	assert.NotContains(t, minimal, "**Location:**")
	assert.NotContains(t, minimal, "**Step definition:**")
}

func TestTruncateLines(t *testing.T) {
	long := strings.Repeat("line\n", 50)
	got := truncateLines(long, 3)
	assert.Equal(t, "line\nline\nline\n... 47 more lines", got)
	assert.Equal(t, "", truncateLines("  ", 3))
}
