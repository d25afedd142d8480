// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/config"
	"github.com/xkilldash9x/bddtriage/internal/mocks"
	"github.com/xkilldash9x/bddtriage/internal/observability"
)

const featureFile = `Feature: Login

  Scenario: Successful login
    Given I am on the login page
    When I click the login button
    Then I see the dashboard
`

const stepsFile = `package com.example.steps;

public class LoginSteps {

    @When("I click the login button")
    public void clickLogin() {
        assertThat(status, is(200));
    }
}
`

// fixture is a project with one failing scenario and its event stream.
type fixture struct {
	root   string
	config string
	events string
}

func newFixture(t *testing.T, apiKey string) fixture {
	t.Helper()
	t.Setenv(config.APIKeyEnv, "")
	t.Setenv("GEMINI_API_KEY", "")
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := t.TempDir()
	write := func(rel, content string) string {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	feature := write("src/test/resources/login.feature", featureFile)
	write("src/test/java/com/example/steps/LoginSteps.java", stepsFile)

	loc := "file://" + filepath.ToSlash(feature)
	trace := `java.lang.AssertionError: \nExpected: is <200>\n     but: was <500>\n\tat com.example.steps.LoginSteps.clickLogin(LoginSteps.java:7)`
	events := strings.Join([]string{
		`{"type":"run_started","run_id":"run-42"}`,
		`{"type":"test_started","id":"f","name":"Feature: Login","location":"` + loc + `"}`,
		`{"type":"test_started","id":"s","parent_id":"f","name":"Scenario: Successful login","location":"` + loc + `:3"}`,
		`{"type":"test_started","id":"st","parent_id":"s","name":"When I click the login button","location":"` + loc + `:5"}`,
		`{"type":"test_failed","id":"st","message":"java.lang.AssertionError","stack_trace":"` + trace + `"}`,
		`{"type":"test_failed","id":"unit","name":"testAddition","location":"java:test://com.example.CalcTest/testAddition","message":"expected:<4> but was:<5>"}`,
		`{"type":"run_finished"}`,
	}, "\n")
	eventsPath := write("build/events.ndjson", events+"\n")

	cfg := "logger:\n  level: error\ntriage:\n  project_root: " + root + "\n"
	if apiKey != "" {
		cfg += "llm:\n  api_key: " + apiKey + "\n"
	}
	return fixture{root: root, config: write("bddtriage.yaml", cfg), events: eventsPath}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func stubLLM(t *testing.T, client schemas.LLMClient) {
	t.Helper()
	orig := newLLMClient
	newLLMClient = func(context.Context, config.LLMConfig, *zap.Logger) (schemas.LLMClient, error) { return client, nil }
	t.Cleanup(func() { newLLMClient = orig })
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "bddtriage version "+Version+"\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "bddtriage version "+Version)
}

func TestAnalyze_EndToEnd(t *testing.T) {
	fx := newFixture(t, "test-key")
	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierFast &&
			strings.Contains(req.UserPrompt, "Successful login") &&
			strings.Contains(req.UserPrompt, "I click the login button")
	})).Return(&schemas.GenerationResponse{Text: "The login endpoint returned 500.", Provider: "gemini", Model: "gemini-2.5-flash"}, nil).Once()
	llm.On("Close").Return(nil).Once()
	stubLLM(t, llm)

	out, err := execute(t, "analyze", "--plain", "-c", fx.config, fx.events)
	require.NoError(t, err)

	assert.Contains(t, out, "test run run-42")
	assert.Contains(t, out, "Successful login")
	assert.Contains(t, out, "LoginSteps.clickLogin")
	assert.Contains(t, out, "The login endpoint returned 500.")
	assert.NotContains(t, out, "testAddition")
	llm.AssertExpectations(t)
}

func TestAnalyze_NotConfiguredSkipsAnalysis(t *testing.T) {
	fx := newFixture(t, "")
	called := false
	orig := newLLMClient
	newLLMClient = func(context.Context, config.LLMConfig, *zap.Logger) (schemas.LLMClient, error) {
		called = true
		return nil, nil
	}
	t.Cleanup(func() { newLLMClient = orig })

	out, err := execute(t, "analyze", "-c", fx.config, fx.events)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Contains(t, out, "test run run-42")
	assert.NotContains(t, out, "Analysis by")
}

func TestApp_KeyAddedByReloadEnablesAnalysis(t *testing.T) {
	fx := newFixture(t, "")
	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(&schemas.GenerationResponse{Text: "The reloaded key works.", Provider: "gemini", Model: "gemini-2.5-flash"}, nil).Once()
	llm.On("Close").Return(nil).Once()
	stubLLM(t, llm)

	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()
	cfg.TriageCfg.ProjectRoot = fx.root
	settings := config.NewSettings(logger, cfg)

	var out bytes.Buffer
	a, err := newApp(context.Background(), logger, settings, appOptions{out: &out, plainText: true})
	require.NoError(t, err)

	reloaded := config.NewDefaultConfig()
	reloaded.TriageCfg.ProjectRoot = fx.root
	reloaded.LLMCfg.APIKey = "added-later"
	settings.Update(reloaded)

	f, err := os.Open(fx.events)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, a.dispatcher.Decode(f))
	require.NoError(t, a.close(10*time.Second))

	assert.Contains(t, out.String(), "The reloaded key works.")
	assert.NotContains(t, out.String(), "Analysis failed")
	llm.AssertExpectations(t)
}

func TestAnalyze_NoAutoFlag(t *testing.T) {
	fx := newFixture(t, "test-key")
	llm := new(mocks.MockLLMClient)
	llm.On("Close").Return(nil)
	stubLLM(t, llm)

	_, err := execute(t, "analyze", "--no-auto", "-c", fx.config, fx.events)
	require.NoError(t, err)
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestAnalyze_Errors(t *testing.T) {
	fx := newFixture(t, "")

	_, err := execute(t, "analyze", "-c", fx.config, filepath.Join(fx.root, "missing.ndjson"))
	assert.ErrorContains(t, err, "failed to open event file")

	_, err = execute(t, "analyze", "--mode", "verbose", "-c", fx.config, fx.events)
	assert.ErrorContains(t, err, `invalid --mode "verbose"`)

	_, err = execute(t, "analyze", "-c", filepath.Join(fx.root, "absent.yaml"), fx.events)
	assert.ErrorContains(t, err, "failed to initialize configuration")

	_, err = execute(t, "analyze")
	assert.Error(t, err)
}

func TestClassify_JSON(t *testing.T) {
	fx := newFixture(t, "")

	out, err := execute(t, "classify", "--json", "-c", fx.config, fx.events)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var bdd, unit classifyReport
	require.NoError(t, jsoniter.Unmarshal([]byte(lines[0]), &bdd))
	require.NoError(t, jsoniter.Unmarshal([]byte(lines[1]), &unit))

	assert.True(t, bdd.InScope)
	assert.Equal(t, "run-42", bdd.RunID)
	assert.Equal(t, "Successful login", bdd.Scenario)
	assert.Equal(t, "I click the login button", bdd.Step)
	assert.Equal(t, 5, bdd.SourceLine)
	assert.Equal(t, "is <200>", bdd.Expected)
	assert.Equal(t, "Login", bdd.Feature)
	require.NotNil(t, bdd.StepDefinition)
	assert.Equal(t, "clickLogin", bdd.StepDefinition.MethodName)

	assert.False(t, unit.InScope)
	assert.Equal(t, "testAddition", unit.Test)
}

func TestClassify_Text(t *testing.T) {
	fx := newFixture(t, "")

	out, err := execute(t, "classify", "-c", fx.config, fx.events)
	require.NoError(t, err)
	assert.Contains(t, out, "bdd   Successful login | I click the login button | ")
	assert.Contains(t, out, "skip  testAddition")
}
