package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

type failure struct {
	runID   string
	name    string
	message string
	trace   string
	chain   []string
}

type recorder struct {
	mu       sync.Mutex
	runID    string
	started  []string
	finished []string
	failures []failure
}

func (r *recorder) OnRunStarted(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.started = append(r.started, runID)
}

func (r *recorder) OnTestFailed(test triage.TestHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := failure{runID: r.runID, name: test.Name(), message: test.ErrorMessage(), trace: test.StackTrace()}
	for p := test.Parent(); p != nil; p = p.Parent() {
		f.chain = append(f.chain, p.Name())
	}
	r.failures = append(r.failures, f)
}

func (r *recorder) OnRunFinished(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, runID)
}

func (r *recorder) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

const stream = `{"type":"run_started","run_id":"run-1"}
{"type":"test_started","id":"f","name":"Feature: Login","location":"file:///repo/login.feature"}
{"type":"test_started","id":"s","parent_id":"f","name":"Scenario: Successful login","location":"file:///repo/login.feature:8"}
{"type":"test_started","id":"st","parent_id":"s","name":"When I click the login button","location":"file:///repo/login.feature:11"}
{"type":"test_failed","id":"st","message":"expected 200","stack_trace":"java.lang.AssertionError\n\tat com.example.LoginSteps.clickLogin(LoginSteps.java:22)"}
this is not json
{"type":"test_finished","id":"st"}
{"type":"heartbeat"}

{"type":"run_finished"}
`

func TestDispatcher_Decode(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := NewDispatcher(zaptest.NewLogger(t), rec)

	require.NoError(t, d.Decode(strings.NewReader(stream)))

	assert.Equal(t, []string{"run-1"}, rec.started)
	assert.Equal(t, []string{"run-1"}, rec.finished)
	require.Len(t, rec.failures, 1)
	f := rec.failures[0]
	assert.Equal(t, "run-1", f.runID)
	assert.Equal(t, "When I click the login button", f.name)
	assert.Equal(t, "expected 200", f.message)
	assert.Contains(t, f.trace, "LoginSteps.java:22")
	assert.Equal(t, []string{"Scenario: Successful login", "Feature: Login"}, f.chain)

	assert.Equal(t, Stats{Events: 8, Malformed: 1, Unknown: 1, Failures: 1, Runs: 1}, d.Stats())
	assert.Empty(t, d.RunID())
}

func TestDispatcher_ImplicitRuns(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := NewDispatcher(zaptest.NewLogger(t), rec)
	d.newRunID = func() string { return "generated" }

	input := `{"type":"test_failed","id":"x","name":"Then the total is 5","location":"file:///repo/cart.feature:9","message":"boom"}
{"type":"run_started","run_id":"run-2"}
{"type":"test_failed","name":"Given nothing"}
`
	require.NoError(t, d.Decode(strings.NewReader(input)))

	assert.Equal(t, []string{"generated", "run-2"}, rec.started)
	assert.Equal(t, []string{"generated", "run-2"}, rec.finished, "an open run is finished when a new one starts and at end of input")
	require.Len(t, rec.failures, 2)
	assert.Equal(t, "generated", rec.failures[0].runID)
	assert.Equal(t, "Then the total is 5", rec.failures[0].name)
	assert.Empty(t, rec.failures[0].chain)
	assert.Equal(t, "run-2", rec.failures[1].runID)
}

func TestDispatcher_TestTreeResetsPerRun(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := NewDispatcher(zaptest.NewLogger(t), rec)

	d.Handle(Event{Type: TypeRunStarted, RunID: "a"})
	d.Handle(Event{Type: TypeTestStarted, ID: "s", Name: "Scenario: Old"})
	d.Handle(Event{Type: TypeRunStarted, RunID: "b"})
	d.Handle(Event{Type: TypeTestFailed, ID: "st", ParentID: "s", Name: "When it fails"})

	require.Len(t, rec.failures, 1)
	assert.Empty(t, rec.failures[0].chain, "nodes from a previous run are not reused")
}

func TestTest_RootParentIsNilInterface(t *testing.T) {
	t.Parallel()
	root := NewTest("r", "Feature: X", "", nil)
	child := NewTest("c", "Scenario: Y", "", root)

	assert.Nil(t, root.Parent())
	require.NotNil(t, child.Parent())
	assert.Equal(t, "Feature: X", child.Parent().Name())
}

func TestDispatcher_Follow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"run_started","run_id":"live"}`+"\n"), 0o644))

	rec := &recorder{}
	d := NewDispatcher(zaptest.NewLogger(t), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Follow(ctx, path, FollowOptions{Poll: true}) }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"test_failed","id":"1","name":"When it breaks","message":"nope"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool { return rec.failureCount() == 1 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancellation")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"live"}, rec.started)
	assert.Equal(t, "live", rec.failures[0].runID)
}
