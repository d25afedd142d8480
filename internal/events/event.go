// internal/events/event.go
package events

import (
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// Type names a host lifecycle event.
type Type string

const (
	TypeRunStarted   Type = "run_started"
	TypeTestStarted  Type = "test_started"
	TypeTestFailed   Type = "test_failed"
	TypeTestFinished Type = "test_finished"
	TypeRunFinished  Type = "run_finished"
)

// Event is one line of the NDJSON event stream a test host writes.
type Event struct {
	Type       Type   `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	ID         string `json:"id,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Location   string `json:"location,omitempty"`
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Test is a node in the host's test tree.
type Test struct {
	id         string
	name       string
	location   string
	parent     *Test
	message    string
	stackTrace string
	finished   bool
}

// NewTest creates a detached node. parent may be nil.
func NewTest(id, name, location string, parent *Test) *Test {
	return &Test{id: id, name: name, location: location, parent: parent}
}

func (t *Test) ID() string           { return t.id }
func (t *Test) Name() string         { return t.name }
func (t *Test) LocationURL() string  { return t.location }
func (t *Test) ErrorMessage() string { return t.message }
func (t *Test) StackTrace() string   { return t.stackTrace }
func (t *Test) Finished() bool       { return t.finished }

// Parent returns the parent node, or a nil interface at the root.
func (t *Test) Parent() triage.TestHandle {
	if t.parent == nil {
		return nil
	}
	return t.parent
}

var _ triage.TestHandle = (*Test)(nil)
