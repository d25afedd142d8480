// internal/events/dispatcher.go
package events

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLineSize bounds a single event line; stack traces can be long.
const maxLineSize = 4 * 1024 * 1024

// Listener receives run lifecycle callbacks. Calls for one Dispatcher are
// serial.
type Listener interface {
	OnRunStarted(runID string)
	OnTestFailed(test triage.TestHandle)
	OnRunFinished(runID string)
}

// Stats counts what a Dispatcher has seen.
type Stats struct {
	Events    int64
	Malformed int64
	Unknown   int64
	Failures  int64
	Runs      int64
}

// Dispatcher turns an event stream into Listener calls, keeping the test
// tree of the current run so failed tests can report their ancestors.
type Dispatcher struct {
	logger   *zap.Logger
	listener Listener
	newRunID func() string

	runID   string
	running bool
	tests   map[string]*Test

	events, malformed, unknown, failures, runs atomic.Int64
}

// NewDispatcher creates a Dispatcher delivering to listener.
func NewDispatcher(logger *zap.Logger, listener Listener) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("events"),
		listener: listener,
		newRunID: uuid.NewString,
		tests:    make(map[string]*Test),
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:    d.events.Load(),
		Malformed: d.malformed.Load(),
		Unknown:   d.unknown.Load(),
		Failures:  d.failures.Load(),
		Runs:      d.runs.Load(),
	}
}

// RunID returns the current run, or "" between runs.
func (d *Dispatcher) RunID() string { return d.runID }

// HandleLine decodes and dispatches one NDJSON line. Blank lines are ignored
// and malformed ones counted and skipped.
func (d *Dispatcher) HandleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		d.malformed.Add(1)
		d.logger.Debug("Skipping malformed event line.", zap.Error(err), zap.Int("length", len(line)))
		return
	}
	d.Handle(ev)
}

// Handle dispatches a decoded event.
func (d *Dispatcher) Handle(ev Event) {
	d.events.Add(1)
	switch ev.Type {
	case TypeRunStarted:
		if d.running {
			d.finishRun()
		}
		d.startRun(ev.RunID)
	case TypeTestStarted:
		d.ensureRun()
		d.tests[ev.ID] = NewTest(ev.ID, ev.Name, ev.Location, d.tests[ev.ParentID])
	case TypeTestFailed:
		d.ensureRun()
		t := d.testFor(ev)
		t.message = ev.Message
		t.stackTrace = ev.StackTrace
		d.failures.Add(1)
		d.listener.OnTestFailed(t)
	case TypeTestFinished:
		if t, ok := d.tests[ev.ID]; ok {
			t.finished = true
		}
	case TypeRunFinished:
		if d.running {
			d.finishRun()
		}
	default:
		d.unknown.Add(1)
		d.logger.Debug("Ignoring unknown event type.", zap.String("type", string(ev.Type)))
	}
}

// testFor returns the started node for a failure event, creating one when the
// host reported the failure without a preceding test_started.
func (d *Dispatcher) testFor(ev Event) *Test {
	t, ok := d.tests[ev.ID]
	if !ok {
		t = NewTest(ev.ID, ev.Name, ev.Location, d.tests[ev.ParentID])
		if ev.ID != "" {
			d.tests[ev.ID] = t
		}
		return t
	}
	if ev.Name != "" {
		t.name = ev.Name
	}
	if ev.Location != "" {
		t.location = ev.Location
	}
	return t
}

func (d *Dispatcher) ensureRun() {
	if !d.running {
		d.logger.Debug("Event arrived outside a run; starting an implicit run.")
		d.startRun("")
	}
}

func (d *Dispatcher) startRun(runID string) {
	if runID == "" {
		runID = d.newRunID()
	}
	d.runID = runID
	d.running = true
	d.tests = make(map[string]*Test)
	d.runs.Add(1)
	d.listener.OnRunStarted(runID)
}

func (d *Dispatcher) finishRun() {
	runID := d.runID
	d.running = false
	d.runID = ""
	d.tests = make(map[string]*Test)
	d.listener.OnRunFinished(runID)
}

// Decode dispatches every event in r. A run left open at end of input is
// finished.
func (d *Dispatcher) Decode(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		d.HandleLine(scanner.Bytes())
	}
	if d.running {
		d.finishRun()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// FollowOptions tune Follow.
type FollowOptions struct {
	// FromEnd skips events already in the file.
	FromEnd bool
	// Poll uses stat polling instead of inotify.
	Poll bool
}

// Follow tails the event file at path, dispatching events as they are
// appended, until ctx is done.
func (d *Dispatcher) Follow(ctx context.Context, path string, opts FollowOptions) error {
	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      opts.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if opts.FromEnd {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to tail event file: %w", err)
	}
	defer t.Cleanup()

	d.logger.Info("Following test events.", zap.String("path", path))
	for {
		select {
		case <-ctx.Done():
			if err := t.Stop(); err != nil {
				d.logger.Debug("Stopping tail returned an error.", zap.Error(err))
			}
			d.logger.Info("Stopped following test events.", zap.Any("stats", d.Stats()))
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return errors.New("event tail closed unexpectedly")
			}
			if line.Err != nil {
				d.logger.Warn("Error reading event file.", zap.Error(line.Err))
				continue
			}
			d.HandleLine([]byte(line.Text))
		}
	}
}
