// internal/uiloop/loop.go
package uiloop

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted to a closed loop.
var ErrClosed = errors.New("ui loop is closed")

// Loop owns a single goroutine on which all UI state is read and mutated.
// Functions run one at a time in submission order.
type Loop struct {
	logger *zap.Logger
	tasks  chan func()
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a loop with a queue of the given size.
func New(logger *zap.Logger, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 64
	}
	l := &Loop{
		logger: logger.Named("uiloop"),
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.tasks {
		l.execute(fn)
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("UI task panicked; loop continues.", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post queues fn for execution and returns without waiting.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	l.tasks <- fn
	return nil
}

// Call runs fn on the loop goroutine and waits for it to return. It must not
// be called from a function already running on the loop.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	err := l.Post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	<-finished
	return nil
}

// Close stops accepting work, runs everything already queued and waits for
// the loop goroutine to exit. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.tasks)
	}
	l.mu.Unlock()
	<-l.done
}
