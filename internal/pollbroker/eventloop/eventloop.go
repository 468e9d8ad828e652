// Package eventloop provides the background execution context for
// cooperatively scheduled sessions. A Loop is a single goroutine that runs
// submitted work one item at a time, so session code bound to it never runs
// concurrently with itself. Request handlers on other goroutines hand work to
// it with Submit or Call.
//
// The queue is bounded. When it is full, Submit blocks the caller until the
// loop catches up; callers that must not wait indefinitely use SubmitContext
// and give up when their context is done.
//
// A process has at most one default loop, started with StartDefault before
// the HTTP listener accepts polling requests.
package eventloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is used when New is given a non-positive queue size.
const DefaultQueueSize = 1024

// Loop runs submitted functions sequentially on one goroutine.
type Loop struct {
	queue    chan func()
	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// New creates a Loop. It does nothing until Start is called.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue: make(chan func(), queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine. A Loop can be started once; the loop
// stops when ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go l.run(ctx)
	log.Info().Int("queue_size", cap(l.queue)).Msg("event loop started")
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		case <-ctx.Done():
			l.stopOnce.Do(func() { close(l.quit) })
			l.drain()
			return
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// drain runs whatever is already queued so that resumptions submitted before
// shutdown are not silently lost.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack_trace", string(debug.Stack())).
				Msg("panic in event loop callback")
		}
	}()
	fn()
}

// Running reports whether the loop has been started and not yet stopped.
func (l *Loop) Running() bool {
	if !l.started.Load() {
		return false
	}
	select {
	case <-l.quit:
		return false
	default:
		return true
	}
}

// Submit queues fn to run on the loop. It blocks while the queue is full.
// Work submitted concurrently with Stop may be dropped.
func (l *Loop) Submit(fn func()) error {
	return l.SubmitContext(context.Background(), fn)
}

// SubmitContext is Submit bounded by ctx: if the queue stays full until ctx is
// done, fn is not queued and ctx.Err() is returned.
func (l *Loop) SubmitContext(ctx context.Context, fn func()) error {
	if !l.Running() {
		return ErrNotRunning
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.quit:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop and waits for it to return. It must not be called
// from a function that is itself running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.SubmitContext(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the loop after draining queued work, waiting at most until
// ctx is done. Stopping a loop that never started is a no-op.
func (l *Loop) Stop(ctx context.Context) error {
	if !l.started.Load() {
		return nil
	}
	l.stopOnce.Do(func() { close(l.quit) })
	select {
	case <-l.done:
		log.Info().Msg("event loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var defaultLoop atomic.Pointer[Loop]

// StartDefault creates and starts the process-wide loop. Starting it twice is
// a configuration error and returns ErrAlreadyStarted.
func StartDefault(ctx context.Context, queueSize int) (*Loop, error) {
	l := New(queueSize)
	if !defaultLoop.CompareAndSwap(nil, l) {
		return nil, ErrAlreadyStarted.Msg("default event loop already started")
	}
	if err := l.Start(ctx); err != nil {
		defaultLoop.CompareAndSwap(l, nil)
		return nil, err
	}
	return l, nil
}

// Default returns the process-wide loop, or nil if StartDefault has not been
// called.
func Default() *Loop {
	return defaultLoop.Load()
}
