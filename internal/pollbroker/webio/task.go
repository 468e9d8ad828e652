package webio

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Task is the body of a preemptively scheduled session. It runs on its own
// goroutine; returning ends the session. ctx is cancelled when the session is
// closed from outside.
type Task func(ctx context.Context, io *TaskIO) error

// TaskIO is the task's side of the session.
type TaskIO struct {
	s *TaskSession
}

// Send queues a command for the browser.
func (io *TaskIO) Send(cmd Command) {
	if io.s.out.isClosed() {
		return
	}
	io.s.out.push(cmd)
}

// NextEvent blocks until the browser posts an event, ctx is done, or the
// session is closed.
func (io *TaskIO) NextEvent(ctx context.Context) (any, error) {
	return io.s.nextEvent(ctx)
}

// Info returns the session bootstrap metadata.
func (io *TaskIO) Info() Info {
	return io.s.info
}

// TaskSession runs a Task on a dedicated goroutine.
type TaskSession struct {
	info   Info
	out    outbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.Mutex
	events []any
	notify chan struct{}
}

// NewTaskSession starts task and returns its session.
func NewTaskSession(task Task, info Info) *TaskSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TaskSession{
		info:   info,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
		logger: log.With().Str("user_ip", info.UserIP).Str("backend", info.Backend).Logger(),
	}
	go s.run(task)
	return s
}

// TaskFactory returns a Factory that starts task for every new session.
func TaskFactory(task Task) Factory {
	return func(_ context.Context, info Info) (Session, error) {
		return NewTaskSession(task, info), nil
	}
}

func (s *TaskSession) run(task Task) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack_trace", string(debug.Stack())).
				Msg("task panicked")
		}
		s.out.finish()
		s.cancel()
	}()

	if err := task(s.ctx, &TaskIO{s: s}); err != nil && s.ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("task failed")
	}
}

func (s *TaskSession) nextEvent(ctx context.Context) (any, error) {
	for {
		s.mu.Lock()
		if len(s.events) > 0 {
			ev := s.events[0]
			s.events[0] = nil
			s.events = s.events[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, ErrSessionClosed
		}
	}
}

func (s *TaskSession) SendClientEvent(event any) {
	if s.out.isClosed() {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *TaskSession) PendingCommands() []Command {
	return s.out.drain()
}

func (s *TaskSession) Closed() bool {
	return s.out.isClosed()
}

// Close cancels the task. It does not wait for the task goroutine to return;
// Done does.
func (s *TaskSession) Close() {
	s.out.markClosed()
	s.cancel()
}

// Done is closed once the task goroutine has returned.
func (s *TaskSession) Done() <-chan struct{} {
	return s.done
}
