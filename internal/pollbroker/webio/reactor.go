package webio

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tansive/pollbroker/internal/pollbroker/eventloop"
)

// Reactor is a cooperatively scheduled task. Every callback runs on the
// event loop the session is bound to, never concurrently with another
// callback on that loop.
type Reactor interface {
	// Start runs once when the session is created.
	Start(io *ReactorIO)
	// OnEvent runs for each client event.
	OnEvent(io *ReactorIO, event any)
}

// Stopper is implemented by reactors that need to release resources when the
// session is closed from outside.
type Stopper interface {
	Stop()
}

// ReactorIO is the reactor's side of the session.
type ReactorIO struct {
	s *ReactorSession
}

// Send queues a command for the browser.
func (io *ReactorIO) Send(cmd Command) {
	if io.s.out.isClosed() {
		return
	}
	io.s.out.push(cmd)
}

// Finish ends the session: close_session is queued after pending commands.
func (io *ReactorIO) Finish() {
	io.s.out.finish()
}

func (io *ReactorIO) Info() Info {
	return io.s.info
}

// ReactorSession binds a Reactor to an event loop. Resumptions are handed to
// the loop with Submit, so request goroutines never run reactor code. A request
// blocked on a full loop queue is released when the session is closed.
type ReactorSession struct {
	info     Info
	out      outbox
	loop     *eventloop.Loop
	reactor  Reactor
	io       *ReactorIO
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewReactorSession binds r to loop and schedules its Start callback.
func NewReactorSession(loop *eventloop.Loop, r Reactor, info Info) (*ReactorSession, error) {
	if loop == nil || !loop.Running() {
		return nil, ErrLoopRequired
	}
	s := &ReactorSession{
		info:    info,
		loop:    loop,
		reactor: r,
	}
	s.io = &ReactorIO{s: s}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := loop.Submit(func() { r.Start(s.io) }); err != nil {
		s.cancel()
		return nil, ErrLoopRequired.Err(err)
	}
	return s, nil
}

// ReactorFactory returns a Factory binding a fresh reactor to the loop
// returned by loop at creation time.
func ReactorFactory(loop func() *eventloop.Loop, newReactor func() Reactor) Factory {
	return func(_ context.Context, info Info) (Session, error) {
		s, err := NewReactorSession(loop(), newReactor(), info)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *ReactorSession) SendClientEvent(event any) {
	if s.out.isClosed() {
		return
	}
	err := s.loop.SubmitContext(s.ctx, func() {
		if s.out.isClosed() {
			return
		}
		s.reactor.OnEvent(s.io, event)
	})
	if err != nil {
		log.Warn().Err(err).Str("user_ip", s.info.UserIP).Msg("client event dropped")
	}
}

func (s *ReactorSession) PendingCommands() []Command {
	return s.out.drain()
}

func (s *ReactorSession) Closed() bool {
	return s.out.isClosed()
}

// Close ends the session. Stop is scheduled once, including for reactors
// that already ended themselves with Finish.
func (s *ReactorSession) Close() {
	s.out.markClosed()
	s.cancel()
	s.stopOnce.Do(func() {
		st, ok := s.reactor.(Stopper)
		if !ok {
			return
		}
		if err := s.loop.Submit(st.Stop); err != nil {
			log.Warn().Err(err).Str("user_ip", s.info.UserIP).Msg("reactor stop not scheduled")
		}
	})
}
