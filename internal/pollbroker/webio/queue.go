package webio

import (
	"sync"
)

// outbox holds the commands produced by a session and its closed flag. Both
// session kinds share it.
type outbox struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
}

func (o *outbox) push(cmd Command) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, cmd)
}

func (o *outbox) drain() []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	cmds := o.commands
	o.commands = nil
	if cmds == nil {
		return []Command{}
	}
	return cmds
}

// markClosed sets the closed flag and reports whether this call changed it.
func (o *outbox) markClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.closed = true
	return true
}

// finish queues close_session and marks the outbox closed, once.
func (o *outbox) finish() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.commands = append(o.commands, CloseSessionCommand())
	o.closed = true
	return true
}

func (o *outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
