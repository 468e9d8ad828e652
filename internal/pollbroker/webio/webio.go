// Package webio defines the interactive session the broker relays to, and
// provides two implementations: TaskSession runs a task on its own goroutine,
// ReactorSession runs callbacks on the shared event loop.
//
// The broker only ever uses the Session interface. Commands are opaque JSON
// objects produced by the task; client events are whatever JSON the browser
// posts.
package webio

import (
	"context"
	"net/http"
	"strings"
)

// Command is an instruction for the browser. The "command" key names it.
type Command = map[string]any

// CloseSessionCommand tells the browser to drop its local session state.
func CloseSessionCommand() Command {
	return Command{"command": "close_session"}
}

// Session is a live interactive session.
type Session interface {
	// SendClientEvent queues event for the task. It is a no-op once the
	// session is closed.
	SendClientEvent(event any)

	// PendingCommands returns and clears the commands produced since the
	// previous call, oldest first. It never returns nil.
	PendingCommands() []Command

	// Closed reports whether the task finished or the session was torn down.
	Closed() bool

	// Close releases the task. It is idempotent.
	Close()
}

// Info is the bootstrap metadata handed to a new session.
type Info struct {
	UserAgent    string `json:"user_agent"`
	UserLanguage string `json:"user_language"`
	ServerHost   string `json:"server_host"`
	Origin       string `json:"origin"`
	UserIP       string `json:"user_ip"`
	Backend      string `json:"backend"`
	Protocol     string `json:"protocol"`
	Request      any    `json:"-"`
}

// InfoFromHeaders extracts the header derived part of Info. UserLanguage is
// the first tag of Accept-Language without weight.
func InfoFromHeaders(h http.Header) Info {
	lang := h.Get("Accept-Language")
	for _, sep := range []string{",", " ", ";"} {
		lang, _, _ = strings.Cut(lang, sep)
	}
	return Info{
		UserAgent:    h.Get("User-Agent"),
		UserLanguage: lang,
		ServerHost:   h.Get("Host"),
		Origin:       h.Get("Origin"),
		Protocol:     "http",
	}
}

// Factory creates a session for a new polling client.
type Factory func(ctx context.Context, info Info) (Session, error)
