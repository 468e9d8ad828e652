// Package registry holds the live polling sessions of this process.
//
// A Registry maps session ids to session handles and keeps an activity index
// ordered from least to most recently seen. Both structures sit behind one
// mutex and are only reachable through the methods below, so an id is in the
// index exactly when it is in the handle map.
//
// Sessions live in process memory only. Several broker processes behind one
// load balancer hold disjoint registries; clients must be pinned to a process.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/tansive/pollbroker/internal/pollbroker/eventbus"
	"github.com/tansive/pollbroker/internal/pollbroker/webio"
)

// Entry is one row of the activity index.
type Entry struct {
	ID       string
	LastSeen time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]webio.Session
	activity *orderedmap.OrderedMap[string, time.Time] // oldest first

	now func() time.Time
	bus *eventbus.EventBus
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]webio.Session),
		activity: orderedmap.New[string, time.Time](),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// stamp returns the current time, never earlier than the newest index entry.
// Caller holds r.mu.
func (r *Registry) stamp() time.Time {
	now := r.now()
	if newest := r.activity.Newest(); newest != nil && now.Before(newest.Value) {
		return newest.Value
	}
	return now
}

// Register adds a session as the most recently seen entry.
func (r *Registry) Register(id string, handle webio.Session) error {
	if id == "" || handle == nil {
		return ErrInvalidSession
	}
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return ErrAlreadyExists.Msg("session already exists: " + id)
	}
	ts := r.stamp()
	r.sessions[id] = handle
	r.activity.Set(id, ts)
	r.mu.Unlock()

	log.Debug().Str("session_id", id).Msg("session registered")
	r.publish(eventbus.TopicSessionCreated, id, ts)
	return nil
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (webio.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// LookupFresh is Lookup for a session that must not have outlived expire.
// A session idle for at least expire is evicted, closed and published as
// expired right here, and reported as absent, whether or not a sweep has
// reached it yet.
func (r *Registry) LookupFresh(id string, expire time.Duration) (webio.Session, bool) {
	r.mu.Lock()
	handle, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	lastSeen, _ := r.activity.Get(id)
	if r.now().Sub(lastSeen) < expire {
		r.mu.Unlock()
		return handle, true
	}
	delete(r.sessions, id)
	r.activity.Delete(id)
	r.mu.Unlock()

	handle.Close()
	log.Debug().Str("session_id", id).Time("last_seen", lastSeen).Msg("session expired")
	r.publish(eventbus.TopicSessionExpired, id, lastSeen)
	return nil, false
}

// Touch marks id as seen now and moves it to the most recently seen position.
// Unknown ids are ignored.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	r.activity.Set(id, r.stamp())
	_ = r.activity.MoveToBack(id)
}

// Evict removes id and closes its session. It reports whether id was live;
// evicting an unknown id does nothing.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	handle, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	lastSeen, _ := r.activity.Get(id)
	delete(r.sessions, id)
	r.activity.Delete(id)
	r.mu.Unlock()

	handle.Close()
	log.Debug().Str("session_id", id).Msg("session evicted")
	r.publish(eventbus.TopicSessionClosed, id, lastSeen)
	return true
}

// Sweep evicts every session idle for at least expire, oldest first, and
// returns how many were evicted. The scan stops at the first fresh entry:
// everything after it was seen more recently.
func (r *Registry) Sweep(expire time.Duration) int {
	r.mu.Lock()
	now := r.now()
	var expired []Entry
	var handles []webio.Session
	for {
		oldest := r.activity.Oldest()
		if oldest == nil || now.Sub(oldest.Value) < expire {
			break
		}
		expired = append(expired, Entry{ID: oldest.Key, LastSeen: oldest.Value})
		handles = append(handles, r.sessions[oldest.Key])
		delete(r.sessions, oldest.Key)
		r.activity.Delete(oldest.Key)
	}
	r.mu.Unlock()

	for i, e := range expired {
		if handles[i] != nil {
			handles[i].Close()
		}
		log.Debug().Str("session_id", e.ID).Time("last_seen", e.LastSeen).Msg("session expired")
		r.publish(eventbus.TopicSessionExpired, e.ID, e.LastSeen)
	}
	return len(expired)
}

// CloseAll evicts every session, for shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]webio.Session)
	r.activity = orderedmap.New[string, time.Time]()
	r.mu.Unlock()

	for id, s := range sessions {
		s.Close()
		r.publish(eventbus.TopicSessionClosed, id, time.Time{})
	}
	return len(sessions)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Activity returns a snapshot of the activity index, least recently seen
// first.
func (r *Registry) Activity() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, r.activity.Len())
	for p := r.activity.Oldest(); p != nil; p = p.Next() {
		entries = append(entries, Entry{ID: p.Key, LastSeen: p.Value})
	}
	return entries
}

func (r *Registry) publish(topic, id string, lastSeen time.Time) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(topic, eventbus.SessionEvent{SessionID: id, LastSeen: lastSeen}, 0)
}
