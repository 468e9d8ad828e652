// Package eventbus is an in-memory publish/subscribe bus for session
// lifecycle events. Topics are dot separated ("session.created"); a
// subscription pattern may use "*" for a whole segment, or be "*" alone to
// receive everything.
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Lifecycle topics published by the session registry.
const (
	TopicSessionCreated = "session.created"
	TopicSessionClosed  = "session.closed"
	TopicSessionExpired = "session.expired"
)

// Event is a single published event. ID is a ULID, so events sort by
// publication time.
type Event struct {
	ID    string
	Topic string
	At    time.Time
	Data  any
}

// SessionEvent is the payload of the lifecycle topics.
type SessionEvent struct {
	SessionID string
	LastSeen  time.Time
}

type subscriber struct {
	id      string
	pattern string
	channel chan Event
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// send delivers event, giving up after timeout. A zero timeout never blocks.
func (s *subscriber) send(event Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if timeout <= 0 {
		select {
		case s.channel <- event:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.channel <- event:
		return true
	case <-t.C:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.cancel()
		close(s.channel)
	}
}

// EventBus routes events from publishers to subscribers by topic pattern.
type EventBus struct {
	sync.RWMutex
	subscribers map[string]map[string]*subscriber // pattern -> id -> subscriber
	counter     uint64
	dropped     atomic.Uint64
}

func New() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers for events whose topic matches pattern. The returned
// channel is closed by the unsubscribe function or by Shutdown.
func (bus *EventBus) Subscribe(pattern string, bufferSize int) (<-chan Event, func()) {
	id := fmt.Sprintf("sub-%d", atomic.AddUint64(&bus.counter, 1))
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		id:      id,
		pattern: pattern,
		channel: make(chan Event, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	bus.Lock()
	defer bus.Unlock()

	if _, ok := bus.subscribers[pattern]; !ok {
		bus.subscribers[pattern] = make(map[string]*subscriber)
	}
	bus.subscribers[pattern][id] = sub

	unsubscribe := func() {
		bus.Lock()
		defer bus.Unlock()

		if subMap, ok := bus.subscribers[pattern]; ok {
			if s, ok := subMap[id]; ok {
				s.close()
				delete(subMap, id)
				if len(subMap) == 0 {
					delete(bus.subscribers, pattern)
				}
			}
		}
	}
	return sub.channel, unsubscribe
}

// Publish delivers data on topic to every matching subscriber. Slow
// subscribers lose the event once timeout elapses; with a zero timeout
// delivery never blocks the publisher.
func (bus *EventBus) Publish(topic string, data any, timeout time.Duration) {
	event := Event{
		ID:    ulid.Make().String(),
		Topic: topic,
		At:    time.Now(),
		Data:  data,
	}

	bus.RLock()
	defer bus.RUnlock()

	for pattern, subMap := range bus.subscribers {
		if !matchTopic(pattern, topic) {
			continue
		}
		for _, sub := range subMap {
			select {
			case <-sub.ctx.Done():
				continue
			default:
			}
			if !sub.send(event, timeout) {
				bus.dropped.Add(1)
			}
		}
	}
}

// Dropped returns the number of deliveries lost to full or closed subscribers.
func (bus *EventBus) Dropped() uint64 {
	return bus.dropped.Load()
}

// Shutdown closes every subscriber.
func (bus *EventBus) Shutdown() {
	bus.Lock()
	defer bus.Unlock()

	for _, subs := range bus.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	bus.subscribers = make(map[string]map[string]*subscriber)
}

func matchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	patternParts := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")
	if len(patternParts) != len(topicParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] == "*" {
			continue
		}
		if patternParts[i] != topicParts[i] {
			return false
		}
	}
	return true
}
