package server

import (
	"github.com/rs/zerolog/log"

	"github.com/tansive/pollbroker/internal/pollbroker/eventbus"
)

// LogLifecycle logs every session lifecycle event published on bus until the
// returned stop function is called or the bus shuts down.
func LogLifecycle(bus *eventbus.EventBus) (stop func()) {
	ch, unsubscribe := bus.Subscribe("session.*", 256)
	go func() {
		for ev := range ch {
			se, ok := ev.Data.(eventbus.SessionEvent)
			if !ok {
				continue
			}
			e := log.Info().
				Str("event_id", ev.ID).
				Str("topic", ev.Topic).
				Str("session_id", se.SessionID)
			if !se.LastSeen.IsZero() {
				e = e.Time("last_seen", se.LastSeen)
			}
			e.Msg("session lifecycle")
		}
	}()
	return unsubscribe
}
