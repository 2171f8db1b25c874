package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/agw/gateway/internal/eventbus"
	"github.com/agw/gateway/internal/models"
	"github.com/agw/gateway/internal/storage"
)

// EventSink is the only path an event should take from producer to
// subscriber: assign it a sequence number, persist it, and only then fan it
// out. Event is append-only and the events table is the audit trail, so a
// subscriber must never be able to observe an event the Repository doesn't
// have yet. Both Gateway and Engine publish through an EventSink rather than
// a bare *eventbus.Bus.
type EventSink struct {
	bus    *eventbus.Bus
	repo   storage.Repository
	logger *slog.Logger
}

// NewEventSink wires a sink over bus/repo. repo may be nil only in tests that
// don't care about durability; production wiring always supplies one.
func NewEventSink(bus *eventbus.Bus, repo storage.Repository, logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{bus: bus, repo: repo, logger: logger.With("component", "event_sink")}
}

// Publish stamps evt with a sequence number and timestamp (if unset),
// persists it, then fans it out. It satisfies agent.EventPublisher.
func (s *EventSink) Publish(evt models.Event) models.Event {
	if evt.TS.IsZero() {
		evt.TS = time.Now()
	}
	evt.Seq = s.bus.NextSeq()

	if s.repo != nil {
		if err := s.repo.AddEvent(context.Background(), evt); err != nil {
			s.logger.Error("persist event failed", "type", evt.Type, "run_id", evt.RunID, "error", err)
		}
	}

	s.bus.FanOut(evt)
	return evt
}
