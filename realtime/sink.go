package realtime

import (
	"context"
	"log/slog"

	"roomlink/domain/event"
)

// SocketSink bridges broadcasts onto a single connection's write pump.
// Consume never blocks the broadcaster: a full buffer drops the event,
// which is backpressure the write pump will report through slow-consumer
// logs rather than by stalling unrelated connections.
type SocketSink struct {
	log    *slog.Logger
	events chan event.Outbound
}

func NewSocketSink(log *slog.Logger, bufferSize int) *SocketSink {
	return &SocketSink{
		log:    log,
		events: make(chan event.Outbound, bufferSize),
	}
}

// Consume is called by the dispatcher and presence fan-out. The write pump
// takes it from here.
func (s *SocketSink) Consume(ctx context.Context, ev event.Outbound) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Warn("connection buffer full, dropping event", "event", ev.Event)
		return nil
	}
}

// Events exposes the delivery channel to the write pump.
func (s *SocketSink) Events() <-chan event.Outbound {
	return s.events
}
