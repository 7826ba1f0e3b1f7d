package realtime

import (
	"context"
	"log/slog"
	"time"

	"roomlink/contract"
	"roomlink/domain/event"
)

// Presence broadcasts online/offline transitions to the mutual-conversation
// partners of the affected identity. Not client-initiated; the websocket
// edge calls it on registry transitions.
type Presence struct {
	registry *Registry
	guard    *Guard
	log      *slog.Logger
}

func NewPresence(registry *Registry, guard *Guard, log *slog.Logger) *Presence {
	return &Presence{registry: registry, guard: guard, log: log}
}

func (p *Presence) Online(ctx context.Context, identity string) {
	p.notify(ctx, identity, event.UserOnline)
}

func (p *Presence) Offline(ctx context.Context, identity string) {
	p.notify(ctx, identity, event.UserOffline)
}

func (p *Presence) notify(ctx context.Context, identity string, name event.Name) {
	partners, err := p.guard.Partners(ctx, identity)
	if err != nil {
		p.log.Error("presence fan-out skipped, partner lookup failed",
			"identity", identity, "error", err)
		return
	}

	ev := event.Outbound{
		Event: name,
		Data:  event.PresencePayload{UserID: identity, At: time.Now().UTC()},
	}
	for _, partner := range partners {
		deliver(ctx, p.log, p.registry.SinksFor(partner), ev)
	}
}

// deliver pushes an event to each sink, logging failures without letting
// one slow consumer affect the others.
func deliver(ctx context.Context, log *slog.Logger,
	sinks []contract.EventSink, ev event.Outbound) {
	for _, sink := range sinks {
		if err := sink.Consume(ctx, ev); err != nil {
			log.Warn("event delivery failed", "event", ev.Event, "error", err)
		}
	}
}
