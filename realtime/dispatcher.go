package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"roomlink/contract"
	"roomlink/domain"
	"roomlink/domain/event"
	apperrors "roomlink/errors"
	"roomlink/ratelimit"
	"roomlink/services"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Dispatcher routes every inbound event through the same pipeline:
// shape validation, rate limiting, authorization, handler, broadcast.
// Validation and authorization failures never reach a handler; handler
// failures go back to the originating connection only, never into a
// broadcast.
//
// Two limiters are wired on purpose: the shared one throttles fairly
// across instances, while typing signals go through an in-process limiter
// because they are low-stakes and latency-sensitive.
type Dispatcher struct {
	log           *slog.Logger
	validate      *validator.Validate
	limiter       *ratelimit.Limiter
	typingLimiter *ratelimit.Limiter
	guard         *Guard
	registry      *Registry
	chat          services.IChatService
}

func NewDispatcher(log *slog.Logger, limiter, typingLimiter *ratelimit.Limiter,
	guard *Guard, registry *Registry, chat services.IChatService) *Dispatcher {
	return &Dispatcher{
		log:           log,
		validate:      validator.New(),
		limiter:       limiter,
		typingLimiter: typingLimiter,
		guard:         guard,
		registry:      registry,
		chat:          chat,
	}
}

// Dispatch processes one inbound frame from a live connection.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Connection, env event.Envelope) {
	d.registry.Touch(conn.Identity, conn.ID)

	var err error
	switch env.Event {
	case event.ChatSend:
		err = d.handleSend(ctx, conn, env.Data)
	case event.ChatTyping:
		err = d.handleTyping(ctx, conn, env.Data)
	case event.ChatRead:
		err = d.handleRead(ctx, conn, env.Data)
	case event.RoomJoin:
		err = d.handleJoin(ctx, conn, env.Data)
	case event.RoomLeave:
		err = d.handleLeave(ctx, conn, env.Data)
	default:
		err = fmt.Errorf("%w: %q", apperrors.ErrUnknownEvent, env.Event)
	}

	if err != nil {
		d.reject(ctx, conn, env.Event, err)
	}
}

func (d *Dispatcher) handleSend(ctx context.Context, conn *Connection,
	raw json.RawMessage) error {
	var payload event.SendMessage
	if err := d.decode(event.ChatSend, raw, &payload); err != nil {
		return err
	}

	if res := d.limiter.Consume(ctx, conn.Identity, ratelimit.ClassMessageSend); !res.Allowed {
		return &apperrors.RateLimitError{
			Class:      string(ratelimit.ClassMessageSend),
			RetryAfter: res.RetryAfter,
		}
	}

	match, err := d.guard.Authorize(ctx, conn.Identity,
		domain.ConversationID(payload.ConversationID))
	if err != nil {
		return err
	}

	msg, err := d.chat.PostMessage(ctx, match, conn.Identity,
		payload.Content, domain.MessageKind(payload.Kind))
	if err != nil {
		return err
	}

	// The room sees message:new; the originating connection gets the
	// message:sent acknowledgment instead, so its optimistic UI can
	// reconcile without treating its own message as new.
	newEv := event.Outbound{Event: event.MessageNew, Data: event.MessagePayload{Message: msg}}
	if partner, ok := match.OtherParty(conn.Identity); ok {
		deliver(ctx, d.log, d.registry.SinksFor(partner), newEv)
	}
	deliver(ctx, d.log, d.registry.SinksFor(conn.Identity, conn.ID), newEv)
	deliver(ctx, d.log, []contract.EventSink{conn.sink}, event.Outbound{
		Event: event.MessageSent, Data: event.MessagePayload{Message: msg},
	})
	return nil
}

func (d *Dispatcher) handleTyping(ctx context.Context, conn *Connection,
	raw json.RawMessage) error {
	var payload event.Typing
	if err := d.decode(event.ChatTyping, raw, &payload); err != nil {
		return err
	}

	// Over-budget typing signals are dropped without an error event:
	// typing spam is not user-actionable.
	if res := d.typingLimiter.Consume(ctx, conn.Identity, ratelimit.ClassTyping); !res.Allowed {
		d.log.Debug("typing signal dropped, over budget", "identity", conn.Identity)
		return nil
	}

	match, err := d.guard.Authorize(ctx, conn.Identity,
		domain.ConversationID(payload.ConversationID))
	if err != nil {
		return err
	}

	name := event.TypingStop
	if payload.IsTyping {
		name = event.TypingStart
	}
	if partner, ok := match.OtherParty(conn.Identity); ok {
		deliver(ctx, d.log, d.registry.SinksFor(partner), event.Outbound{
			Event: name,
			Data: event.TypingPayload{
				ConversationID: payload.ConversationID,
				UserID:         conn.Identity,
			},
		})
	}
	return nil
}

func (d *Dispatcher) handleRead(ctx context.Context, conn *Connection,
	raw json.RawMessage) error {
	var payload event.Read
	if err := d.decode(event.ChatRead, raw, &payload); err != nil {
		return err
	}

	if res := d.limiter.Consume(ctx, conn.Identity, ratelimit.ClassGenericAPI); !res.Allowed {
		return &apperrors.RateLimitError{
			Class:      string(ratelimit.ClassGenericAPI),
			RetryAfter: res.RetryAfter,
		}
	}

	match, err := d.guard.Authorize(ctx, conn.Identity,
		domain.ConversationID(payload.ConversationID))
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(payload.MessageIDs))
	for _, id := range payload.MessageIDs {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return &apperrors.ValidationError{
				Event:  string(event.ChatRead),
				Reason: fmt.Sprintf("messageIds contains invalid id %q", id),
			}
		}
		ids = append(ids, parsed)
	}

	affected, err := d.chat.MarkRead(ctx, match.ID, ids, conn.Identity)
	if err != nil {
		return err
	}

	readEv := event.Outbound{
		Event: event.MessageRead,
		Data: event.ReadPayload{
			ConversationID: payload.ConversationID,
			ReaderID:       conn.Identity,
			MessageIDs:     affected,
		},
	}
	if partner, ok := match.OtherParty(conn.Identity); ok {
		deliver(ctx, d.log, d.registry.SinksFor(partner), readEv)
	}
	deliver(ctx, d.log, d.registry.SinksFor(conn.Identity), readEv)
	return nil
}

func (d *Dispatcher) handleJoin(ctx context.Context, conn *Connection,
	raw json.RawMessage) error {
	var payload event.JoinRoom
	if err := d.decode(event.RoomJoin, raw, &payload); err != nil {
		return err
	}

	if res := d.limiter.Consume(ctx, conn.Identity, ratelimit.ClassRoomJoin); !res.Allowed {
		return &apperrors.RateLimitError{
			Class:      string(ratelimit.ClassRoomJoin),
			RetryAfter: res.RetryAfter,
		}
	}

	if _, err := d.guard.Authorize(ctx, conn.Identity,
		domain.ConversationID(payload.ConversationID)); err != nil {
		return err
	}

	deliver(ctx, d.log, []contract.EventSink{conn.sink}, event.Outbound{
		Event: event.RoomJoined,
		Data:  event.JoinedPayload{ConversationID: payload.ConversationID},
	})
	return nil
}

func (d *Dispatcher) handleLeave(_ context.Context, _ *Connection,
	raw json.RawMessage) error {
	var payload event.LeaveRoom
	if err := d.decode(event.RoomLeave, raw, &payload); err != nil {
		return err
	}
	// Room membership is derived from the match record, so leaving is a
	// client-side affair; the frame is accepted and nothing is broadcast.
	return nil
}

// decode unmarshals and shape-validates an inbound payload.
func (d *Dispatcher) decode(name event.Name, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return &apperrors.ValidationError{Event: string(name), Reason: "missing payload"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &apperrors.ValidationError{Event: string(name), Reason: "malformed JSON"}
	}
	if err := d.validate.Struct(out); err != nil {
		return &apperrors.ValidationError{Event: string(name), Reason: err.Error()}
	}
	return nil
}

// reject logs the failure per its class and emits a structured error event
// to the originating connection only. Nothing internal crosses the wire.
func (d *Dispatcher) reject(ctx context.Context, conn *Connection,
	name event.Name, err error) {
	payload := event.ErrorPayload{Code: apperrors.CodeOf(err)}

	var (
		validation *apperrors.ValidationError
		authz      *apperrors.AuthorizationError
		rate       *apperrors.RateLimitError
		persist    *apperrors.PersistenceError
	)
	switch {
	case errors.Is(err, apperrors.ErrUnknownEvent):
		payload.Message = fmt.Sprintf("unsupported event %q", name)
		d.log.Debug("unknown event rejected", "identity", conn.Identity, "event", name)
	case errors.As(err, &validation):
		payload.Message = validation.Error()
		d.log.Debug("malformed event rejected",
			"identity", conn.Identity, "event", name, "reason", validation.Reason)
	case errors.As(err, &authz):
		payload.Message = "not authorized for this conversation"
		d.log.Warn("unauthorized action rejected",
			"identity", authz.Identity, "conversation_id", authz.ConversationID,
			"event", name)
	case errors.As(err, &rate):
		payload.Message = "rate limit exceeded"
		payload.RetryAfter = int(rate.RetryAfter.Seconds())
		if payload.RetryAfter < 1 {
			payload.RetryAfter = 1
		}
		d.log.Debug("rate limited event rejected",
			"identity", conn.Identity, "event", name, "class", rate.Class)
	case errors.As(err, &persist):
		payload.Message = "message could not be persisted"
		d.log.Error("persistence failure surfaced to client",
			"identity", conn.Identity, "event", name, "error", err)
	default:
		payload.Message = "internal error"
		d.log.Error("event handling failed",
			"identity", conn.Identity, "event", name, "error", err)
	}

	deliver(ctx, d.log, []contract.EventSink{conn.sink}, event.Outbound{
		Event: event.Error, Data: payload,
	})
}
