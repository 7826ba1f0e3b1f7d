package repositories

import (
	"context"
	"log/slog"
	"time"

	"roomlink/contract"
	"roomlink/domain"

	"github.com/google/uuid"
)

// InstrumentedMessageStore wraps a MessageStore with operation timing and
// failure logging. Explicit composition, nothing intercepted.
type InstrumentedMessageStore struct {
	next contract.MessageStore
	log  *slog.Logger
}

func NewInstrumentedMessageStore(next contract.MessageStore,
	log *slog.Logger) *InstrumentedMessageStore {
	return &InstrumentedMessageStore{next: next, log: log}
}

func (s *InstrumentedMessageStore) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		s.log.Error("message store operation failed",
			"op", op, "elapsed", elapsed, "error", err)
		return
	}
	s.log.Debug("message store operation", "op", op, "elapsed", elapsed)
}

func (s *InstrumentedMessageStore) CreateMessage(ctx context.Context,
	conversationID domain.ConversationID, senderID, content string,
	kind domain.MessageKind) (domain.Message, error) {
	start := time.Now()
	msg, err := s.next.CreateMessage(ctx, conversationID, senderID, content, kind)
	s.observe("create_message", start, err)
	return msg, err
}

func (s *InstrumentedMessageStore) UpsertAggregate(ctx context.Context,
	last domain.Message, incrementUnreadFor string) error {
	start := time.Now()
	err := s.next.UpsertAggregate(ctx, last, incrementUnreadFor)
	s.observe("upsert_aggregate", start, err)
	return err
}

func (s *InstrumentedMessageStore) MarkRead(ctx context.Context,
	conversationID domain.ConversationID, messageIDs []uuid.UUID,
	readerID string) ([]uuid.UUID, error) {
	start := time.Now()
	affected, err := s.next.MarkRead(ctx, conversationID, messageIDs, readerID)
	s.observe("mark_read", start, err)
	return affected, err
}

func (s *InstrumentedMessageStore) Messages(ctx context.Context,
	conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error) {
	start := time.Now()
	messages, next, err := s.next.Messages(ctx, conversationID, cursor)
	s.observe("messages", start, err)
	return messages, next, err
}

func (s *InstrumentedMessageStore) Aggregate(ctx context.Context,
	conversationID domain.ConversationID) (domain.ConversationAggregate, error) {
	start := time.Now()
	agg, err := s.next.Aggregate(ctx, conversationID)
	s.observe("aggregate", start, err)
	return agg, err
}
