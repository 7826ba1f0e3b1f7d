// Package services exposes the conversation operations shared by the
// websocket dispatcher and the HTTP surface.
package services

import (
	"context"
	"log/slog"
	"time"

	"roomlink/contract"
	"roomlink/domain"
	apperrors "roomlink/errors"
	"roomlink/moderation"

	"github.com/google/uuid"
)

type IChatService interface {
	PostMessage(ctx context.Context, match domain.Match, senderID, content string,
		kind domain.MessageKind) (domain.Message, error)
	MarkRead(ctx context.Context, conversationID domain.ConversationID,
		messageIDs []uuid.UUID, readerID string) ([]uuid.UUID, error)
	History(ctx context.Context, conversationID domain.ConversationID,
		cursor *string) ([]domain.Message, *string, error)
}

// ChatService applies moderation and persistence policy around the message
// store. Store calls carry a short timeout; a timeout here is surfaced to
// the sender as a failure, never failed open, because durability is not a
// throttling concern.
type ChatService struct {
	messages     contract.MessageStore
	masker       *moderation.Masker
	log          *slog.Logger
	storeTimeout time.Duration
}

func NewChatService(messages contract.MessageStore, masker *moderation.Masker,
	log *slog.Logger, storeTimeout time.Duration) *ChatService {
	return &ChatService{
		messages:     messages,
		masker:       masker,
		log:          log,
		storeTimeout: storeTimeout,
	}
}

// PostMessage persists a message into the match's conversation and rolls the
// aggregate forward: last-message pointer moves, the recipient's unread
// counter increments. The caller broadcasts only after this returns nil.
func (s *ChatService) PostMessage(ctx context.Context, match domain.Match,
	senderID, content string, kind domain.MessageKind) (domain.Message, error) {
	if kind == domain.KindText {
		content = s.masker.Mask(content)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	msg, err := s.messages.CreateMessage(ctx, match.ID, senderID, content, kind)
	if err != nil {
		return domain.Message{}, &apperrors.PersistenceError{Op: "create message", Err: err}
	}

	recipient, ok := match.OtherParty(senderID)
	if !ok {
		// The guard already verified participation; reaching this is a bug.
		s.log.Error("sender is not a party of the match",
			"sender_id", senderID, "conversation_id", match.ID)
		return msg, nil
	}
	if err := s.messages.UpsertAggregate(ctx, msg, recipient); err != nil {
		return domain.Message{}, &apperrors.PersistenceError{Op: "upsert aggregate", Err: err}
	}
	return msg, nil
}

// MarkRead applies the reader's receipts and returns the ids that changed.
func (s *ChatService) MarkRead(ctx context.Context,
	conversationID domain.ConversationID, messageIDs []uuid.UUID,
	readerID string) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	affected, err := s.messages.MarkRead(ctx, conversationID, messageIDs, readerID)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "mark read", Err: err}
	}
	return affected, nil
}

// History returns a page of the conversation, newest first.
func (s *ChatService) History(ctx context.Context,
	conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	messages, next, err := s.messages.Messages(ctx, conversationID, cursor)
	if err != nil {
		return nil, nil, &apperrors.PersistenceError{Op: "load history", Err: err}
	}
	return messages, next, nil
}
