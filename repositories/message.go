// Package repositories contains the badger-backed persistence adapters.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomlink/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Aggregate upserts on a busy conversation can conflict under badger's
// optimistic concurrency; conflicted transactions are retried.
const updateAttempts = 3

// MessageRepository implements the Message Store Adapter on BadgerDB.
//
// Message keys are formatted as "msg:{conversation}:{timestamp_padded}:{uuid}":
//  1. The 19-digit zero padding makes lexicographical order chronological.
//  2. The UUID suffix disconnects collisions when two messages land on the
//     same nanosecond.
//
// A per-message index "mid:{conversation}:{uuid}" resolves a message id back
// to its primary key for read-receipt updates, and "agg:{conversation}"
// holds the conversation aggregate.
type MessageRepository struct {
	db       *badger.DB
	log      *slog.Logger
	pageSize *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, pageSize *int) *MessageRepository {
	return &MessageRepository{db: db, log: log, pageSize: pageSize}
}

func messageKey(conversationID domain.ConversationID, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", conversationID, at.UnixNano(), id))
}

func indexKey(conversationID domain.ConversationID, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("mid:%s:%s", conversationID, id))
}

func aggregateKey(conversationID domain.ConversationID) []byte {
	return []byte("agg:" + conversationID)
}

// CreateMessage persists a new message in delivery state "sent". CreatedAt
// is assigned here and is authoritative for read-side ordering.
func (r *MessageRepository) CreateMessage(ctx context.Context,
	conversationID domain.ConversationID, senderID, content string,
	kind domain.MessageKind) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		DeliveryState:  domain.StateSent,
		CreatedAt:      time.Now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, err
	}

	key := messageKey(conversationID, msg.CreatedAt, msg.ID)
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, raw); err != nil {
			return err
		}
		return txn.Set(indexKey(conversationID, msg.ID), key)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// UpsertAggregate moves the last-message pointer and increments the
// recipient's unread counter in one transaction.
func (r *MessageRepository) UpsertAggregate(ctx context.Context,
	last domain.Message, incrementUnreadFor string) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		agg, err := readAggregate(txn, last.ConversationID)
		if err != nil {
			return err
		}
		agg.LastMessageID = last.ID
		agg.LastMessageAt = last.CreatedAt
		agg.UnreadCount[incrementUnreadFor]++
		return writeAggregate(txn, agg)
	})
}

// MarkRead advances the given messages to "read" for the reader, skipping
// messages the reader sent themself, and zeroes the reader's unread counter.
// Delivery state and the read-by set only ever grow.
func (r *MessageRepository) MarkRead(ctx context.Context,
	conversationID domain.ConversationID, messageIDs []uuid.UUID,
	readerID string) ([]uuid.UUID, error) {
	var affected []uuid.UUID

	err := r.update(ctx, func(txn *badger.Txn) error {
		affected = affected[:0]
		for _, id := range messageIDs {
			item, err := txn.Get(indexKey(conversationID, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				r.log.Debug("read receipt for unknown message",
					"conversation_id", conversationID, "message_id", id)
				continue
			}
			if err != nil {
				return err
			}
			var key []byte
			if err := item.Value(func(v []byte) error {
				key = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}

			msg, err := readMessage(txn, key)
			if err != nil {
				return err
			}
			// A sender cannot "read" their own message.
			if msg.SenderID == readerID {
				continue
			}
			changed := false
			if next := msg.DeliveryState.Advance(domain.StateRead); next != msg.DeliveryState {
				msg.DeliveryState = next
				changed = true
			}
			if !msg.WasReadBy(readerID) {
				msg.ReadBy = append(msg.ReadBy, readerID)
				changed = true
			}
			if !changed {
				continue
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(key, raw); err != nil {
				return err
			}
			affected = append(affected, id)
		}

		agg, err := readAggregate(txn, conversationID)
		if err != nil {
			return err
		}
		agg.UnreadCount[readerID] = 0
		return writeAggregate(txn, agg)
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

// Messages retrieves a page of messages for a conversation, newest first.
// Thanks to the padded timestamp in the key the iteration order is the
// chronological order. The returned cursor resumes the next page.
func (r *MessageRepository) Messages(ctx context.Context,
	conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var messages []domain.Message
	var lastKey string

	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", conversationID)
		prefix := []byte(prefixStr)

		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// Seek past the newest possible key, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		} else {
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if r.pageSize != nil && len(messages) == *r.pageSize {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			var msg domain.Message
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return messages, &lastKey, nil
}

// Aggregate returns the conversation rollup, zero-valued when nothing has
// been sent yet.
func (r *MessageRepository) Aggregate(ctx context.Context,
	conversationID domain.ConversationID) (domain.ConversationAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConversationAggregate{}, err
	}

	var agg domain.ConversationAggregate
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		agg, err = readAggregate(txn, conversationID)
		return err
	})
	return agg, err
}

func (r *MessageRepository) update(ctx context.Context,
	fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		if err = r.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func readMessage(txn *badger.Txn, key []byte) (domain.Message, error) {
	item, err := txn.Get(key)
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &msg)
	})
	return msg, err
}

func readAggregate(txn *badger.Txn,
	conversationID domain.ConversationID) (domain.ConversationAggregate, error) {
	agg := domain.ConversationAggregate{
		ConversationID: conversationID,
		UnreadCount:    make(map[string]int),
	}
	item, err := txn.Get(aggregateKey(conversationID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return agg, nil
	}
	if err != nil {
		return agg, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &agg)
	})
	if agg.UnreadCount == nil {
		agg.UnreadCount = make(map[string]int)
	}
	return agg, err
}

func writeAggregate(txn *badger.Txn, agg domain.ConversationAggregate) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return txn.Set(aggregateKey(agg.ConversationID), raw)
}
