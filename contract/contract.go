// Package contract holds the interfaces shared across packages so that every
// component is an explicitly constructed, passed-in dependency.
package contract

import (
	"context"
	"reflect"

	"roomlink/domain"
	"roomlink/domain/event"

	"github.com/google/uuid"
)

// EventSink is one delivery target, usually a single live connection.
type EventSink interface {
	Consume(ctx context.Context, ev event.Outbound) error
}

// Identity is the result of verifying a handshake token.
type Identity struct {
	Subject  string
	DeviceID string
}

// IdentityVerifier is the identity collaborator: verify a token, return the
// subject. Consumed once per connection at handshake.
type IdentityVerifier interface {
	Verify(token string) (Identity, error)
}

// MatchStore is the relationship collaborator. Absence of a record always
// means "not authorized", never "authorized by default".
type MatchStore interface {
	Match(ctx context.Context, id domain.ConversationID) (domain.Match, error)
	MatchesFor(ctx context.Context, identity string) ([]domain.Match, error)
	Put(ctx context.Context, match domain.Match) error
}

// MessageStore is the persistence contract for messages and conversation
// aggregates. Aggregate updates must be atomic, not read-modify-write racy.
type MessageStore interface {
	CreateMessage(ctx context.Context, conversationID domain.ConversationID,
		senderID, content string, kind domain.MessageKind) (domain.Message, error)
	UpsertAggregate(ctx context.Context, last domain.Message,
		incrementUnreadFor string) error
	// MarkRead advances delivery state and read-by sets for the given
	// messages, skipping those the reader sent, resets the reader's unread
	// counter, and returns the ids that actually changed.
	MarkRead(ctx context.Context, conversationID domain.ConversationID,
		messageIDs []uuid.UUID, readerID string) ([]uuid.UUID, error)
	Messages(ctx context.Context, conversationID domain.ConversationID,
		cursor *string) ([]domain.Message, *string, error)
	Aggregate(ctx context.Context,
		conversationID domain.ConversationID) (domain.ConversationAggregate, error)
}

// Worker doesn't protect itself; supervision belongs to the Supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// for logging and supervision purposes.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
