package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"roomlink/domain"
	apperrors "roomlink/errors"

	"github.com/dgraph-io/badger/v4"
)

// MatchRepository gives the Authorization Guard read access to the match
// records owned by the matching service. Records are stored under
// "match:{id}" with one "mby:{identity}:{id}" index entry per party.
type MatchRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMatchRepository(db *badger.DB, log *slog.Logger) *MatchRepository {
	return &MatchRepository{db: db, log: log}
}

func matchKey(id domain.ConversationID) []byte {
	return []byte("match:" + id)
}

func matchIndexKey(identity string, id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("mby:%s:%s", identity, id))
}

// Match returns the record for one conversation. Absence is reported as
// ErrMatchNotFound, which callers must treat as "not authorized".
func (r *MatchRepository) Match(ctx context.Context,
	id domain.ConversationID) (domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return domain.Match{}, err
	}

	var match domain.Match
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(matchKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.ErrMatchNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &match)
		})
	})
	return match, err
}

// MatchesFor returns every match record the identity is a party of,
// regardless of status. Callers filter for conversability.
func (r *MatchRepository) MatchesFor(ctx context.Context,
	identity string) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []domain.ConversationID
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("mby:%s:", identity)
		prefix := []byte(prefixStr)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, domain.ConversationID(it.Item().Key()[len(prefixStr):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]domain.Match, 0, len(ids))
	for _, id := range ids {
		match, err := r.Match(ctx, id)
		if errors.Is(err, apperrors.ErrMatchNotFound) {
			r.log.Debug("dangling match index", "identity", identity, "match_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Put writes a match record and its party indexes. Normally exercised by
// the matching service; the messaging core only reads.
func (r *MatchRepository) Put(ctx context.Context, match domain.Match) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(match)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(matchKey(match.ID), raw); err != nil {
			return err
		}
		if err := txn.Set(matchIndexKey(match.PartyA, match.ID), nil); err != nil {
			return err
		}
		return txn.Set(matchIndexKey(match.PartyB, match.ID), nil)
	})
}
