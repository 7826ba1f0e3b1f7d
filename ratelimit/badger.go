package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "rl:"

// Transactions on the same key can conflict under badger's optimistic
// concurrency; a conflicted consume is retried before giving up.
const slideAttempts = 3

// BadgerStore is the shared counter store used for the HTTP path and for
// cross-instance fairness on message sends. The purge/append/count unit runs
// inside one transaction; entries expire on their own through a TTL so idle
// subjects never need sweeping.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Slide(ctx context.Context, key string, cutoff, now time.Time,
	ttl time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fullKey := []byte(badgerKeyPrefix + key)
	var count int

	for attempt := 0; attempt < slideAttempts; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			var window []time.Time

			item, err := txn.Get(fullKey)
			switch {
			case err == nil:
				if err := item.Value(func(v []byte) error {
					window = decodeWindow(v)
					return nil
				}); err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				// first entry for this subject
			default:
				return err
			}

			kept := window[:0]
			for _, ts := range window {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			kept = append(kept, now)
			count = len(kept)

			entry := badger.NewEntry(fullKey, encodeWindow(kept)).WithTTL(ttl)
			return txn.SetEntry(entry)
		})
		if err == nil {
			return count, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return 0, badger.ErrConflict
}

// The window is stored as a flat sequence of big-endian unix-nano stamps.

func encodeWindow(window []time.Time) []byte {
	buf := make([]byte, 8*len(window))
	for i, ts := range window {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(ts.UnixNano()))
	}
	return buf
}

func decodeWindow(raw []byte) []time.Time {
	window := make([]time.Time, 0, len(raw)/8)
	for i := 0; i+8 <= len(raw); i += 8 {
		nanos := int64(binary.BigEndian.Uint64(raw[i:]))
		window = append(window, time.Unix(0, nanos).UTC())
	}
	return window
}
