package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/logx"
)

var (
	// message keys are "arch:{position padded to 20 digits}" so that lexicographic order is
	// save order.
	messagePrefix = []byte("arch:")

	// id keys map a message id to its position and make Save idempotent.
	idPrefix = []byte("archid:")

	sequenceKey = []byte("archseq")
)

const sequenceBandwidth = 100

// BadgerStore archives messages in an embedded Badger database.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger opens or creates the database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{logger: logx.Component("badger")}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}

	return NewBadgerStore(db)
}

// NewBadgerStore wraps an open database. The store takes ownership of db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire archive sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func messageKey(position uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", messagePrefix, position)
}

func idKey(id string) []byte {
	return append(append([]byte{}, idPrefix...), id...)
}

// Save stores msgs in one transaction. Already archived ids are skipped.
func (s *BadgerStore) Save(_ context.Context, msgs []chat.Message) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range msgs {
			_, err := txn.Get(idKey(m.ID))
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			next, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("next archive position: %w", err)
			}
			// Positions start at 1 so that a zero cursor means "from the newest".
			position := next + 1

			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			key := messageKey(position)
			if err := txn.Set(key, data); err != nil {
				return err
			}
			if err := txn.Set(idKey(m.ID), key[len(messagePrefix):]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Page returns up to limit messages older than cursor, newest first.
func (s *BadgerStore) Page(_ context.Context, cursor uint64, limit int) (Page, error) {
	limit = clampLimit(limit)
	page := Page{Messages: make([]chat.Message, 0, limit)}

	var lastKey []byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchSize = limit

		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the largest key <= seekKey.
		seekKey := append(append([]byte{}, messagePrefix...), 0xFF)
		if cursor > 0 {
			if cursor == 1 {
				return nil
			}
			seekKey = messageKey(cursor - 1)
		}

		for it.Seek(seekKey); it.ValidForPrefix(messagePrefix) && len(page.Messages) < limit; it.Next() {
			item := it.Item()
			lastKey = item.KeyCopy(lastKey)

			err := item.Value(func(v []byte) error {
				var m chat.Message
				if err := json.Unmarshal(v, &m); err != nil {
					return fmt.Errorf("failed to unmarshal archived message: %w", err)
				}
				page.Messages = append(page.Messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("error during archive page fetch: %w", err)
	}

	if len(page.Messages) == limit && lastKey != nil {
		var position uint64
		if _, err := fmt.Sscanf(string(lastKey[len(messagePrefix):]), "%d", &position); err == nil && position > 1 {
			page.NextCursor = position
		}
	}
	return page, nil
}

// Close releases the leased sequence range and closes the database.
func (s *BadgerStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// badgerLogger adapts zerolog to badger.Logger.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}
