/*
Package archive keeps messages that were evicted from the in-memory message log.

A Store persists archived messages in eviction order and pages through them newest first.
The Worker decouples the hub from the Store: the hub hands over evicted messages without
blocking and the Worker saves them in batches on its own goroutine.
*/
package archive

import (
	"context"
	"fmt"

	"relaychat/internal/app/chat"
	"relaychat/internal/configs"
)

const (
	// DefaultPageSize is used when a caller asks for a non-positive page size.
	DefaultPageSize = 50

	// MaxPageSize bounds a single page.
	MaxPageSize = 200
)

// Page is one newest-first slice of the archive.
// NextCursor is zero when there are no older messages.
type Page struct {
	Messages   []chat.Message `json:"messages"`
	NextCursor uint64         `json:"nextCursor,omitempty"`
}

// Store persists archived messages. Positions are assigned by the store and increase
// in the order messages are saved.
type Store interface {
	// Save stores msgs in order. Messages already archived are skipped.
	Save(ctx context.Context, msgs []chat.Message) error

	// Page returns up to limit messages older than cursor, newest first.
	// A zero cursor starts from the newest message.
	Page(ctx context.Context, cursor uint64, limit int) (Page, error)

	Close() error
}

// Open returns the store selected by cfg.ArchiveDriver, or nil when archiving is disabled.
func Open(ctx context.Context, cfg *configs.AppConfig) (Store, error) {
	switch cfg.ArchiveDriver {
	case configs.ArchivePostgres:
		store, err := OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case configs.ArchiveBadger:
		store, err := OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case configs.ArchiveNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
