package archive

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const insertArchived = `
INSERT INTO archived_messages (id, seq, sender_id, sender_name, sender_avatar, content, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

const selectArchivedPage = `
SELECT position, id, seq, sender_id, sender_name, sender_avatar, content, status, created_at
FROM archived_messages
WHERE $1::bigint = 0 OR position < $1::bigint
ORDER BY position DESC
LIMIT $2`

// PostgresStore archives messages in the archived_messages table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, applies pending migrations and returns the store.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPool initializes a new PostgreSQL connection pool and executes database migrations.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(ctx, sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{logger: logx.Component("migrations")})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Archive database migrations applied successfully.")
	return nil
}

// gooseLogger routes migration output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(strings.TrimSpace(format), v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Msgf(strings.TrimSpace(format), v...)
}

// Save inserts msgs in one batch. Already archived ids are skipped.
func (s *PostgresStore) Save(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(insertArchived,
			m.ID, int64(m.Seq), m.SenderID, m.SenderName, m.SenderAvatar,
			m.Content, m.Status.String(), time.UnixMilli(m.CreatedAt).UTC(),
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archive %d messages: %w", len(msgs), err)
	}
	return nil
}

// Page returns up to limit messages older than cursor, newest first.
func (s *PostgresStore) Page(ctx context.Context, cursor uint64, limit int) (Page, error) {
	limit = clampLimit(limit)

	rows, err := s.pool.Query(ctx, selectArchivedPage, int64(cursor), limit)
	if err != nil {
		return Page{}, fmt.Errorf("query archive page: %w", err)
	}
	defer rows.Close()

	page := Page{Messages: make([]chat.Message, 0, limit)}
	var position int64
	for rows.Next() {
		var (
			m         chat.Message
			seq       int64
			status    string
			createdAt time.Time
		)
		if err := rows.Scan(&position, &m.ID, &seq, &m.SenderID, &m.SenderName, &m.SenderAvatar,
			&m.Content, &status, &createdAt); err != nil {
			return Page{}, fmt.Errorf("scan archived message: %w", err)
		}
		if err := m.Status.UnmarshalText([]byte(status)); err != nil {
			return Page{}, err
		}
		m.Seq = uint64(seq)
		m.CreatedAt = createdAt.UnixMilli()
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("read archive page: %w", err)
	}

	if len(page.Messages) == limit && position > 1 {
		page.NextCursor = uint64(position)
	}
	return page, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
