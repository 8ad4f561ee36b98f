package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            operator_id TEXT NULL,
            assistant_id TEXT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            seq BIGSERIAL UNIQUE,
            conversation_id TEXT NOT NULL,
            body TEXT NOT NULL DEFAULT '',
            origin TEXT NOT NULL CHECK (origin IN ('user', 'operator', 'doctor')),
            seen BOOLEAN NOT NULL DEFAULT FALSE,
            user_error BOOLEAN NOT NULL DEFAULT FALSE,
            reply_message_id TEXT NULL,
            reply_excerpt TEXT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_order_idx
            ON messages (conversation_id, created_at DESC, seq DESC);`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_unseen_idx
            ON messages (conversation_id) WHERE seen = FALSE;`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
