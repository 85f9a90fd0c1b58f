package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the archive database and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connect db: empty dsn")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS archived_messages (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL,
            ts BIGINT NOT NULL,
            payload JSONB NOT NULL,
            archived_at TIMESTAMPTZ DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS archived_messages_room_ts ON archived_messages (room_id, ts DESC);`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	slog.Info("database migrations applied", "count", len(migrations))
	return nil
}
