package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists checkpoints in a local SQLite file, for deployments
// where the bridge has no write access to the source database. The
// connection runs with synchronous=FULL so Advance is durable on return.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

func NewSQLiteStore(path, name string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA synchronous=FULL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}

	ddl := `
		CREATE TABLE IF NOT EXISTS sync_checkpoint (
			name TEXT PRIMARY KEY,
			last_sequence_id INTEGER NOT NULL,
			last_timestamp TEXT NOT NULL
		)
	`
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure checkpoint table: %w", err)
	}

	return &SQLiteStore{db: db, name: name}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Checkpoint, error) {
	var (
		cp Checkpoint
		ts string
	)

	query := `SELECT last_sequence_id, last_timestamp FROM sync_checkpoint WHERE name = ?`
	err := s.db.QueryRowContext(ctx, query, s.name).Scan(&cp.LastSequenceID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	cp.LastTimestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("parse checkpoint timestamp: %w", err)
	}

	return cp, nil
}

func (s *SQLiteStore) Advance(ctx context.Context, cp Checkpoint) error {
	query := `
		INSERT INTO sync_checkpoint (name, last_sequence_id, last_timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET last_sequence_id = excluded.last_sequence_id,
		    last_timestamp = excluded.last_timestamp
		WHERE excluded.last_sequence_id > sync_checkpoint.last_sequence_id
	`

	ts := cp.LastTimestamp.UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, s.name, cp.LastSequenceID, ts); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
