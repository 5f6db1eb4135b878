package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// PostgresStore persists checkpoints in a small table on the source
// database, keyed by bridge name so several bridges can share an instance.
// Durability comes from the implicit transaction commit on each upsert.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	name  string
}

func NewPostgresStore(ctx context.Context, dsn, table, name string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint dsn: %w", err)
	}
	poolConfig.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint pool: %w", err)
	}

	s := &PostgresStore{
		pool:  pool,
		table: table,
		name:  name,
	}

	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			last_sequence_id BIGINT NOT NULL,
			last_timestamp TIMESTAMPTZ NOT NULL
		)
	`, pq.QuoteIdentifier(s.table))

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure checkpoint table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint

	query := fmt.Sprintf(`
		SELECT last_sequence_id, last_timestamp
		FROM %s
		WHERE name = $1
	`, pq.QuoteIdentifier(s.table))

	err := s.pool.QueryRow(ctx, query, s.name).Scan(&cp.LastSequenceID, &cp.LastTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	return cp, nil
}

func (s *PostgresStore) Advance(ctx context.Context, cp Checkpoint) error {
	// The WHERE guard on the conflict branch makes advancement monotonic
	// even with concurrent callers.
	query := fmt.Sprintf(`
		INSERT INTO %s (name, last_sequence_id, last_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET last_sequence_id = excluded.last_sequence_id,
		    last_timestamp = excluded.last_timestamp
		WHERE %s.last_sequence_id < excluded.last_sequence_id
	`, pq.QuoteIdentifier(s.table), pq.QuoteIdentifier(s.table))

	if _, err := s.pool.Exec(ctx, query, s.name, cp.LastSequenceID, cp.LastTimestamp); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
