package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snapflowio/docbridge/checkpoint"
	"github.com/snapflowio/docbridge/logger"
)

// Reader polls the source change log for rows newer than a checkpoint.
type Reader interface {
	// Poll returns at most the configured batch size of records with
	// sequence id strictly greater than since.LastSequenceID, in
	// ascending sequence order. An empty batch is a normal outcome.
	// Transient source faults come back as RetryableError; rows that
	// cannot be decoded are carried in Batch.Poisoned instead of
	// aborting the poll.
	Poll(ctx context.Context, since checkpoint.Checkpoint) (*Batch, error)

	Close()
}

// PostgresReader reads the trigger-populated change-log table over a small
// pgx pool owned by the reader.
type PostgresReader struct {
	pool      *pgxpool.Pool
	query     string
	batchSize int
}

func NewPostgresReader(ctx context.Context, dsn, table string, batchSize, poolSize int) (*PostgresReader, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse source dsn: %w", err)
	}
	poolConfig.MaxConns = int32(poolSize)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create source pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping source: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, table_name, record_id, operation, new_data, change_timestamp
		FROM %s
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, QuoteQualified(table))

	return &PostgresReader{
		pool:      pool,
		query:     query,
		batchSize: batchSize,
	}, nil
}

func (r *PostgresReader) Poll(ctx context.Context, since checkpoint.Checkpoint) (*Batch, error) {
	rows, err := r.pool.Query(ctx, r.query, since.LastSequenceID, r.batchSize)
	if err != nil {
		return nil, classifyReadError("poll change log", err)
	}
	defer rows.Close()

	batch := &Batch{}
	for rows.Next() {
		var (
			seq       int64
			tableName string
			recordID  string
			operation string
			payload   []byte
			changedAt time.Time
		)

		if err := rows.Scan(&seq, &tableName, &recordID, &operation, &payload, &changedAt); err != nil {
			return nil, classifyReadError("scan change record", err)
		}

		rec, poison := decodeRecord(seq, tableName, recordID, operation, payload, changedAt)
		if poison != nil {
			logger.Warn("[changelog] poison record detected",
				"sequenceID", poison.SequenceID,
				"table", poison.TableName,
				"error", poison.Err)
			batch.Poisoned = append(batch.Poisoned, poison)
			continue
		}

		batch.Records = append(batch.Records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyReadError("read change log rows", err)
	}

	return batch, nil
}

// decodeRecord validates one raw row. The payload must be well-formed JSON
// for inserts and updates; deletes only need the trigger-captured pre-image
// key, so a missing payload is fine there.
func decodeRecord(seq int64, tableName, recordID, operation string, payload []byte, changedAt time.Time) (*ChangeRecord, *PoisonRecordError) {
	poison := func(err error) *PoisonRecordError {
		return &PoisonRecordError{
			SequenceID: seq,
			TableName:  tableName,
			RecordID:   recordID,
			ChangedAt:  changedAt,
			Err:        err,
		}
	}

	op, err := ParseOperation(operation)
	if err != nil {
		return nil, poison(err)
	}

	if op != OperationDelete {
		if len(payload) == 0 {
			return nil, poison(fmt.Errorf("missing payload for %s", op))
		}
		if !json.Valid(payload) {
			return nil, poison(fmt.Errorf("payload is not valid JSON"))
		}
	}

	return &ChangeRecord{
		SequenceID: seq,
		TableName:  tableName,
		RecordID:   recordID,
		Operation:  op,
		Payload:    json.RawMessage(payload),
		ChangedAt:  changedAt,
	}, nil
}

func (r *PostgresReader) Close() {
	r.pool.Close()
}
