package changelog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryableError marks a transient connectivity or timeout fault on either
// store. Callers retry the same operation with backoff instead of surfacing
// it as fatal.
type RetryableError struct {
	Err error
	Op  string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError attributed to op.
func Retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// fault worth retrying with backoff.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// PoisonRecordError identifies a single change-log row that cannot be
// decoded or translated. Poison records are skipped and logged; they never
// block the rest of their batch, and their sequence id still counts as
// handled for checkpoint advancement.
type PoisonRecordError struct {
	ChangedAt  time.Time
	TableName  string
	RecordID   string
	Err        error
	SequenceID int64
}

func (e *PoisonRecordError) Error() string {
	return fmt.Sprintf("poison record %d on %s: %v", e.SequenceID, e.TableName, e.Err)
}

func (e *PoisonRecordError) Unwrap() error {
	return e.Err
}

// classifyReadError wraps transient source faults as retryable and leaves
// everything else alone.
func classifyReadError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return Retryable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	// Class 08 is connection exceptions, class 57 covers server shutdown
	// and admin cancellation. Both clear up on their own.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return len(code) >= 2 && (code[:2] == "08" || code[:2] == "57")
	}

	return false
}
