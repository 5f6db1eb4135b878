// Package checkpoint persists the synchronizer's durable progress marker.
//
// A checkpoint is mutated only after a batch has been confirmed applied to
// the target store, and is read once at startup to resume. Stores must make
// Advance durable before returning and must reject (no-op on) any checkpoint
// whose sequence id is not strictly greater than the stored one.
package checkpoint

import (
	"context"
	"time"
)

// Checkpoint marks the last change durably applied to the target store.
// The sequence id is the authoritative ordering key; the timestamp is
// informational and may have ties.
type Checkpoint struct {
	LastTimestamp  time.Time
	LastSequenceID int64
}

// IsZero reports whether no progress has been recorded yet. A zero
// checkpoint means a full resync from the start of the change log.
func (c Checkpoint) IsZero() bool {
	return c.LastSequenceID == 0
}

// After reports whether c is strictly ahead of other.
func (c Checkpoint) After(other Checkpoint) bool {
	return c.LastSequenceID > other.LastSequenceID
}

type Store interface {
	// Load returns the stored checkpoint, or a zero value when none has
	// been persisted.
	Load(ctx context.Context) (Checkpoint, error)

	// Advance persists cp if it is strictly ahead of the stored
	// checkpoint, and no-ops otherwise. The write is durable before
	// Advance returns.
	Advance(ctx context.Context, cp Checkpoint) error

	Close() error
}
