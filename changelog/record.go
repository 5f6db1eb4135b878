// Package changelog reads trigger-populated change-log rows from the source
// database and models them for downstream application.
package changelog

import (
	"encoding/json"
	"fmt"
	"time"
)

type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationInsert, OperationUpdate, OperationDelete:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// ChangeRecord is one row of the change log. Records are read-only once
// observed; the bridge only translates them into target-store operations.
// SequenceID is the authoritative ordering key. ChangedAt may have ties and
// must never be used alone for deduplication.
type ChangeRecord struct {
	ChangedAt  time.Time
	TableName  string
	RecordID   string
	Operation  Operation
	Payload    json.RawMessage
	SequenceID int64
}

// Batch is an ordered group of change records handed to the writer in one
// apply operation. Records holds decodable rows in ascending sequence order;
// Poisoned holds rows that failed to decode and whose sequence ids must be
// treated as handled so the checkpoint can move past them.
type Batch struct {
	Records  []ChangeRecord
	Poisoned []*PoisonRecordError
}

func (b *Batch) Empty() bool {
	return b == nil || (len(b.Records) == 0 && len(b.Poisoned) == 0)
}

// Len counts every sequence id carried by the batch, poisoned rows included.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records) + len(b.Poisoned)
}

// MaxSequence returns the highest sequence id in the batch, or 0 when empty.
func (b *Batch) MaxSequence() int64 {
	var max int64
	if b == nil {
		return 0
	}
	for _, r := range b.Records {
		if r.SequenceID > max {
			max = r.SequenceID
		}
	}
	for _, p := range b.Poisoned {
		if p.SequenceID > max {
			max = p.SequenceID
		}
	}
	return max
}
