package changelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	for _, valid := range []string{"INSERT", "UPDATE", "DELETE"} {
		op, err := ParseOperation(valid)
		require.NoError(t, err)
		assert.Equal(t, Operation(valid), op)
	}

	for _, invalid := range []string{"", "insert", "TRUNCATE", "UPSERT"} {
		_, err := ParseOperation(invalid)
		assert.Error(t, err, "operation %q should be rejected", invalid)
	}
}

func TestBatchEmpty(t *testing.T) {
	var nilBatch *Batch
	assert.True(t, nilBatch.Empty())
	assert.True(t, (&Batch{}).Empty())

	withRecords := &Batch{Records: []ChangeRecord{{SequenceID: 1}}}
	assert.False(t, withRecords.Empty())

	// A batch of only poisoned rows still carries sequence ids that the
	// checkpoint must move past.
	withPoison := &Batch{Poisoned: []*PoisonRecordError{{SequenceID: 2}}}
	assert.False(t, withPoison.Empty())
}

func TestBatchMaxSequence(t *testing.T) {
	b := &Batch{
		Records: []ChangeRecord{
			{SequenceID: 1},
			{SequenceID: 3},
		},
		Poisoned: []*PoisonRecordError{
			{SequenceID: 5},
		},
	}

	assert.Equal(t, int64(5), b.MaxSequence())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, int64(0), (&Batch{}).MaxSequence())
}

func TestDecodeRecord(t *testing.T) {
	now := time.Now()

	rec, poison := decodeRecord(7, "users", "42", "INSERT", []byte(`{"name":"A"}`), now)
	require.Nil(t, poison)
	require.NotNil(t, rec)
	assert.Equal(t, int64(7), rec.SequenceID)
	assert.Equal(t, OperationInsert, rec.Operation)
	assert.Equal(t, "42", rec.RecordID)

	// Deletes only need the trigger-captured pre-image key.
	rec, poison = decodeRecord(8, "users", "42", "DELETE", nil, now)
	require.Nil(t, poison)
	assert.Equal(t, OperationDelete, rec.Operation)
}

func TestDecodeRecordPoison(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		operation string
		payload   []byte
	}{
		{name: "malformed payload", operation: "INSERT", payload: []byte(`{"name":`)},
		{name: "missing payload", operation: "UPDATE", payload: nil},
		{name: "unknown operation", operation: "TRUNCATE", payload: []byte(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, poison := decodeRecord(9, "users", "42", tt.operation, tt.payload, now)
			assert.Nil(t, rec)
			require.NotNil(t, poison)
			assert.Equal(t, int64(9), poison.SequenceID)
			assert.Equal(t, "users", poison.TableName)
			assert.Error(t, poison.Err)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	err := Retryable("poll change log", assert.AnError)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(assert.AnError))
	assert.False(t, IsRetryable(nil))

	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, assert.AnError)
}
