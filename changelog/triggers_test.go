package changelog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, `"change_log"`, QuoteQualified("change_log"))
	assert.Equal(t, `"audit"."change_log"`, QuoteQualified("audit.change_log"))
	assert.Equal(t, `"we""ird"`, QuoteQualified(`we"ird`))
}

func TestLogTableDDL(t *testing.T) {
	ddl := LogTableDDL("change_log")

	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "change_log"`)
	assert.Contains(t, ddl, "id BIGSERIAL PRIMARY KEY")
	assert.Contains(t, ddl, "operation IN ('INSERT', 'UPDATE', 'DELETE')")
	assert.Contains(t, ddl, "new_data JSONB")
}

func TestTriggerDDL(t *testing.T) {
	stmts := TriggerDDL(WatchedTable{Name: "users", PKColumn: "id"}, "change_log")
	require.Len(t, stmts, 2)

	fn, trg := stmts[0], stmts[1]

	assert.Contains(t, fn, `CREATE OR REPLACE FUNCTION "users_capture_changes"()`)
	// The delete branch must capture the pre-image key, the row is gone by
	// the time the bridge polls the log.
	assert.Contains(t, fn, `OLD."id"::text, 'DELETE', row_to_json(OLD)`)
	assert.Contains(t, fn, `NEW."id"::text, 'UPDATE', row_to_json(NEW)`)
	assert.Contains(t, fn, `NEW."id"::text, 'INSERT', row_to_json(NEW)`)

	assert.Contains(t, trg, `CREATE TRIGGER "users_changes"`)
	assert.Contains(t, trg, `AFTER INSERT OR UPDATE OR DELETE ON "users"`)
}

func TestTriggerDDLQualifiedTable(t *testing.T) {
	stmts := TriggerDDL(WatchedTable{Name: "app.users", PKColumn: "user_id"}, "audit.change_log")
	require.Len(t, stmts, 2)

	assert.Contains(t, stmts[0], `"app"."users_capture_changes"`)
	assert.Contains(t, stmts[0], `INSERT INTO "audit"."change_log"`)
	assert.Contains(t, stmts[1], `ON "app"."users"`)
}

func TestInstallDDL(t *testing.T) {
	tables := []WatchedTable{
		{Name: "users", PKColumn: "id"},
		{Name: "orders", PKColumn: "order_id"},
	}

	stmts := InstallDDL("change_log", tables)
	require.Len(t, stmts, 5)

	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS"))
	assert.Contains(t, stmts[1], "users_capture_changes")
	assert.Contains(t, stmts[3], "orders_capture_changes")
}
