package changelog

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// WatchedTable names a source table whose row changes should be captured
// into the change log, and the primary key column used as the record id.
type WatchedTable struct {
	Name     string
	PKColumn string
}

// QuoteQualified quotes a possibly schema-qualified identifier.
func QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// LogTableDDL returns the DDL for the change-log table the triggers append
// to. The id column is the strictly increasing sequence id the bridge
// checkpoints on; change_timestamp is informational only.
func LogTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    table_name TEXT NOT NULL,
    record_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK (operation IN ('INSERT', 'UPDATE', 'DELETE')),
    new_data JSONB,
    change_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
)`, QuoteQualified(table))
}

// TriggerDDL returns the statements that install row-level capture on one
// watched table: a trigger function plus an AFTER trigger for insert,
// update and delete.
//
// The delete branch records the OLD primary key as record_id and
// row_to_json(OLD) as the payload, so the pre-image key survives even
// though the relational row is gone by the time the bridge reads the log.
func TriggerDDL(table WatchedTable, logTable string) []string {
	schema, base := splitQualified(table.Name)
	funcName := QuoteQualified(qualify(schema, base+"_capture_changes"))
	triggerName := pq.QuoteIdentifier(base + "_changes")
	watched := QuoteQualified(table.Name)
	log := QuoteQualified(logTable)
	pk := pq.QuoteIdentifier(table.PKColumn)

	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'DELETE' THEN
        INSERT INTO %s (table_name, record_id, operation, new_data)
        VALUES (TG_TABLE_NAME, OLD.%s::text, 'DELETE', row_to_json(OLD));
        RETURN OLD;
    ELSIF TG_OP = 'UPDATE' THEN
        INSERT INTO %s (table_name, record_id, operation, new_data)
        VALUES (TG_TABLE_NAME, NEW.%s::text, 'UPDATE', row_to_json(NEW));
        RETURN NEW;
    ELSE
        INSERT INTO %s (table_name, record_id, operation, new_data)
        VALUES (TG_TABLE_NAME, NEW.%s::text, 'INSERT', row_to_json(NEW));
        RETURN NEW;
    END IF;
END;
$$ LANGUAGE plpgsql`, funcName, log, pk, log, pk, log, pk)

	trg := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s;
CREATE TRIGGER %s
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION %s()`, triggerName, watched, triggerName, watched, funcName)

	return []string{fn, trg}
}

func splitQualified(name string) (schema, base string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func qualify(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}

// InstallDDL returns every statement needed to provision the change log for
// the given watched tables: the log table first, then per-table triggers.
func InstallDDL(logTable string, tables []WatchedTable) []string {
	ddl := []string{LogTableDDL(logTable)}
	for _, t := range tables {
		ddl = append(ddl, TriggerDDL(t, logTable)...)
	}
	return ddl
}
