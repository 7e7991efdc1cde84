package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteSink writes scan runs and their violations to a SQLite database
// in one transaction per run.
type SQLiteSink struct {
	conn *sql.DB
}

// NewSQLiteSink creates a sink over an open database, creating the result
// tables if needed.
func NewSQLiteSink(conn *sql.DB) (*SQLiteSink, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
    id           TEXT PRIMARY KEY,
    started_at   TIMESTAMP NOT NULL,
    finished_at  TIMESTAMP NOT NULL,
    member_count INTEGER NOT NULL,
    rule_count   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS violations (
    scan_id        TEXT NOT NULL REFERENCES scan_runs(id),
    resource_id    TEXT NOT NULL,
    resource_type  TEXT NOT NULL,
    full_name      TEXT NOT NULL,
    rule_index     INTEGER NOT NULL,
    rule_name      TEXT NOT NULL,
    violation_type TEXT NOT NULL,
    member         TEXT NOT NULL,
    violation_data TEXT NOT NULL,
    resource_data  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_scan ON violations(scan_id);`
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating result tables: %w", err)
	}
	return &SQLiteSink{conn: conn}, nil
}

// Write records the run and its violations atomically.
func (s *SQLiteSink) Write(ctx context.Context, run RunInfo, records []Record) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning result transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_runs (id, started_at, finished_at, member_count, rule_count) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.MemberCount, run.RuleCount); err != nil {
		return fmt.Errorf("recording scan run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO violations (scan_id, resource_id, resource_type, full_name, rule_index, rule_name, violation_type, member, violation_data, resource_data)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing violation insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		data, err := json.Marshal(rec.ViolationData)
		if err != nil {
			return fmt.Errorf("encoding violation data: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, rec.ResourceID, rec.ResourceType, rec.FullName, rec.RuleIndex,
			rec.RuleName, rec.ViolationType, rec.ViolationData.Member, string(data), rec.ResourceData); err != nil {
			return fmt.Errorf("recording violation for %s: %w", rec.ResourceID, err)
		}
	}

	return tx.Commit()
}
