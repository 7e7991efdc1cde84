// Package inventory enumerates the identities whose project access is
// audited. Sources produce a lazy, finite member sequence consumed exactly
// once per scan.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
)

// MemberKindGSuiteUser selects G Suite user members from the inventory.
const MemberKindGSuiteUser = "gsuite_user_member"

// Source produces the member identity strings for one scan.
type Source interface {
	Members(ctx context.Context) iter.Seq2[string, error]
}

// SQLiteSource reads member emails of one kind from an inventory database.
type SQLiteSource struct {
	conn *sql.DB
	kind string
}

// NewSQLiteSource creates a source over an open inventory database.
func NewSQLiteSource(conn *sql.DB, kind string) *SQLiteSource {
	return &SQLiteSource{conn: conn, kind: kind}
}

// Members iterates member emails in inventory order. Row errors surface as
// the second sequence value and terminate iteration.
func (s *SQLiteSource) Members(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.conn.QueryContext(ctx,
			`SELECT email FROM inventory_members WHERE member_kind = ? ORDER BY rowid`, s.kind)
		if err != nil {
			yield("", fmt.Errorf("querying inventory members: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var email string
			if err := rows.Scan(&email); err != nil {
				yield("", fmt.Errorf("scanning inventory member: %w", err))
				return
			}
			if !yield(email, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", fmt.Errorf("iterating inventory members: %w", err))
		}
	}
}

// StaticSource serves a fixed member list, for configuration-driven runs
// and tests.
type StaticSource []string

// Members iterates the configured members in order.
func (s StaticSource) Members(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, member := range s {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(member, nil) {
				return
			}
		}
	}
}
