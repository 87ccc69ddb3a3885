package schema

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
	"github.com/afirouzabady/db-sync-engine/internal/runlog"
	"github.com/afirouzabady/db-sync-engine/internal/watermark"
)

// ── Schema Mirror ──────────────────────────────────────────
// Ensures destination tables exist before rows flow into them. An
// existing destination table is never touched: no column diffing, no
// migration, and source schema drift is not propagated.

// Error is a schema introspection or creation failure. It is fatal for
// the affected table's sync but must not abort other tables.
type Error struct {
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Mirror creates destination tables from source column definitions.
type Mirror struct {
	Source *dbconn.Conn
	Dest   *dbconn.Conn
	Log    *zap.Logger
}

// EnsureDestinationTable creates the destination table from the source
// table's column set if it does not exist yet. Idempotent: with an
// unchanged source schema the second call is a no-op.
func (m *Mirror) EnsureDestinationTable(ctx context.Context, table string) error {
	exists, err := m.Dest.TableExists(ctx, table)
	if err != nil {
		return &Error{Table: table, Err: fmt.Errorf("check destination: %w", err)}
	}
	if exists {
		return nil
	}

	cols, err := m.Source.Columns(ctx, table)
	if err != nil {
		return &Error{Table: table, Err: fmt.Errorf("introspect source: %w", err)}
	}
	if len(cols) == 0 {
		return &Error{Table: table, Err: fmt.Errorf("table not found in source")}
	}

	pks, err := m.Source.PrimaryKeys(ctx, table)
	if err != nil {
		// Creating without a key is still useful; upserts degrade to inserts.
		m.Log.Warn("primary key detection failed",
			zap.String("table", table), zap.Error(err))
		pks = nil
	}

	ddl := createTableSQL(m.Dest.Dialect, table, cols, pks)
	if _, err := m.Dest.DB.ExecContext(ctx, ddl); err != nil {
		return &Error{Table: table, Err: fmt.Errorf("create destination: %w", err)}
	}

	m.Log.Info("created destination table",
		zap.String("table", table),
		zap.Int("columns", len(cols)),
		zap.Strings("primary_key", pks))
	return nil
}

// EnsureTrackingTables creates the watermark and run history tables in
// the destination. Idempotent; must run once before any table sync.
func (m *Mirror) EnsureTrackingTables(ctx context.Context) error {
	d := m.Dest.Dialect
	stmts := []string{
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL)",
			d.QuoteIdent(watermark.TableName),
			d.QuoteIdent("table_name"), d.ColumnType(dbconn.KindText, true),
			d.QuoteIdent("last_synced_at"), d.ColumnType(dbconn.KindTimestamp, false),
		),
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s, %s %s, %s %s, %s %s, %s %s, %s %s, %s %s)",
			d.QuoteIdent(runlog.TableName),
			d.QuoteIdent("id"), d.ColumnType(dbconn.KindText, true),
			d.QuoteIdent("table_name"), d.ColumnType(dbconn.KindText, false),
			d.QuoteIdent("started_at"), d.ColumnType(dbconn.KindTimestamp, false),
			d.QuoteIdent("finished_at"), d.ColumnType(dbconn.KindTimestamp, false),
			d.QuoteIdent("status"), d.ColumnType(dbconn.KindText, false),
			d.QuoteIdent("rows_read"), d.ColumnType(dbconn.KindInteger, false),
			d.QuoteIdent("rows_written"), d.ColumnType(dbconn.KindInteger, false),
			d.QuoteIdent("error"), d.ColumnType(dbconn.KindText, false),
		),
	}
	for _, stmt := range stmts {
		if _, err := m.Dest.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tracking tables: %w", err)
		}
	}
	return nil
}

// createTableSQL builds the destination DDL from introspected columns.
// Types go through the neutral kind set, so fidelity is best-effort.
func createTableSQL(d dbconn.Dialect, table string, cols []dbconn.Column, pks []string) string {
	keyed := make(map[string]bool, len(pks))
	for _, pk := range pks {
		keyed[pk] = true
	}

	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%s %s",
			d.QuoteIdent(col.Name), d.ColumnType(col.Kind(), keyed[col.Name])))
	}
	if len(pks) > 0 {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = d.QuoteIdent(pk)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		d.QuoteIdent(table), strings.Join(defs, ", "))
}
