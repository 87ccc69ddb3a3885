package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
)

// TableName is the tracking table in the destination database. It is
// the only cross-run state; dropping it resets every table to first-run.
const TableName = "sync_tracking"

// Record is one stored watermark: the last-synchronized timestamp for a
// table, defining the lower bound of its next incremental fetch.
type Record struct {
	Table        string
	LastSyncedAt time.Time
}

// Querier is the subset of database/sql needed to write a watermark.
// Satisfied by both *sql.DB and *sql.Tx, so the sync engine can commit
// the watermark in the same transaction as the table's data writes.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store reads and writes per-table watermarks.
type Store struct {
	Conn *dbconn.Conn
}

// Read returns the stored watermark for a table. The second return is
// false when no record exists, which is the first-run signal.
func (s *Store) Read(ctx context.Context, table string) (time.Time, bool, error) {
	d := s.Conn.Dialect
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		d.QuoteIdent("last_synced_at"), d.QuoteIdent(TableName),
		d.QuoteIdent("table_name"), d.Placeholder(1))

	var raw any
	err := s.Conn.DB.QueryRowContext(ctx, query, table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark %s: %w", table, err)
	}

	ts, ok := dbconn.ParseTimeValue(raw)
	if !ok {
		return time.Time{}, false, fmt.Errorf("read watermark %s: unparseable value %v", table, raw)
	}
	return ts, true, nil
}

// Write upserts the watermark for a table. The caller passes its open
// destination transaction so the watermark only lands together with the
// rows it accounts for.
func (s *Store) Write(ctx context.Context, q Querier, table string, ts time.Time) error {
	d := s.Conn.Dialect

	update := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		d.QuoteIdent(TableName),
		d.QuoteIdent("last_synced_at"), d.Placeholder(1),
		d.QuoteIdent("table_name"), d.Placeholder(2))
	res, err := q.ExecContext(ctx, update, d.BindTime(ts), table)
	if err != nil {
		return fmt.Errorf("write watermark %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		d.QuoteIdent(TableName),
		d.QuoteIdent("table_name"), d.QuoteIdent("last_synced_at"),
		d.Placeholder(1), d.Placeholder(2))
	if _, err := q.ExecContext(ctx, insert, table, d.BindTime(ts)); err != nil {
		return fmt.Errorf("write watermark %s: %w", table, err)
	}
	return nil
}

// List returns all stored watermarks ordered by table name.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	d := s.Conn.Dialect
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s",
		d.QuoteIdent("table_name"), d.QuoteIdent("last_synced_at"),
		d.QuoteIdent(TableName), d.QuoteIdent("table_name"))

	rows, err := s.Conn.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var raw any
		if err := rows.Scan(&rec.Table, &raw); err != nil {
			return nil, err
		}
		if ts, ok := dbconn.ParseTimeValue(raw); ok {
			rec.LastSyncedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
