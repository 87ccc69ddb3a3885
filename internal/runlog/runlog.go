package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
)

// TableName is the run history table in the destination database.
const TableName = "sync_run_log"

// Entry is a historical record of one table's sync pass.
type Entry struct {
	ID          string
	Table       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	RowsRead    int
	RowsWritten int
	Error       string
}

// Store persists run history. Purely observational: failures here never
// affect sync control flow.
type Store struct {
	Conn *dbconn.Conn
}

// Record inserts a run entry, assigning it an id.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	e.ID = uuid.New().String()
	d := s.Conn.Dialect
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)",
		d.QuoteIdent(TableName),
		d.QuoteIdent("id"), d.QuoteIdent("table_name"),
		d.QuoteIdent("started_at"), d.QuoteIdent("finished_at"),
		d.QuoteIdent("status"), d.QuoteIdent("rows_read"),
		d.QuoteIdent("rows_written"), d.QuoteIdent("error"),
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
		d.Placeholder(5), d.Placeholder(6), d.Placeholder(7), d.Placeholder(8),
	)
	_, err := s.Conn.DB.ExecContext(ctx, query,
		e.ID, e.Table,
		d.BindTime(e.StartedAt), d.BindTime(e.FinishedAt),
		e.Status, e.RowsRead, e.RowsWritten, e.Error,
	)
	return err
}

// Recent returns the latest entries for a table, newest first.
func (s *Store) Recent(ctx context.Context, table string, limit int) ([]Entry, error) {
	d := s.Conn.Dialect
	query := fmt.Sprintf(
		"SELECT %s, %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = %s ORDER BY %s DESC LIMIT %d",
		d.QuoteIdent("id"), d.QuoteIdent("table_name"),
		d.QuoteIdent("started_at"), d.QuoteIdent("finished_at"),
		d.QuoteIdent("status"), d.QuoteIdent("rows_read"),
		d.QuoteIdent("rows_written"), d.QuoteIdent("error"),
		d.QuoteIdent(TableName),
		d.QuoteIdent("table_name"), d.Placeholder(1),
		d.QuoteIdent("started_at"), limit,
	)

	rows, err := s.Conn.DB.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, finished any
		if err := rows.Scan(&e.ID, &e.Table, &started, &finished,
			&e.Status, &e.RowsRead, &e.RowsWritten, &e.Error); err != nil {
			return nil, err
		}
		if ts, ok := dbconn.ParseTimeValue(started); ok {
			e.StartedAt = ts
		}
		if ts, ok := dbconn.ParseTimeValue(finished); ok {
			e.FinishedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
