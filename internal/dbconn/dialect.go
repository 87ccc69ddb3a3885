package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ── Dialect ────────────────────────────────────────────────
// A Dialect captures the SQL vocabulary that differs between the
// supported engines: identifier quoting, placeholders, DDL types,
// upsert syntax, and catalog introspection.

// Kind is the engine-neutral column type used when mirroring a source
// table into the destination. Mapping is best-effort: the destination
// column only has to be able to hold the synced values.
type Kind string

const (
	KindText      Kind = "text"
	KindInteger   Kind = "integer"
	KindReal      Kind = "real"
	KindBoolean   Kind = "boolean"
	KindTimestamp Kind = "timestamp"
	KindBlob      Kind = "blob"
)

// Column describes a single column of an introspected table.
type Column struct {
	Name string
	Type string // raw type name as reported by the engine
}

// Kind maps the raw reported type onto the neutral kind set.
func (c Column) Kind() Kind {
	t := strings.ToLower(c.Type)
	switch {
	case strings.Contains(t, "bool"):
		return KindBoolean
	case strings.Contains(t, "int") || strings.Contains(t, "serial"):
		return KindInteger
	case strings.Contains(t, "float") || strings.Contains(t, "double") ||
		strings.Contains(t, "real") || strings.Contains(t, "decimal") ||
		strings.Contains(t, "numeric"):
		return KindReal
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return KindTimestamp
	case strings.Contains(t, "blob") || strings.Contains(t, "bytea") ||
		strings.Contains(t, "binary"):
		return KindBlob
	default:
		return KindText
	}
}

// Dialect abstracts the engine-specific SQL surface.
type Dialect interface {
	// Name is the driver name ("postgres", "mysql", "sqlite").
	Name() string

	// Placeholder returns the i-th (1-based) bind placeholder.
	Placeholder(i int) string

	// QuoteIdent quotes a table or column identifier.
	QuoteIdent(name string) string

	// ColumnType returns the DDL type for a neutral kind. pk is set when
	// the column participates in the primary key (MySQL cannot index
	// unbounded TEXT, so keyed text columns get a bounded type there).
	ColumnType(kind Kind, pk bool) string

	// UpsertSQL builds an insert-or-update statement for one row with the
	// given columns, keyed by pks. With no pks it degrades to a plain
	// INSERT (idempotent re-delivery is not possible without a key).
	UpsertSQL(table string, cols, pks []string) string

	// BindTime converts a timestamp into the value bound into queries so
	// that comparisons against stored column values behave correctly.
	BindTime(t time.Time) any

	// TableExists reports whether a table is present.
	TableExists(ctx context.Context, db *sql.DB, table string) (bool, error)

	// Columns returns the ordered column set of a table.
	Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error)

	// PrimaryKeys returns the primary key columns of a table, in key order.
	PrimaryKeys(ctx context.Context, db *sql.DB, table string) ([]string, error)
}

// placeholders renders n placeholders for a dialect, comma separated.
func placeholders(d Dialect, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// quoteAll quotes every identifier in names.
func quoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}

// nonKeyColumns returns cols minus pks, preserving order.
func nonKeyColumns(cols, pks []string) []string {
	keyed := make(map[string]bool, len(pks))
	for _, pk := range pks {
		keyed[pk] = true
	}
	var out []string
	for _, c := range cols {
		if !keyed[c] {
			out = append(out, c)
		}
	}
	return out
}

// insertSQL is the shared plain-INSERT form used when a table has no
// detectable primary key.
func insertSQL(d Dialect, table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdent(table),
		strings.Join(quoteAll(d, cols), ", "),
		placeholders(d, len(cols)),
	)
}

// scanStrings reads single-string rows into a slice. Used by the
// introspection queries, which all return one name per row.
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
