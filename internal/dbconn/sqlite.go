package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is the canonical SQLite datetime text form. Stored
// values in this layout compare correctly both lexically and via the
// built-in datetime functions.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// sqliteDSN appends WAL mode and a busy timeout for concurrent access.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqliteDialect) ColumnType(kind Kind, pk bool) string {
	switch kind {
	case KindInteger:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindBoolean:
		return "INTEGER"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (d sqliteDialect) UpsertSQL(table string, cols, pks []string) string {
	if len(pks) == 0 {
		return insertSQL(d, table, cols)
	}
	base := insertSQL(d, table, cols)
	updatable := nonKeyColumns(cols, pks)
	if len(updatable) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING",
			base, strings.Join(quoteAll(d, pks), ", "))
	}
	sets := make([]string, len(updatable))
	for i, c := range updatable {
		q := d.QuoteIdent(c)
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		base, strings.Join(quoteAll(d, pks), ", "), strings.Join(sets, ", "))
}

// BindTime binds timestamps as canonical text so comparisons against
// column values stored as text behave correctly.
func (sqliteDialect) BindTime(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

func (d sqliteDialect) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		table,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d sqliteDialect) Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: colType})
	}
	return cols, rows.Err()
}

func (d sqliteDialect) PrimaryKeys(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		if pk > 0 {
			pks = append(pks, name)
		}
	}
	return pks, rows.Err()
}
