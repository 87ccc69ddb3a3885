package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (postgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgresDialect) ColumnType(kind Kind, pk bool) string {
	switch kind {
	case KindInteger:
		return "BIGINT"
	case KindReal:
		return "DOUBLE PRECISION"
	case KindBoolean:
		return "BOOLEAN"
	case KindTimestamp:
		return "TIMESTAMPTZ"
	case KindBlob:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func (d postgresDialect) UpsertSQL(table string, cols, pks []string) string {
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

func (postgresDialect) BindTime(t time.Time) any { return t.UTC() }

func (d postgresDialect) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables
		 WHERE table_name = $1 AND table_schema = ANY (current_schemas(false))`,
		table,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d postgresDialect) Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_name = $1 AND table_schema = ANY (current_schemas(false))
		 ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d postgresDialect) PrimaryKeys(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name
		  AND tc.table_schema = kcu.table_schema
		 WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = $1
		 ORDER BY kcu.ordinal_position`,
		table,
	)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}
