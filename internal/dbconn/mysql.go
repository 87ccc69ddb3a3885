package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlDSN rewrites a mysql:// URI into the native driver DSN.
// Format: user:password@tcp(host:port)/dbname?parseTime=true
func mysqlDSN(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "3306"
	}
	user := u.User.Username()
	pass, _ := u.User.Password()
	dbName := strings.TrimPrefix(u.Path, "/")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
		user, pass, host, port, dbName)
	if u.Query().Get("tls") == "true" {
		dsn += "&tls=true"
	}
	return dsn, nil
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) ColumnType(kind Kind, pk bool) string {
	switch kind {
	case KindInteger:
		return "BIGINT"
	case KindReal:
		return "DOUBLE"
	case KindBoolean:
		return "TINYINT(1)"
	case KindTimestamp:
		return "DATETIME(6)"
	case KindBlob:
		return "BLOB"
	default:
		// MySQL cannot index unbounded TEXT.
		if pk {
			return "VARCHAR(255)"
		}
		return "TEXT"
	}
}

func (d mysqlDialect) UpsertSQL(table string, cols, pks []string) string {
	if len(pks) == 0 {
		return insertSQL(d, table, cols)
	}
	base := insertSQL(d, table, cols)
	updatable := nonKeyColumns(cols, pks)
	if len(updatable) == 0 {
		// All columns are keyed: a matched row needs no change.
		q := d.QuoteIdent(pks[0])
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s = %s", base, q, q)
	}
	sets := make([]string, len(updatable))
	for i, c := range updatable {
		q := d.QuoteIdent(c)
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", base, strings.Join(sets, ", "))
}

func (mysqlDialect) BindTime(t time.Time) any { return t.UTC() }

func (d mysqlDialect) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_NAME = ? AND TABLE_SCHEMA = DATABASE()`,
		table,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d mysqlDialect) Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_NAME = ? AND TABLE_SCHEMA = DATABASE()
		 ORDER BY ORDINAL_POSITION`,
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

func (d mysqlDialect) PrimaryKeys(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		 WHERE TABLE_NAME = ? AND TABLE_SCHEMA = DATABASE() AND CONSTRAINT_NAME = 'PRIMARY'
		 ORDER BY ORDINAL_POSITION`,
		table,
	)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}
