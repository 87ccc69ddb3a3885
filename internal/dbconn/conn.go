package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ── Connection Provider ────────────────────────────────────
// Opens a live handle to a database given a connection URI and fails
// fast when the target is unreachable. The driver is chosen from the
// URI scheme; SQLite is also recognized from a bare file path.

// ConnectError is a connectivity failure. It is fatal for the whole
// run: no table can be synced without both handles.
type ConnectError struct {
	Driver string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Conn is a live database handle plus the dialect needed to talk to it.
type Conn struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open connects to the database described by uri and verifies
// reachability with a ping. The caller owns the handle and must Close it.
func Open(ctx context.Context, uri string) (*Conn, error) {
	driver, dsn, dialect, err := resolve(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &ConnectError{Driver: driver, Err: err}
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &ConnectError{Driver: driver, Err: err}
	}

	return &Conn{DB: db, Dialect: dialect}, nil
}

// resolve maps a connection URI onto (driver, dsn, dialect).
func resolve(uri string) (string, string, Dialect, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://"):
		return "postgres", uri, postgresDialect{}, nil
	case strings.HasPrefix(uri, "mysql://"):
		dsn, err := mysqlDSN(uri)
		if err != nil {
			return "", "", nil, &ConnectError{Driver: "mysql", Err: err}
		}
		return "mysql", dsn, mysqlDialect{}, nil
	case strings.HasPrefix(uri, "sqlite://"):
		return "sqlite", sqliteDSN(strings.TrimPrefix(uri, "sqlite://")), sqliteDialect{}, nil
	case strings.HasPrefix(uri, "file:") || hasSQLiteSuffix(uri):
		return "sqlite", sqliteDSN(uri), sqliteDialect{}, nil
	default:
		return "", "", nil, &ConnectError{
			Driver: "unknown",
			Err:    fmt.Errorf("unsupported connection string %q", redact(uri)),
		}
	}
}

func hasSQLiteSuffix(uri string) bool {
	for _, suffix := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(uri, suffix) {
			return true
		}
	}
	return false
}

// redact strips credentials from a URI before it appears in an error.
func redact(uri string) string {
	at := strings.LastIndex(uri, "@")
	scheme := strings.Index(uri, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return uri
	}
	return uri[:scheme+3] + "***" + uri[at:]
}

// SQLitePath returns the on-disk file behind a SQLite connection URI,
// or false when the URI points at another engine.
func SQLitePath(uri string) (string, bool) {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		uri = strings.TrimPrefix(uri, "sqlite://")
	case strings.HasPrefix(uri, "file:"):
		uri = strings.TrimPrefix(uri, "file:")
	case hasSQLiteSuffix(uri):
	default:
		return "", false
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	return uri, true
}

// Columns returns the ordered column set of a table.
func (c *Conn) Columns(ctx context.Context, table string) ([]Column, error) {
	return c.Dialect.Columns(ctx, c.DB, table)
}

// PrimaryKeys returns the primary key columns of a table.
func (c *Conn) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	return c.Dialect.PrimaryKeys(ctx, c.DB, table)
}

// TableExists reports whether a table is present.
func (c *Conn) TableExists(ctx context.Context, table string) (bool, error) {
	return c.Dialect.TableExists(ctx, c.DB, table)
}

// Close releases the underlying handle.
func (c *Conn) Close() error {
	return c.DB.Close()
}
