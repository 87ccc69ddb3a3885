package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
	"github.com/afirouzabady/db-sync-engine/internal/runlog"
	"github.com/afirouzabady/db-sync-engine/internal/schema"
	"github.com/afirouzabady/db-sync-engine/internal/watermark"
)

func newMirror(t *testing.T) (*schema.Mirror, *dbconn.Conn, *dbconn.Conn) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	source, err := dbconn.Open(ctx, dir+"/source.db")
	require.NoError(t, err)
	t.Cleanup(func() { source.Close() })

	dest, err := dbconn.Open(ctx, dir+"/dest.db")
	require.NoError(t, err)
	t.Cleanup(func() { dest.Close() })

	return &schema.Mirror{Source: source, Dest: dest, Log: zap.NewNop()}, source, dest
}

func TestEnsureDestinationTable(t *testing.T) {
	ctx := context.Background()
	m, source, dest := newMirror(t)

	_, err := source.DB.ExecContext(ctx, `CREATE TABLE orders (
		id INTEGER NOT NULL,
		ref TEXT,
		amount REAL,
		updated_at TIMESTAMP,
		PRIMARY KEY (id)
	)`)
	require.NoError(t, err)

	require.NoError(t, m.EnsureDestinationTable(ctx, "orders"))

	exists, err := dest.TableExists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, exists)

	cols, err := dest.Columns(ctx, "orders")
	require.NoError(t, err)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"id", "ref", "amount", "updated_at"}, names)

	pks, err := dest.PrimaryKeys(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pks)
}

func TestEnsureDestinationTableIdempotent(t *testing.T) {
	ctx := context.Background()
	m, source, dest := newMirror(t)

	_, err := source.DB.ExecContext(ctx,
		`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	require.NoError(t, m.EnsureDestinationTable(ctx, "items"))

	// An existing destination table must be left untouched.
	_, err = dest.DB.ExecContext(ctx, `INSERT INTO items (id, name) VALUES (1, 'kept')`)
	require.NoError(t, err)

	require.NoError(t, m.EnsureDestinationTable(ctx, "items"))

	var n int
	require.NoError(t, dest.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestEnsureDestinationTableMissingSource(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMirror(t)

	err := m.EnsureDestinationTable(ctx, "ghost")
	require.Error(t, err)

	var schemaErr *schema.Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "ghost", schemaErr.Table)
}

func TestEnsureTrackingTables(t *testing.T) {
	ctx := context.Background()
	m, _, dest := newMirror(t)

	require.NoError(t, m.EnsureTrackingTables(ctx))
	require.NoError(t, m.EnsureTrackingTables(ctx)) // idempotent

	for _, table := range []string{watermark.TableName, runlog.TableName} {
		exists, err := dest.TableExists(ctx, table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	pks, err := dest.PrimaryKeys(ctx, watermark.TableName)
	require.NoError(t, err)
	assert.Equal(t, []string{"table_name"}, pks)
}
