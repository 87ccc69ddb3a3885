package watermark_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
	"github.com/afirouzabady/db-sync-engine/internal/schema"
	"github.com/afirouzabady/db-sync-engine/internal/watermark"
)

func newStore(t *testing.T) *watermark.Store {
	t.Helper()
	ctx := context.Background()

	conn, err := dbconn.Open(ctx, t.TempDir()+"/dest.db")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	m := &schema.Mirror{Source: conn, Dest: conn, Log: zap.NewNop()}
	require.NoError(t, m.EnsureTrackingTables(ctx))

	return &watermark.Store{Conn: conn}
}

func TestReadAbsent(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.Read(context.Background(), "orders")
	require.NoError(t, err)
	assert.False(t, ok, "missing record must signal first run")
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ts := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(ctx, s.Conn.DB, "orders", ts))

	got, ok, err := s.Read(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(ts))
}

func TestWriteUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	first := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	second := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(ctx, s.Conn.DB, "orders", first))
	require.NoError(t, s.Write(ctx, s.Conn.DB, "orders", second))

	got, ok, err := s.Read(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(second))

	// Still exactly one record for the table.
	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestWriteInTransaction(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ts := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	// A rolled-back transaction must leave the watermark unset.
	tx, err := s.Conn.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, tx, "orders", ts))
	require.NoError(t, tx.Rollback())

	_, ok, err := s.Read(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	tx, err = s.Conn.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, tx, "orders", ts))
	require.NoError(t, tx.Commit())

	_, ok, err = s.Read(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListOrdered(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ts := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	for _, table := range []string{"orders", "customers", "audit"} {
		require.NoError(t, s.Write(ctx, s.Conn.DB, table, ts))
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "audit", records[0].Table)
	assert.Equal(t, "customers", records[1].Table)
	assert.Equal(t, "orders", records[2].Table)
}
