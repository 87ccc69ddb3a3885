package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/afirouzabady/db-sync-engine/internal/config"
	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
	"github.com/afirouzabady/db-sync-engine/internal/runlog"
	"github.com/afirouzabady/db-sync-engine/internal/schema"
	"github.com/afirouzabady/db-sync-engine/internal/watermark"
)

// ── Sync Engine ────────────────────────────────────────────
// Orchestrates, per configured table: ensure schema → read watermark →
// fetch rows above it → upsert into the destination → advance the
// watermark. Tables run sequentially in configuration order, and one
// table's failure never aborts the others.

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// TableResult is the outcome of one table's sync pass.
type TableResult struct {
	Table       string
	Status      string
	RowsRead    int // rows fetched from the source, including skipped ones
	RowsWritten int
	RowsSkipped int // rows without a usable tracking value
	Watermark   time.Time
	Advanced    bool // watermark was written this pass
	Duration    time.Duration
	Err         error
}

// RunResult summarizes a whole batch run.
type RunResult struct {
	Tables    []TableResult
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Engine runs the batch sync.
type Engine struct {
	cfg     *config.Config
	source  *dbconn.Conn
	dest    *dbconn.Conn
	mirror  *schema.Mirror
	marks   *watermark.Store
	history *runlog.Store
	log     *zap.Logger
}

// New wires an Engine from open connections. The source is treated as
// read-only; all state lives in the destination.
func New(cfg *config.Config, source, dest *dbconn.Conn, log *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		source:  source,
		dest:    dest,
		mirror:  &schema.Mirror{Source: source, Dest: dest, Log: log},
		marks:   &watermark.Store{Conn: dest},
		history: &runlog.Store{Conn: dest},
		log:     log,
	}
}

// Run executes one sync pass over every configured table. The returned
// error is non-nil only for run-level failures (tracking tables could
// not be created); per-table failures are reported in the result.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	if err := e.mirror.EnsureTrackingTables(ctx); err != nil {
		return nil, err
	}

	result := &RunResult{}
	for _, t := range e.cfg.Tables {
		startedAt := time.Now()
		res := e.syncTable(ctx, t)
		result.Tables = append(result.Tables, *res)

		if res.Status == StatusSuccess {
			result.Succeeded++
			e.log.Info("table synced",
				zap.String("table", res.Table),
				zap.Int("rows_read", res.RowsRead),
				zap.Int("rows_written", res.RowsWritten),
				zap.Int("rows_skipped", res.RowsSkipped),
				zap.Duration("duration", res.Duration))
		} else {
			result.Failed++
			e.log.Error("table sync failed",
				zap.String("table", res.Table),
				zap.Duration("duration", res.Duration),
				zap.Error(res.Err))
		}

		entry := &runlog.Entry{
			Table:       res.Table,
			StartedAt:   startedAt,
			FinishedAt:  time.Now(),
			Status:      res.Status,
			RowsRead:    res.RowsRead,
			RowsWritten: res.RowsWritten,
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if err := e.history.Record(ctx, entry); err != nil {
			e.log.Warn("run log write failed",
				zap.String("table", res.Table), zap.Error(err))
		}
	}

	result.Duration = time.Since(start)
	e.log.Info("run complete",
		zap.Int("tables", len(result.Tables)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// sourceRow is one fetched row plus its parsed tracking value.
type sourceRow struct {
	values []any
	track  time.Time
}

func (e *Engine) syncTable(ctx context.Context, t config.TableSpec) *TableResult {
	start := time.Now()
	res := &TableResult{Table: t.Name, Status: StatusFailed}
	defer func() { res.Duration = time.Since(start) }()

	if err := e.mirror.EnsureDestinationTable(ctx, t.Name); err != nil {
		res.Err = err
		return res
	}

	since, incremental, err := e.marks.Read(ctx, t.Name)
	if err != nil {
		res.Err = &QueryError{Table: t.Name, Err: err}
		return res
	}

	cols, rows, skipped, err := e.fetchRows(ctx, t, since, incremental)
	if err != nil {
		res.Err = err
		return res
	}
	res.RowsRead = len(rows) + skipped
	res.RowsSkipped = skipped

	if len(rows) == 0 {
		// Nothing to write and nothing meaningful to stamp: an empty
		// first run stays first-run, an incremental one keeps its mark.
		res.Status = StatusSuccess
		res.Watermark = since
		return res
	}

	written, mark, err := e.writeRows(ctx, t, cols, rows)
	res.RowsWritten = written
	if err != nil {
		res.Err = err
		return res
	}

	res.Status = StatusSuccess
	res.Watermark = mark
	res.Advanced = true
	return res
}

// fetchRows reads the candidate rows from the source table: all rows on
// first run, rows with tracking value strictly above since otherwise.
// Rows whose tracking value is NULL or unparseable are dropped with a
// warning and counted in skipped.
func (e *Engine) fetchRows(ctx context.Context, t config.TableSpec, since time.Time, incremental bool) ([]string, []sourceRow, int, error) {
	trackCol := e.cfg.TrackingColumnFor(t)

	srcCols, err := e.source.Columns(ctx, t.Name)
	if err != nil {
		return nil, nil, 0, &QueryError{Table: t.Name, Err: fmt.Errorf("introspect: %w", err)}
	}
	names := make([]string, len(srcCols))
	trackIdx := -1
	for i, c := range srcCols {
		names[i] = c.Name
		if c.Name == trackCol {
			trackIdx = i
		}
	}
	if trackIdx == -1 {
		return nil, nil, 0, &QueryError{Table: t.Name,
			Err: fmt.Errorf("tracking column %q not present", trackCol)}
	}

	d := e.source.Dialect
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(quoted, ", "), d.QuoteIdent(t.Name))
	var args []any
	if incremental {
		query += fmt.Sprintf(" WHERE %s > %s", d.QuoteIdent(trackCol), d.Placeholder(1))
		args = append(args, d.BindTime(since))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	sqlRows, err := e.source.DB.QueryContext(fetchCtx, query, args...)
	if err != nil {
		return nil, nil, 0, &QueryError{Table: t.Name, Err: err}
	}
	defer sqlRows.Close()

	var (
		rows    []sourceRow
		skipped int
	)
	for sqlRows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := sqlRows.Scan(ptrs...); err != nil {
			return nil, nil, 0, &QueryError{Table: t.Name, Err: fmt.Errorf("scan: %w", err)}
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		track, ok := dbconn.ParseTimeValue(values[trackIdx])
		if !ok {
			skipped++
			e.log.Warn("row skipped: unusable tracking value",
				zap.String("table", t.Name),
				zap.String("tracking_column", trackCol))
			continue
		}
		rows = append(rows, sourceRow{values: values, track: track})
	}
	if err := sqlRows.Err(); err != nil {
		return nil, nil, 0, &QueryError{Table: t.Name, Err: err}
	}
	return names, rows, skipped, nil
}

// writeRows upserts the fetched rows and advances the watermark in one
// destination transaction, so a crash in between leaves both unchanged.
// Returns the rows written and the new watermark (the maximum tracking
// value observed).
func (e *Engine) writeRows(ctx context.Context, t config.TableSpec, cols []string, rows []sourceRow) (int, time.Time, error) {
	pks, err := e.dest.PrimaryKeys(ctx, t.Name)
	if err != nil {
		return 0, time.Time{}, &WriteError{Table: t.Name, Err: fmt.Errorf("detect keys: %w", err)}
	}
	if len(pks) == 0 {
		e.log.Warn("no primary key: falling back to plain inserts",
			zap.String("table", t.Name))
	}
	stmt := e.dest.Dialect.UpsertSQL(t.Name, cols, pks)

	writeCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	tx, err := e.dest.DB.BeginTx(writeCtx, nil)
	if err != nil {
		return 0, time.Time{}, &WriteError{Table: t.Name, Err: err}
	}
	defer tx.Rollback()

	written := 0
	var mark time.Time
	for _, row := range rows {
		if _, err := tx.ExecContext(writeCtx, stmt, row.values...); err != nil {
			return written, time.Time{}, &WriteError{Table: t.Name,
				Err: fmt.Errorf("row %d: %w", written, err)}
		}
		written++
		if row.track.After(mark) {
			mark = row.track
		}
	}

	if err := e.marks.Write(writeCtx, tx, t.Name, mark); err != nil {
		return written, time.Time{}, &WriteError{Table: t.Name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return written, time.Time{}, &WriteError{Table: t.Name, Err: err}
	}
	return written, mark, nil
}
