package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/afirouzabady/db-sync-engine/internal/config"
	"github.com/afirouzabady/db-sync-engine/internal/dbconn"
	"github.com/afirouzabady/db-sync-engine/internal/engine"
	"github.com/afirouzabady/db-sync-engine/internal/logger"
	"github.com/afirouzabady/db-sync-engine/internal/runlog"
	"github.com/afirouzabady/db-sync-engine/internal/schedule"
	"github.com/afirouzabady/db-sync-engine/internal/schema"
	"github.com/afirouzabady/db-sync-engine/internal/watermark"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath  string
		cronSpec string
		watch    bool
	)

	root := &cobra.Command{
		Use:           "dbsync",
		Short:         "Incremental table sync between two databases",
		Long:          "dbsync copies rows from configured source tables into a destination\ndatabase, keeping a per-table watermark so repeat runs only transfer\nrows changed since the previous pass.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cfgPath, cronSpec, watch)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (env-only when omitted)")
	root.Flags().StringVar(&cronSpec, "schedule", "", "stay resident and re-run on this cron expression")
	root.Flags().BoolVar(&watch, "watch", false, "stay resident and re-run when the SQLite source file changes")

	root.AddCommand(newStatusCmd(&cfgPath))
	return root
}

func runSync(ctx context.Context, cfgPath, cronSpec string, watch bool) error {
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cronSpec != "" {
		cfg.Schedule = cronSpec
	}
	if watch {
		cfg.Watch = true
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := dbconn.Open(ctx, cfg.PrimaryURL)
	if err != nil {
		log.Error("source unreachable", zap.Error(err))
		return err
	}
	defer source.Close()
	dest, err := dbconn.Open(ctx, cfg.SecondaryURL)
	if err != nil {
		log.Error("destination unreachable", zap.Error(err))
		return err
	}
	defer dest.Close()
	log.Info("connected",
		zap.String("source", source.Dialect.Name()),
		zap.String("destination", dest.Dialect.Name()),
		zap.Int("tables", len(cfg.Tables)))

	eng := engine.New(cfg, source, dest, log)

	if cfg.Schedule == "" && !cfg.Watch {
		result, err := eng.Run(ctx)
		if err != nil {
			return err
		}
		printSummary(result)
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d tables failed", result.Failed, len(result.Tables))
		}
		return nil
	}

	var watchPath string
	if cfg.Watch {
		p, ok := dbconn.SQLitePath(cfg.PrimaryURL)
		if !ok {
			return fmt.Errorf("--watch requires a SQLite source")
		}
		watchPath = p
	}

	runner := &schedule.Runner{
		Log: log,
		Job: func(ctx context.Context) {
			result, err := eng.Run(ctx)
			if err != nil {
				log.Error("run failed", zap.Error(err))
				return
			}
			if result.Failed > 0 {
				log.Warn("run finished with failures",
					zap.Int("failed", result.Failed),
					zap.Int("tables", len(result.Tables)))
			}
		},
	}
	if err := runner.Start(ctx, cfg.Schedule, watchPath); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("shutting down")
	runner.Stop()
	return nil
}

// printSummary writes the operator-facing end-of-run report: per-table
// outcomes with the error kind, then totals.
func printSummary(result *engine.RunResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tSTATUS\tROWS\tDURATION\tERROR")
	for _, t := range result.Tables {
		errText := ""
		if t.Err != nil {
			errText = fmt.Sprintf("[%s] %v", errorKind(t.Err), t.Err)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			t.Table, t.Status, t.RowsWritten, t.Duration.Round(time.Millisecond), errText)
	}
	w.Flush()
	fmt.Printf("%d succeeded, %d failed\n", result.Succeeded, result.Failed)
}

func errorKind(err error) string {
	var (
		schemaErr *schema.Error
		queryErr  *engine.QueryError
		writeErr  *engine.WriteError
	)
	switch {
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.As(err, &queryErr):
		return "query"
	case errors.As(err, &writeErr):
		return "write"
	default:
		return "error"
	}
}

func newStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored watermarks and last run outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			dest, err := dbconn.Open(ctx, cfg.SecondaryURL)
			if err != nil {
				return err
			}
			defer dest.Close()

			marks := &watermark.Store{Conn: dest}
			records, err := marks.List(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no watermarks stored: every table is in first-run mode")
				return nil
			}

			history := &runlog.Store{Conn: dest}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tLAST SYNCED\tLAST RUN\tROWS")
			for _, rec := range records {
				lastRun, lastRows := "-", "-"
				if entries, err := history.Recent(ctx, rec.Table, 1); err == nil && len(entries) > 0 {
					lastRun = entries[0].Status
					lastRows = fmt.Sprintf("%d", entries[0].RowsWritten)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					rec.Table, rec.LastSyncedAt.Format(time.RFC3339), lastRun, lastRows)
			}
			return w.Flush()
		},
	}
}
