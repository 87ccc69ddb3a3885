package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ── Runner ─────────────────────────────────────────────────
// Optional resident mode: re-runs the batch on a cron schedule and/or
// when a watched SQLite source file changes. One-shot invocation via an
// external scheduler remains the default; this exists for deployments
// without one.

// debounceDelay coalesces bursts of file events into a single run.
const debounceDelay = 500 * time.Millisecond

// Runner triggers a job from a cron schedule and/or a file watch.
type Runner struct {
	Job func(context.Context)
	Log *zap.Logger

	guard   flightGuard
	sched   *cron.Cron
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// Start installs the requested triggers. spec is a cron expression (may
// be empty); watchPath is a file to watch (may be empty). At least one
// must be set.
func (r *Runner) Start(ctx context.Context, spec, watchPath string) error {
	if spec == "" && watchPath == "" {
		return fmt.Errorf("schedule: no trigger configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if spec != "" {
		c := cron.New()
		if _, err := c.AddFunc(spec, func() { r.tick(runCtx, "cron") }); err != nil {
			cancel()
			return fmt.Errorf("schedule: invalid cron expression %q: %w", spec, err)
		}
		c.Start()
		r.sched = c
		r.Log.Info("cron schedule active", zap.String("spec", spec))
	}

	if watchPath != "" {
		if err := r.watch(runCtx, watchPath); err != nil {
			r.Stop()
			return err
		}
	}
	return nil
}

// watch re-runs the job when the watched file is written. The parent
// directory is watched because editors and SQLite replace files.
func (r *Runner) watch(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("schedule: bad watch path %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schedule: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("schedule: watch %q: %w", absPath, err)
	}
	r.watcher = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if name, _ := filepath.Abs(event.Name); name != absPath {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					r.tick(ctx, "file change")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.Log.Warn("watcher error", zap.Error(err))
			}
		}
	}()

	r.Log.Info("file watch active", zap.String("path", absPath))
	return nil
}

func (r *Runner) tick(ctx context.Context, trigger string) {
	if !r.guard.TryLock() {
		r.Log.Warn("run skipped: previous run still in flight",
			zap.String("trigger", trigger))
		return
	}
	defer r.guard.Unlock()

	r.Log.Info("run triggered", zap.String("trigger", trigger))
	r.Job(ctx)
}

// Stop tears down the triggers and waits briefly for an in-flight run.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.sched != nil {
		r.sched.Stop()
		r.sched = nil
	}
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r.guard.Wait(waitCtx)
}
