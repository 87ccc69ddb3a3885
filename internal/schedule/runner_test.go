package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGuardSingleFlight(t *testing.T) {
	var g flightGuard

	require.True(t, g.TryLock())
	assert.False(t, g.TryLock(), "second lock while running must fail")
	g.Unlock()
	assert.True(t, g.TryLock(), "lock must be reusable after unlock")
	g.Unlock()
}

func TestGuardWaitReturnsWhenIdle(t *testing.T) {
	var g flightGuard

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		g.Wait(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait hung with nothing running")
	}
}

func TestRunnerRequiresTrigger(t *testing.T) {
	r := &Runner{Log: zap.NewNop(), Job: func(context.Context) {}}
	require.Error(t, r.Start(context.Background(), "", ""))
}

func TestRunnerRejectsBadCron(t *testing.T) {
	r := &Runner{Log: zap.NewNop(), Job: func(context.Context) {}}
	require.Error(t, r.Start(context.Background(), "not a cron expr", ""))
}

func TestRunnerFileWatchTriggersJob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.db")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	var runs atomic.Int64
	r := &Runner{
		Log: zap.NewNop(),
		Job: func(context.Context) { runs.Add(1) },
	}
	require.NoError(t, r.Start(context.Background(), "", path))
	defer r.Stop()

	// Give the watcher goroutine a moment to come up, then touch the file.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, runs.Load(), int64(1), "file change should trigger a run")
}

func TestRunnerSkipsOverlappingTick(t *testing.T) {
	block := make(chan struct{})
	var runs atomic.Int64
	r := &Runner{
		Log: zap.NewNop(),
		Job: func(context.Context) {
			runs.Add(1)
			<-block
		},
	}

	go r.tick(context.Background(), "test")
	for runs.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	// A tick while the first is in flight must be skipped, not queued.
	r.tick(context.Background(), "test")
	assert.Equal(t, int64(1), runs.Load())

	close(block)
}
