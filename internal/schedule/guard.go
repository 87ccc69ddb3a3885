package schedule

import (
	"context"
	"sync"
)

// flightGuard ensures only one sync run is in flight at a time. A cron
// tick or file event that fires while a run is active is skipped, not
// queued: watermarks make the next tick pick up whatever it missed.
type flightGuard struct {
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// TryLock marks a run as started. Returns false if one is already active.
func (g *flightGuard) TryLock() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	g.wg.Add(1)
	return true
}

// Unlock marks the run as finished. Must follow a successful TryLock.
func (g *flightGuard) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
	g.wg.Done()
}

// Wait blocks until the active run (if any) completes or ctx is cancelled.
func (g *flightGuard) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
