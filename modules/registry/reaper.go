package registry

import (
	"context"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/sync/errgroup"

	"github.com/example/collab-realtime/modules/transport"
)

// Reaper periodically removes connections that stopped sending liveness
// signals. Removal goes through Registry.Remove, so departures are announced
// exactly as for a clean disconnect.
type Reaper struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	logger   types.Logger
	onReap   func(conn Connection, idle time.Duration)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper. Connections idle for longer than timeout are
// removed; the registry is swept every interval.
func NewReaper(registry *Registry, timeout, interval time.Duration, logger types.Logger) *Reaper {
	return &Reaper{
		registry: registry,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
	}
}

// OnReap sets a callback invoked for every reaped connection.
func (r *Reaper) OnReap(fn func(conn Connection, idle time.Duration)) {
	r.onReap = fn
}

// Start runs the sweep loop in a background goroutine until Stop is called or
// ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Info("Liveness reaper started", "timeout", r.timeout, "interval", r.interval)
}

// Stop terminates the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Sweep removes every connection last seen before now minus the timeout and
// returns how many were removed. Reaped clients get a going-away close so
// they reconnect.
func (r *Reaper) Sweep(now time.Time) int {
	cutoff := now.Add(-r.timeout)
	stale := r.registry.Stale(cutoff)
	if len(stale) == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		removed int
		g       errgroup.Group
	)
	g.SetLimit(8)
	for _, id := range stale {
		g.Go(func() error {
			conn, ok := r.registry.RemoveIdle(id, cutoff, transport.CloseGoingAway)
			if !ok {
				return nil
			}
			idle := now.Sub(conn.LastSeen)
			r.logger.Warn("Reaped idle connection",
				"connectionID", id,
				"userID", conn.Identity.UserID,
				"idle", idle)
			if r.onReap != nil {
				r.onReap(conn, idle)
			}
			mu.Lock()
			removed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return removed
}

// Timeout returns the liveness timeout.
func (r *Reaper) Timeout() time.Duration { return r.timeout }
