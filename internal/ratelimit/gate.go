// Package ratelimit coordinates the aggregate request rate of any number of
// independently launched scraper processes. Coordination is a shared marker
// file: the mtime is the last-request clock, read before a request and touched
// after. Two processes can race between read and touch, so the guarantee is
// statistical (aggregate rate stays near the floor), not mutual exclusion.
package ratelimit

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

type Gate struct {
	path   string
	floor  time.Duration
	jitter time.Duration
	local  *rate.Limiter
}

// NewGate returns a gate enforcing a minimum interval of floor between
// requests across every process sharing the marker file at path. A Gate is
// not safe for concurrent use within one process; each worker process owns
// one gate.
func NewGate(path string, floor time.Duration) *Gate {
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}

	return &Gate{
		path:   path,
		floor:  floor,
		jitter: floor / 4,
		local:  rate.NewLimiter(rate.Every(floor), 1),
	}
}

func (g *Gate) Floor() time.Duration { return g.floor }

// SetFloor widens (or narrows) the inter-request interval, e.g. when the
// breaker trips into its relaxed regime.
func (g *Gate) SetFloor(floor time.Duration) {
	if floor <= 0 {
		return
	}
	g.floor = floor
	g.jitter = floor / 4
	g.local.SetLimit(rate.Every(floor))
}

// Wait blocks until at least floor has elapsed since the last request made by
// any process sharing the marker file, then stamps the file with "now". The
// in-process limiter runs first so a single busy process paces itself without
// spinning on stat.
func (g *Gate) Wait(ctx context.Context) error {
	if err := g.local.Wait(ctx); err != nil {
		return err
	}

	st, err := os.Stat(g.path)
	if os.IsNotExist(err) {
		if f, cerr := os.OpenFile(g.path, os.O_CREATE|os.O_WRONLY, 0644); cerr == nil {
			_ = f.Close()
		}
		return nil
	}
	if err != nil {
		// Shared clock unreadable: fall back to a local full-floor sleep.
		return sleepCtx(ctx, g.floor)
	}

	elapsed := time.Since(st.ModTime())
	if elapsed < g.floor {
		wait := g.floor - elapsed
		if g.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(g.jitter)))
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	now := time.Now()
	if err := os.Chtimes(g.path, now, now); err != nil {
		// Marker may have been removed under us; recreate for the next pass.
		if f, cerr := os.OpenFile(g.path, os.O_CREATE|os.O_WRONLY, 0644); cerr == nil {
			_ = f.Close()
		}
	}

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
