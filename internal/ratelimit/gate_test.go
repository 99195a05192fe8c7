package ratelimit

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateSingleWorkerKeepsFloor(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "rate.lock")
	g := NewGate(marker, 15*time.Millisecond)

	ctx := context.Background()
	var stamps []time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(ctx))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// small epsilon for mtime rounding
		require.GreaterOrEqual(t, gap, 13*time.Millisecond, "interval %d too short: %s", i, gap)
	}
}

func TestGateTwoWorkersAggregateFloor(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "rate.lock")
	const floor = 10 * time.Millisecond
	const perWorker = 8

	var mu sync.Mutex
	var stamps []time.Time

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// each simulated process owns its own gate on the shared marker
			g := NewGate(marker, floor)
			for i := 0; i < perWorker; i++ {
				if err := g.Wait(context.Background()); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				stamps = append(stamps, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := 2 * perWorker

	// Best-effort contract: aggregate pacing near the floor, with a small
	// tolerance for read/touch races between the two workers.
	require.GreaterOrEqual(t, elapsed, floor*time.Duration(total)*2/5,
		"aggregate rate far above the configured floor")

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	short := 0
	for i := 1; i < len(stamps); i++ {
		if stamps[i].Sub(stamps[i-1]) < floor/2 {
			short++
		}
	}
	require.LessOrEqual(t, short, total*4/10, "too many sub-floor intervals")
}

func TestGateWaitHonoursContext(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "rate.lock")
	g := NewGate(marker, time.Hour)

	// first wait creates the marker and returns immediately
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateSetFloor(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "rate.lock")
	g := NewGate(marker, 5*time.Millisecond)

	g.SetFloor(25 * time.Millisecond)
	require.Equal(t, 25*time.Millisecond, g.Floor())

	// non-positive floors are ignored
	g.SetFloor(0)
	require.Equal(t, 25*time.Millisecond, g.Floor())
}
