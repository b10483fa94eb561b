package pool

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPool_ExecutesSubmittedWork(t *testing.T) {
	t.Parallel()

	p := New("test", Config{Capacity: 2, QueueDepth: 4}, testLogger(), nil)
	defer p.Shutdown(time.Second)

	fut, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)

	val, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", val)
}

func TestPool_CapacityInvariant(t *testing.T) {
	t.Parallel()

	const capacity = 3
	const total = 20

	p := New("capped", Config{Capacity: capacity, QueueDepth: total}, testLogger(), nil)
	defer p.Shutdown(5 * time.Second)

	var current, peak atomic.Int64
	var futures []*Future
	for i := 0; i < total; i++ {
		fut, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			n := current.Add(1)
			// Record the high-water mark of concurrent executions.
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, fut)
	}

	for _, fut := range futures {
		_, err := fut.Wait(context.Background())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int64(capacity),
		"concurrent executions must never exceed pool capacity")
}

func TestPool_RejectPolicy(t *testing.T) {
	t.Parallel()

	p := New("reject", Config{Capacity: 1, QueueDepth: 1, Policy: PolicyReject}, testLogger(), nil)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	block := func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}

	// First submission occupies the worker, second fills the queue.
	fut1, err := p.Submit(context.Background(), block)
	require.NoError(t, err)

	// Give the worker a moment to pick up the first submission.
	time.Sleep(20 * time.Millisecond)

	fut2, err := p.Submit(context.Background(), block)
	require.NoError(t, err)

	// Queue is now full; a reject-policy pool must fail fast.
	_, err = p.Submit(context.Background(), block)
	assert.ErrorIs(t, err, ErrPoolSaturated)

	close(release)
	_, err = fut1.Wait(context.Background())
	require.NoError(t, err)
	_, err = fut2.Wait(context.Background())
	require.NoError(t, err)
}

func TestPool_BlockPolicyTimesOut(t *testing.T) {
	t.Parallel()

	p := New("block", Config{
		Capacity:     1,
		QueueDepth:   0,
		Policy:       PolicyBlock,
		BlockTimeout: 30 * time.Millisecond,
	}, testLogger(), nil)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	defer close(release)

	_, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err = p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolSaturated)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond,
		"block policy should wait out the back-pressure budget before refusing")
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	p := New("closed", Config{Capacity: 1}, testLogger(), nil)
	p.Shutdown(time.Second)

	_, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ShutdownDropsQueuedWork(t *testing.T) {
	t.Parallel()

	p := New("drain", Config{Capacity: 1, QueueDepth: 5, Policy: PolicyReject}, testLogger(), nil)

	release := make(chan struct{})
	fut, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	var queued []*Future
	for i := 0; i < 3; i++ {
		f, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		queued = append(queued, f)
	}

	// Drain budget too small for the blocked task: queued work drops.
	dropped := p.Shutdown(30 * time.Millisecond)
	close(release)

	assert.Equal(t, 3, dropped)
	for _, f := range queued {
		_, err := f.Wait(context.Background())
		assert.ErrorIs(t, err, ErrPoolClosed)
	}
	_, _ = fut.Wait(context.Background())
}

func TestPool_ShutdownWaitsForInFlight(t *testing.T) {
	t.Parallel()

	p := New("graceful", Config{Capacity: 2, QueueDepth: 2}, testLogger(), nil)

	var completed atomic.Int64
	var futures []*Future
	for i := 0; i < 4; i++ {
		fut, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			completed.Add(1)
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, fut)
	}

	dropped := p.Shutdown(2 * time.Second)
	assert.Equal(t, 0, dropped, "a generous drain budget should drop nothing")
	assert.EqualValues(t, 4, completed.Load())
}

func TestPool_CancelledSubmissionNeverRuns(t *testing.T) {
	t.Parallel()

	p := New("cancelled", Config{Capacity: 1, QueueDepth: 2, Policy: PolicyReject}, testLogger(), nil)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	_, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	fut, err := p.Submit(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	cancel()
	close(release)

	_, err = fut.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load(), "a submission cancelled before starting must not run")
}

func TestPool_EmitsMetrics(t *testing.T) {
	t.Parallel()

	reg := observability.NewRegistry()
	p := New("metered", Config{Capacity: 1, QueueDepth: 1, Policy: PolicyReject}, testLogger(), reg)
	defer p.Shutdown(time.Second)

	fut, err := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	_, err = fut.Wait(context.Background())
	require.NoError(t, err)

	labels := map[string]string{"pool": "metered"}
	assert.Equal(t, 1.0, reg.CounterValue("dispatch_pool_submitted_total", labels))
	assert.Eventually(t, func() bool {
		return reg.CounterValue("dispatch_pool_completed_total", labels) == 1.0
	}, time.Second, 10*time.Millisecond)
}

func TestManager_CreateAndGet(t *testing.T) {
	t.Parallel()

	m := NewManager(testLogger(), nil)
	defer m.ShutdownAll(time.Second)

	_, err := m.Create("ai", Config{Capacity: 2})
	require.NoError(t, err)
	_, err = m.Create("upload", Config{Capacity: 4, Policy: PolicyReject})
	require.NoError(t, err)

	_, err = m.Create("ai", Config{Capacity: 1})
	assert.Error(t, err, "duplicate pool names must be rejected")

	p, ok := m.Get("ai")
	require.True(t, ok)
	assert.Equal(t, "ai", p.Name())

	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"ai", "upload"}, m.Names())
}

func TestManager_PoolIsolation(t *testing.T) {
	t.Parallel()

	m := NewManager(testLogger(), nil)
	defer m.ShutdownAll(time.Second)

	slow, err := m.Create("slow", Config{Capacity: 1, QueueDepth: 0, Policy: PolicyReject})
	require.NoError(t, err)
	fast, err := m.Create("fast", Config{Capacity: 1, QueueDepth: 0, Policy: PolicyReject})
	require.NoError(t, err)

	// Saturate the slow pool.
	release := make(chan struct{})
	defer close(release)
	_, err = slow.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// The fast pool must still accept work immediately.
	fut, err := fast.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	val, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}
