package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/backend"
	"github.com/phrazzld/dispatch/internal/cache"
	"github.com/phrazzld/dispatch/internal/fallback"
	"github.com/phrazzld/dispatch/internal/pool"
	"github.com/phrazzld/dispatch/internal/ratelimit"
	"github.com/phrazzld/dispatch/internal/registry"
	"github.com/phrazzld/dispatch/internal/store"
	"github.com/phrazzld/dispatch/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	orch    *Orchestrator
	backend *backend.Static
	store   *store.MemoryProcessStore
	pools   *pool.Manager
}

// newFixture wires an orchestrator with one static text backend, an
// in-memory cache, a generous rate limit, and a small pool.
func newFixture(t *testing.T, b *backend.Static) *fixture {
	t.Helper()

	if b == nil {
		b = &backend.Static{BackendName: "primary", Value: "hello world", Confidence: 0.95}
	}
	reg := registry.New()
	reg.Register(b)

	logger := testLogger()
	pools := pool.NewManager(logger, nil)
	_, err := pools.Create("ai", pool.Config{Capacity: 4, QueueDepth: 16})
	require.NoError(t, err)
	t.Cleanup(func() { pools.ShutdownAll(time.Second) })

	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, DefaultLimit: 1000}, logger)
	mem := store.NewMemoryProcessStore()

	cfg := Config{
		CacheTTL:    time.Hour,
		RateMaxWait: 50 * time.Millisecond,
		Chains: map[task.Kind][]fallback.Endpoint{
			task.KindText: {{
				Name:       b.Name(),
				Timeout:    time.Second,
				MaxRetries: 1,
				BaseDelay:  time.Millisecond,
				MaxDelay:   5 * time.Millisecond,
			}},
		},
		DefaultPool: "ai",
	}

	orch := New(cfg, limiter, cache.NewMemory(64), pools, fallback.New(reg, logger), mem, logger, nil)
	return &fixture{orch: orch, backend: b, store: mem, pools: pools}
}

func textPayload(s string) task.Payload {
	return task.Payload{Data: []byte(s)}
}

func TestProcess_LiveResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res, err := f.orch.Process(context.Background(), task.KindText, textPayload("hi"))
	require.NoError(t, err)

	assert.Equal(t, "hello world", res.Value)
	assert.Equal(t, "primary", res.Endpoint)
	assert.Equal(t, ServedFromLive, res.ServedFrom)
	assert.False(t, res.CacheHit)
	assert.False(t, res.Degraded)
}

func TestProcess_SecondCallServedFromCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.Process(ctx, task.KindText, textPayload("same input"))
	require.NoError(t, err)
	require.Equal(t, ServedFromLive, first.ServedFrom)

	second, err := f.orch.Process(ctx, task.KindText, textPayload("same input"))
	require.NoError(t, err)

	assert.Equal(t, ServedFromCache, second.ServedFrom)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, int64(1), f.backend.Calls(), "cache hit must not invoke the backend")
}

func TestProcess_DifferentInputsDoNotShareCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.Process(ctx, task.KindText, textPayload("input a"))
	require.NoError(t, err)
	_, err = f.orch.Process(ctx, task.KindText, textPayload("input b"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.backend.Calls())
}

func TestProcess_ConcurrentIdenticalRequestsCollapse(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	b := &backend.Static{
		BackendName: "primary",
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Result, error) {
			<-release
			return &backend.Result{Value: "collapsed"}, nil
		},
	}
	f := newFixture(t, b)
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.Process(ctx, task.KindText, textPayload("burst"))
		}(i)
	}

	// Let every caller reach the collapse point before the backend
	// responds.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "collapsed", results[i].Value)
	}
	assert.Equal(t, int64(1), b.Calls(), "identical in-flight requests must share one backend call")
}

func TestProcess_AllBackendsFailedIsDegradedNotError(t *testing.T) {
	t.Parallel()

	b := &backend.Static{
		BackendName: "primary",
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Result, error) {
			return nil, backend.ErrInvalidInput
		},
	}
	f := newFixture(t, b)

	res, err := f.orch.Process(context.Background(), task.KindText, textPayload("bad"))
	require.NoError(t, err, "an exhausted chain is a degraded result, not an error")

	assert.True(t, res.Degraded)
	assert.Equal(t, ServedFromFallback, res.ServedFrom)
	assert.Empty(t, res.Value)
}

func TestProcess_DegradedResultNotCached(t *testing.T) {
	t.Parallel()

	b := &backend.Static{
		BackendName: "primary",
		// Fail once, then recover.
		Errs:  []error{backend.ErrInvalidInput},
		Value: "recovered",
	}
	f := newFixture(t, b)
	ctx := context.Background()

	first, err := f.orch.Process(ctx, task.KindText, textPayload("flaky"))
	require.NoError(t, err)
	require.True(t, first.Degraded)

	second, err := f.orch.Process(ctx, task.KindText, textPayload("flaky"))
	require.NoError(t, err)
	assert.False(t, second.Degraded, "a degraded result must not be memoized")
	assert.Equal(t, "recovered", second.Value)
}

func TestProcess_InvalidKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.orch.Process(context.Background(), task.Kind("video"), textPayload("x"))
	assert.ErrorIs(t, err, task.ErrInvalidKind)
}

func TestProcess_UnconfiguredKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.orch.Process(context.Background(), task.KindImage, task.Payload{Data: []byte{0x1}})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestProcess_RateLimited(t *testing.T) {
	t.Parallel()

	b := &backend.Static{BackendName: "primary", Value: "ok"}
	reg := registry.New()
	reg.Register(b)
	logger := testLogger()

	limiter := ratelimit.New(ratelimit.Config{
		Window: time.Minute,
		Limits: map[string]int{"primary": 1},
	}, logger)

	cfg := Config{
		RateMaxWait: 10 * time.Millisecond,
		Chains: map[task.Kind][]fallback.Endpoint{
			task.KindText: {{Name: "primary", Timeout: time.Second}},
		},
	}
	orch := New(cfg, limiter, nil, nil, fallback.New(reg, logger), nil, logger, nil)
	ctx := context.Background()

	_, err := orch.Process(ctx, task.KindText, textPayload("first"))
	require.NoError(t, err)

	_, err = orch.Process(ctx, task.KindText, textPayload("second"))
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestProcess_FallbackEndpointsDoNotConsumePermits(t *testing.T) {
	t.Parallel()

	primary := &backend.Static{
		BackendName: "primary",
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Result, error) {
			return nil, backend.ErrInvalidInput
		},
	}
	secondary := &backend.Static{BackendName: "secondary", Value: "rescued"}
	reg := registry.New()
	reg.Register(primary)
	reg.Register(secondary)
	logger := testLogger()

	limiter := ratelimit.New(ratelimit.Config{
		Window: time.Minute,
		Limits: map[string]int{"primary": 10, "secondary": 1},
	}, logger)

	cfg := Config{
		RateMaxWait: 10 * time.Millisecond,
		Chains: map[task.Kind][]fallback.Endpoint{
			task.KindText: {
				{Name: "primary", Timeout: time.Second},
				{Name: "secondary", Timeout: time.Second},
			},
		},
	}
	orch := New(cfg, limiter, nil, nil, fallback.New(reg, logger), nil, logger, nil)
	ctx := context.Background()

	// Each request is charged one permit against the primary; falling
	// through to the secondary leaves its budget of 1 untouched even
	// across repeated requests.
	for _, input := range []string{"first", "second"} {
		res, err := orch.Process(ctx, task.KindText, textPayload(input))
		require.NoError(t, err)
		assert.Equal(t, "secondary", res.Endpoint)
	}
	assert.Equal(t, 1, limiter.Remaining("secondary"))
	assert.Equal(t, 8, limiter.Remaining("primary"))
}

func TestProcess_RecordsAuditTrail(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.Process(ctx, task.KindText, textPayload("audit me"))
	require.NoError(t, err)
	_, err = f.orch.Process(ctx, task.KindText, textPayload("audit me"))
	require.NoError(t, err)

	recs := f.store.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, ServedFromLive, recs[0].ServedFrom)
	assert.Equal(t, ServedFromCache, recs[1].ServedFrom)
	assert.Equal(t, recs[0].Fingerprint, recs[1].Fingerprint)
}

func TestProcess_CallerCancellation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	b := &backend.Static{
		BackendName: "primary",
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Result, error) {
			close(started)
			<-release
			return &backend.Result{Value: "late"}, nil
		},
	}
	f := newFixture(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.Process(ctx, task.KindText, textPayload("slow"))
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Process did not return after caller cancellation")
	}
	close(release)
}

func TestProcess_RoutesKindToConfiguredPool(t *testing.T) {
	t.Parallel()

	b := &backend.Static{BackendName: "primary", Value: "stored"}
	reg := registry.New()
	reg.Register(b)
	logger := testLogger()

	pools := pool.NewManager(logger, nil)
	_, err := pools.Create("ai", pool.Config{Capacity: 4, QueueDepth: 16})
	require.NoError(t, err)
	_, err = pools.Create("io", pool.Config{Capacity: 1, Policy: pool.PolicyReject})
	require.NoError(t, err)
	t.Cleanup(func() { pools.ShutdownAll(time.Second) })

	ep := fallback.Endpoint{Name: "primary", Timeout: time.Second}
	cfg := Config{
		Chains: map[task.Kind][]fallback.Endpoint{
			task.KindText:   {ep},
			task.KindUpload: {ep},
		},
		PoolFor:     map[task.Kind]string{task.KindUpload: "io"},
		DefaultPool: "ai",
	}
	orch := New(cfg, nil, nil, pools, fallback.New(reg, logger), nil, logger, nil)
	ctx := context.Background()

	// Occupy the io pool's only slot so anything routed there is
	// rejected instead of queued.
	ioPool, ok := pools.Get("io")
	require.True(t, ok)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_, err = ioPool.Submit(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	_, err = orch.Process(ctx, task.KindUpload, task.Payload{Data: []byte("blob")})
	assert.ErrorIs(t, err, pool.ErrPoolSaturated, "upload work must land on the io pool")

	res, err := orch.Process(ctx, task.KindText, textPayload("blob"))
	require.NoError(t, err, "text work stays on the default pool")
	assert.Equal(t, ServedFromLive, res.ServedFrom)
}

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	p := task.Payload{
		Data:     []byte("input"),
		Language: "es",
		Metadata: map[string]string{"model": "a", "mode": "b"},
	}
	assert.Equal(t, Fingerprint(task.KindText, p), Fingerprint(task.KindText, p))
}

func TestFingerprint_Distinguishes(t *testing.T) {
	t.Parallel()

	base := task.Payload{Data: []byte("input"), Language: "es"}

	other := base
	other.Data = []byte("other")
	assert.NotEqual(t, Fingerprint(task.KindText, base), Fingerprint(task.KindText, other))

	translated := base
	translated.Translate = true
	assert.NotEqual(t, Fingerprint(task.KindText, base), Fingerprint(task.KindText, translated))

	assert.NotEqual(t, Fingerprint(task.KindText, base), Fingerprint(task.KindQuery, base))
}
