package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/phrazzld/dispatch/internal/backend"
	"github.com/phrazzld/dispatch/internal/cache"
	"github.com/phrazzld/dispatch/internal/fallback"
	"github.com/phrazzld/dispatch/internal/observability"
	"github.com/phrazzld/dispatch/internal/pool"
	"github.com/phrazzld/dispatch/internal/ratelimit"
	"github.com/phrazzld/dispatch/internal/store"
	"github.com/phrazzld/dispatch/internal/task"
)

// Where a result came from.
const (
	ServedFromCache    = "cache"
	ServedFromLive     = "live"
	ServedFromFallback = "fallback"
)

// ErrUnknownKind is returned when Process receives a kind with no
// configured endpoint chain.
var ErrUnknownKind = errors.New("no endpoint chain configured for kind")

// Result is the outcome of a Process call, successful or degraded.
type Result struct {
	// Value is the produced content. Empty on a degraded result.
	Value string `json:"value"`

	// Confidence is the backend-reported confidence in [0, 1].
	Confidence float64 `json:"confidence,omitempty"`

	// Endpoint names the backend that produced the value. Empty for
	// cache hits recorded before endpoint tracking and for degraded
	// results.
	Endpoint string `json:"endpoint,omitempty"`

	// ServedFrom says which path produced the result: "cache",
	// "live", or "fallback" when every backend was exhausted.
	ServedFrom string `json:"served_from"`

	// CacheHit is true when the result came from the cache.
	CacheHit bool `json:"cache_hit"`

	// Degraded is true when all backends failed and the caller got a
	// placeholder instead of real content.
	Degraded bool `json:"degraded"`

	// LatencyMs is how long the call took from the caller's view.
	LatencyMs int64 `json:"latency_ms"`
}

// Config carries the orchestrator's tunables. Zero values get
// sensible defaults from New.
type Config struct {
	// CacheTTL bounds how long results are memoized. Default 24h.
	CacheTTL time.Duration

	// RateMaxWait is how long a request may wait for a rate-limit
	// permit before giving up. Default 2s.
	RateMaxWait time.Duration

	// Chains maps each kind to its ordered endpoint chain.
	Chains map[task.Kind][]fallback.Endpoint

	// PoolFor routes kinds to named worker pools. Kinds without an
	// entry use DefaultPool.
	PoolFor map[task.Kind]string

	// DefaultPool is the pool used when PoolFor has no entry for a
	// kind. Default "ai".
	DefaultPool string
}

// Orchestrator ties the concurrency primitives together: cache
// lookup, request collapsing, rate limiting, pool dispatch, and the
// fallback chain. It is the single entry point the API and the task
// queue call into.
type Orchestrator struct {
	cfg        Config
	limiter    *ratelimit.Limiter
	cache      cache.Cache
	pools      *pool.Manager
	controller *fallback.Controller
	processes  store.ProcessStore
	logger     *slog.Logger
	metrics    *observability.Registry

	group singleflight.Group
}

// New creates an Orchestrator. The cache, store, and metrics registry
// may be nil, in which case the corresponding step is skipped.
func New(
	cfg Config,
	limiter *ratelimit.Limiter,
	c cache.Cache,
	pools *pool.Manager,
	controller *fallback.Controller,
	processes store.ProcessStore,
	logger *slog.Logger,
	metrics *observability.Registry,
) *Orchestrator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.RateMaxWait <= 0 {
		cfg.RateMaxWait = 2 * time.Second
	}
	if cfg.DefaultPool == "" {
		cfg.DefaultPool = "ai"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		limiter:    limiter,
		cache:      c,
		pools:      pools,
		controller: controller,
		processes:  processes,
		logger:     logger,
		metrics:    metrics,
	}
}

// Process runs one request through the full pipeline. Identical
// concurrent requests collapse into a single backend call whose
// result every waiter shares. When all backends fail the caller gets
// a degraded Result, not an error; rate limiting, cancellation, and
// infrastructure failures still surface as errors.
func (o *Orchestrator) Process(ctx context.Context, kind task.Kind, payload task.Payload) (*Result, error) {
	return o.process(ctx, kind, payload, true)
}

// ProcessInline is Process without the worker pool hop. It exists for
// callers that already occupy a pool slot, like the task queue's
// executor; dispatching again from inside a worker would deadlock a
// full pool.
func (o *Orchestrator) ProcessInline(ctx context.Context, kind task.Kind, payload task.Payload) (*Result, error) {
	return o.process(ctx, kind, payload, false)
}

func (o *Orchestrator) process(ctx context.Context, kind task.Kind, payload task.Payload, usePool bool) (*Result, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", task.ErrInvalidKind, kind)
	}

	start := time.Now()
	fp := Fingerprint(kind, payload)
	log := o.logger.With("kind", kind, "fingerprint", fp[:12])

	if res, ok := o.lookupCache(ctx, kind, fp); ok {
		res.LatencyMs = time.Since(start).Milliseconds()
		o.count("dispatch_cache_hits_total", kind)
		o.record(ctx, kind, fp, res)
		return res, nil
	}
	o.count("dispatch_cache_misses_total", kind)

	ch := o.group.DoChan(string(kind)+":"+fp, func() (any, error) {
		// The detached context lets a slow backend call finish and
		// populate the cache even after the initiating caller gives
		// up; later callers benefit from the cached result.
		return o.executeOnce(context.WithoutCancel(ctx), kind, fp, payload, usePool, log)
	})

	var val any
	var shared bool
	var err error
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		val, shared, err = r.Val, r.Shared, r.Err
	}

	if shared {
		o.count("dispatch_requests_collapsed_total", kind)
	}

	res := &Result{ServedFrom: ServedFromLive}
	switch {
	case err == nil:
		br := val.(*backend.Result)
		res.Value = br.Value
		res.Confidence = br.Confidence
		res.Endpoint = br.Endpoint
	case errors.Is(err, fallback.ErrAllBackendsFailed):
		// Exhausting the chain is an expected operating mode, not a
		// failure of the pipeline. Callers see a degraded result.
		log.Warn("all backends exhausted, serving degraded result", "error", err)
		res.ServedFrom = ServedFromFallback
		res.Degraded = true
		o.count("dispatch_degraded_total", kind)
	default:
		o.count("dispatch_errors_total", kind)
		return nil, err
	}

	res.LatencyMs = time.Since(start).Milliseconds()
	o.record(ctx, kind, fp, res)
	return res, nil
}

// executeOnce is the collapsed body: one rate-limit permit, one pool
// slot, one walk of the fallback chain, one cache write.
func (o *Orchestrator) executeOnce(ctx context.Context, kind task.Kind, fp string, payload task.Payload, usePool bool, log *slog.Logger) (*backend.Result, error) {
	chain, ok := o.cfg.Chains[kind]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if o.limiter != nil {
		// One permit per request, charged to the primary endpoint.
		// Fallback endpoints invoked after a primary failure do not
		// consume their own budgets.
		if err := o.limiter.Acquire(ctx, chain[0].Name, o.cfg.RateMaxWait); err != nil {
			o.count("dispatch_rate_limited_total", kind)
			return nil, err
		}
	}

	req := &backend.Request{Kind: kind, Payload: payload}
	run := func(ctx context.Context) (any, error) {
		return o.controller.ExecuteChain(ctx, req, chain)
	}

	var p *pool.Pool
	if usePool {
		p = o.poolFor(kind)
	}

	var val any
	var err error
	if p != nil {
		var fut *pool.Future
		fut, err = p.Submit(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("failed to submit to pool: %w", err)
		}
		val, err = fut.Wait(ctx)
	} else {
		val, err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	br := val.(*backend.Result)
	o.storeCache(ctx, kind, fp, br, log)
	return br, nil
}

func (o *Orchestrator) lookupCache(ctx context.Context, kind task.Kind, fp string) (*Result, bool) {
	if o.cache == nil {
		return nil, false
	}
	buf, ok, err := o.cache.Get(ctx, kind, fp)
	if err != nil {
		// A broken cache degrades to a miss rather than failing the
		// request.
		o.logger.Warn("cache lookup failed", "kind", kind, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var br backend.Result
	if err := json.Unmarshal(buf, &br); err != nil {
		o.logger.Warn("discarding undecodable cache entry", "kind", kind, "error", err)
		_ = o.cache.Invalidate(ctx, kind, fp)
		return nil, false
	}
	return &Result{
		Value:      br.Value,
		Confidence: br.Confidence,
		Endpoint:   br.Endpoint,
		ServedFrom: ServedFromCache,
		CacheHit:   true,
	}, true
}

func (o *Orchestrator) storeCache(ctx context.Context, kind task.Kind, fp string, br *backend.Result, log *slog.Logger) {
	if o.cache == nil {
		return
	}
	buf, err := json.Marshal(br)
	if err != nil {
		log.Warn("failed to encode result for cache", "error", err)
		return
	}
	if err := o.cache.Set(ctx, kind, fp, buf, o.cfg.CacheTTL); err != nil {
		log.Warn("failed to cache result", "error", err)
	}
}

// record writes the audit trail entry. Failures are logged and
// swallowed; auditing never fails a request.
func (o *Orchestrator) record(ctx context.Context, kind task.Kind, fp string, res *Result) {
	if o.processes == nil {
		return
	}
	rec := &store.ProcessRecord{
		Kind:        kind,
		Fingerprint: fp,
		ServedFrom:  res.ServedFrom,
		Endpoint:    res.Endpoint,
		CacheHit:    res.CacheHit,
		Degraded:    res.Degraded,
		LatencyMs:   res.LatencyMs,
	}
	if err := o.processes.RecordProcess(ctx, rec); err != nil {
		o.logger.Warn("failed to record process entry", "kind", kind, "error", err)
	}
}

func (o *Orchestrator) poolFor(kind task.Kind) *pool.Pool {
	if o.pools == nil {
		return nil
	}
	name := o.cfg.DefaultPool
	if n, ok := o.cfg.PoolFor[kind]; ok {
		name = n
	}
	p, ok := o.pools.Get(name)
	if !ok {
		return nil
	}
	return p
}

func (o *Orchestrator) count(name string, kind task.Kind) {
	if o.metrics == nil {
		return
	}
	o.metrics.IncCounter(name, map[string]string{"kind": string(kind)}, 1)
}
