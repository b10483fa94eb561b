package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/phrazzld/dispatch/internal/backend"
	"github.com/phrazzld/dispatch/internal/registry"
)

// ErrAllBackendsFailed is returned when every endpoint in a chain has
// been exhausted. The orchestrator surfaces it as a degraded result
// rather than a hard failure.
var ErrAllBackendsFailed = errors.New("all backends failed")

// Endpoint describes one position in a fallback chain: which backend
// to call and with what per-call budget. Chains are loaded from
// configuration and immutable afterwards.
type Endpoint struct {
	// Name is the backend name, resolved through the service registry.
	Name string

	// Timeout bounds each individual call attempt.
	Timeout time.Duration

	// MaxRetries is how many times a failed attempt is retried on this
	// endpoint before the chain advances. Zero means one attempt only.
	MaxRetries int

	// BaseDelay seeds the exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// Controller executes a request against an ordered chain of
// endpoints: per-endpoint timeout, retry with exponential backoff and
// jitter, and advancement to the next endpoint when one is exhausted.
// A circuit breaker per endpoint skips backends that have been
// failing consistently, so a dead service does not burn retry budget
// on every request.
type Controller struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	rng      *rand.Rand
}

// New creates a Controller resolving backends through reg.
func New(reg *registry.Registry, logger *slog.Logger) *Controller {
	return &Controller{
		registry: reg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute tries each endpoint in chain order until one succeeds. The
// returned result carries the name of the endpoint that served it.
// Transient failures are retried per the endpoint's budget;
// non-retriable failures skip the remaining retries for that endpoint
// and advance the chain, because an endpoint's rejection is its own
// verdict, not the chain's. Cancellation is checked between attempts
// and aborts promptly.
func (c *Controller) Execute(ctx context.Context, req *backend.Request) (*backend.Result, error) {
	chain := c.chainFor(req)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured for kind %q", ErrAllBackendsFailed, req.Kind)
	}
	return c.execute(ctx, req, chain)
}

// ExecuteChain is Execute with an explicit chain, used by the
// orchestrator which owns the per-kind chain configuration.
func (c *Controller) ExecuteChain(ctx context.Context, req *backend.Request, chain []Endpoint) (*backend.Result, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty endpoint chain", ErrAllBackendsFailed)
	}
	return c.execute(ctx, req, chain)
}

func (c *Controller) execute(ctx context.Context, req *backend.Request, chain []Endpoint) (*backend.Result, error) {
	var lastErr error

	for _, ep := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, ok := c.registry.Get(ep.Name)
		if !ok {
			c.logger.Warn("endpoint not registered, skipping",
				"endpoint", ep.Name,
				"kind", req.Kind)
			continue
		}

		res, err := c.tryEndpoint(ctx, b, ep, req)
		if err == nil {
			res.Endpoint = ep.Name
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		c.logger.Info("endpoint exhausted, advancing chain",
			"endpoint", ep.Name,
			"kind", req.Kind,
			"error", err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: last endpoint error: %v", ErrAllBackendsFailed, lastErr)
	}
	return nil, ErrAllBackendsFailed
}

// tryEndpoint runs the retry loop for a single endpoint.
func (c *Controller) tryEndpoint(ctx context.Context, b backend.Backend, ep Endpoint, req *backend.Request) (*backend.Result, error) {
	breaker := c.breakerFor(ep.Name)

	maxRetries := ep.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := ep.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := ep.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := c.invoke(ctx, breaker, b, ep, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Debug("circuit open, skipping endpoint", "endpoint", ep.Name)
			return nil, err
		}

		if !backend.Retriable(err) {
			c.logger.Warn("non-retriable error, not retrying this endpoint",
				"endpoint", ep.Name,
				"attempt", attempt+1,
				"error", err)
			return nil, err
		}

		if attempt >= maxRetries {
			break
		}

		delay := c.backoff(baseDelay, maxDelay, attempt)
		c.logger.Info("retrying after delay",
			"endpoint", ep.Name,
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.logger.Warn("call cancelled during retry delay", "endpoint", ep.Name)
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("exceeded retry budget (%d attempts): %w", maxRetries+1, lastErr)
}

// invoke performs one attempt with the endpoint's timeout, routed
// through its circuit breaker.
func (c *Controller) invoke(ctx context.Context, breaker *gobreaker.CircuitBreaker, b backend.Backend, ep Endpoint, req *backend.Request) (*backend.Result, error) {
	callCtx := ctx
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	out, err := breaker.Execute(func() (interface{}, error) {
		res, err := b.Invoke(callCtx, req)
		if err != nil {
			// A timed-out attempt surfaces as the backend timeout
			// kind, not a bare context error.
			if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %v", backend.ErrTimeout, err)
			}
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*backend.Result), nil
}

// backoff computes base*2^attempt capped at max, with jitter in
// [0.5, 1.5) to avoid a thundering herd of synchronized retries.
func (c *Controller) backoff(base, max time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}

	c.mu.Lock()
	jitter := 0.5 + c.rng.Float64()
	c.mu.Unlock()

	return time.Duration(d * jitter)
}

// breakerFor lazily creates the circuit breaker for an endpoint.
func (c *Controller) breakerFor(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[name] = cb
	return cb
}

// chainFor builds a default chain from every registered backend able
// to serve the request's kind, in name order. Deployments normally
// configure explicit chains; this keeps unconfigured kinds working.
func (c *Controller) chainFor(req *backend.Request) []Endpoint {
	names := c.registry.ForKind(req.Kind)
	chain := make([]Endpoint, 0, len(names))
	for _, name := range names {
		chain = append(chain, Endpoint{Name: name, Timeout: 30 * time.Second, MaxRetries: 2})
	}
	return chain
}
