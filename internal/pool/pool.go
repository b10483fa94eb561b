package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/dispatch/internal/observability"
)

// Common errors returned by pools.
var (
	// ErrPoolSaturated is returned when the pool's bounded queue is
	// full and the submission policy cannot place the work. The caller
	// should retry later or accept queuing elsewhere.
	ErrPoolSaturated = errors.New("worker pool saturated")

	// ErrPoolClosed is returned for submissions after Shutdown and for
	// queued work dropped by a drain timeout.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Policy selects how Submit behaves when the pool queue is full.
type Policy string

const (
	// PolicyBlock waits up to the configured back-pressure timeout for
	// queue space before giving up. Suited to AI pools where brief
	// waits beat refusals.
	PolicyBlock Policy = "block"

	// PolicyReject fails immediately with ErrPoolSaturated. Suited to
	// upload pools where the caller should get fast feedback.
	PolicyReject Policy = "reject"
)

// Config sizes one pool.
type Config struct {
	// Capacity is the maximum number of concurrently executing tasks.
	Capacity int

	// QueueDepth bounds how many submissions may wait beyond the ones
	// executing. Zero means no waiting room: capacity is the only
	// buffer.
	QueueDepth int

	// Policy selects the saturation behavior.
	Policy Policy

	// BlockTimeout is the back-pressure wait budget for PolicyBlock.
	BlockTimeout time.Duration
}

// Fn is a unit of work executed on a pool worker. The passed context
// is cancelled when either the submitter's context or the pool itself
// is cancelled.
type Fn func(ctx context.Context) (any, error)

type submission struct {
	ctx    context.Context
	fn     Fn
	future *Future
}

// Pool executes submitted functions on a fixed set of worker
// goroutines fed by a bounded queue. The in-flight count never
// exceeds Capacity; submissions beyond Capacity+QueueDepth are
// refused according to the pool's policy.
type Pool struct {
	name    string
	cfg     Config
	queue   chan *submission
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *observability.Registry

	mu       sync.RWMutex
	closed   bool
	inFlight atomic.Int64

	// droppedLate counts queued submissions a worker picked up after
	// the pool was cancelled; they are folded into Shutdown's dropped
	// total.
	droppedLate atomic.Int64
}

// New creates and starts a pool with the given configuration.
func New(name string, cfg Config, logger *slog.Logger, metrics *observability.Registry) *Pool {
	if cfg.Capacity <= 0 {
		logger.Warn("invalid pool capacity, using default",
			"pool", name,
			"specified_capacity", cfg.Capacity,
			"default_capacity", 1)
		cfg.Capacity = 1
	}
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBlock
	}
	if cfg.Policy == PolicyBlock && cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		cfg:     cfg,
		queue:   make(chan *submission, cfg.QueueDepth),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("pool", name),
		metrics: metrics,
	}

	for i := 0; i < cfg.Capacity; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Submit places fn on the pool's queue and returns a Future for its
// result. When the queue is full, PolicyReject fails immediately and
// PolicyBlock waits up to the configured back-pressure timeout; both
// end in ErrPoolSaturated when no space frees up.
func (p *Pool) Submit(ctx context.Context, fn Fn) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	p.count("submitted")
	s := &submission{ctx: ctx, fn: fn, future: newFuture()}

	switch p.cfg.Policy {
	case PolicyReject:
		select {
		case p.queue <- s:
		default:
			p.count("rejected")
			p.logger.Debug("submission rejected, queue full", "queue_depth", len(p.queue))
			return nil, ErrPoolSaturated
		}
	default: // PolicyBlock
		timer := time.NewTimer(p.cfg.BlockTimeout)
		defer timer.Stop()
		select {
		case p.queue <- s:
		case <-timer.C:
			p.count("rejected")
			p.logger.Debug("submission rejected after back-pressure wait",
				"block_timeout", p.cfg.BlockTimeout)
			return nil, ErrPoolSaturated
		case <-ctx.Done():
			p.count("rejected")
			return nil, ctx.Err()
		}
	}

	p.gauge("queue_depth", float64(len(p.queue)))
	return s.future, nil
}

// Shutdown stops accepting new work, waits up to drainTimeout for
// queued and in-flight work to finish, then cancels the rest. It
// returns the number of queued submissions dropped without running.
func (p *Pool) Shutdown(drainTimeout time.Duration) (dropped int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	p.mu.Unlock()

	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if p.inFlight.Load() == 0 && len(p.queue) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Cancel workers and anything still executing, then wait briefly
	// for them to wind down. A task ignoring its context can outlive
	// this wait; Shutdown does not hang on it.
	p.cancel()
	workersDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-time.After(time.Second):
		p.logger.Warn("workers did not stop within grace period")
	}

	// Fail queued submissions that never ran.
	for {
		select {
		case s := <-p.queue:
			s.future.complete(nil, ErrPoolClosed)
			dropped++
		default:
			dropped += int(p.droppedLate.Load())
			p.logger.Info("pool shut down",
				"dropped", dropped,
				"drain_timeout", drainTimeout)
			return dropped
		}
	}
}

// InFlight reports how many tasks are currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		case s := <-p.queue:
			p.run(s)
			p.gauge("queue_depth", float64(len(p.queue)))
		}
	}
}

// run executes one submission with a context tied to both the
// submitter and the pool lifecycle.
func (p *Pool) run(s *submission) {
	if p.ctx.Err() != nil {
		s.future.complete(nil, ErrPoolClosed)
		p.droppedLate.Add(1)
		return
	}
	if err := s.ctx.Err(); err != nil {
		s.future.complete(nil, err)
		return
	}

	p.inFlight.Add(1)
	p.gauge("in_flight", float64(p.inFlight.Load()))
	defer func() {
		p.inFlight.Add(-1)
		p.gauge("in_flight", float64(p.inFlight.Load()))
	}()

	ctx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	defer cancel()

	value, err := s.fn(ctx)
	if err != nil {
		p.count("failed")
	} else {
		p.count("completed")
	}
	s.future.complete(value, err)
}

func (p *Pool) count(event string) {
	if p.metrics != nil {
		p.metrics.IncCounter("dispatch_pool_"+event+"_total", map[string]string{"pool": p.name}, 1)
	}
}

func (p *Pool) gauge(name string, v float64) {
	if p.metrics != nil {
		p.metrics.SetGauge("dispatch_pool_"+name, map[string]string{"pool": p.name}, v)
	}
}
