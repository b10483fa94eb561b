package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch/internal/events"
	"github.com/phrazzld/dispatch/internal/observability"
	"github.com/phrazzld/dispatch/internal/pool"
	"github.com/phrazzld/dispatch/internal/task"
)

// Common errors returned by the queue.
var (
	// ErrTaskNotFound is returned for unknown task IDs, including
	// terminal tasks already evicted by the retention janitor.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStillRunning is returned by Result when the wait budget
	// elapses before the task reaches a terminal state. The task keeps
	// executing; this is an indicator, not a failure.
	ErrStillRunning = errors.New("task still running")

	// ErrTaskCancelled is returned by Result for cancelled tasks.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrInvalidKind is returned by Enqueue for unsupported kinds.
	ErrInvalidKind = task.ErrInvalidKind

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("task queue closed")
)

// Executor runs the actual work for a task. The queue owns lifecycle
// bookkeeping; the executor owns semantics.
type Executor func(ctx context.Context, t *task.Task) (any, error)

// Config holds queue settings.
type Config struct {
	// Retention is how long terminal tasks stay queryable before the
	// janitor evicts them.
	Retention time.Duration

	// GCInterval is how often the janitor sweeps. Zero defaults to one
	// minute.
	GCInterval time.Duration

	// PoolFor maps a task kind to the worker pool that executes it.
	// Kinds without an entry fall back to DefaultPool.
	PoolFor map[task.Kind]string

	// DefaultPool names the pool for unmapped kinds.
	DefaultPool string

	// Emitter, when set, receives an event for every lifecycle
	// transition.
	Emitter events.Emitter
}

// entry pairs a task with its execution plumbing.
type entry struct {
	mu     sync.Mutex
	t      *task.Task
	cancel context.CancelFunc
	done   chan struct{}
}

// Queue is the fire-and-forget submission facility: it records tasks,
// dispatches them onto the category's worker pool, tracks status, and
// retains terminal tasks for a bounded window.
type Queue struct {
	pools   *pool.Manager
	exec    Executor
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Registry

	mu      sync.RWMutex
	tasks   map[uuid.UUID]*entry
	closed  bool
	janitor context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Queue and starts its retention janitor.
func New(pools *pool.Manager, exec Executor, cfg Config, logger *slog.Logger, metrics *observability.Registry) *Queue {
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = time.Minute
	}
	if cfg.DefaultPool == "" {
		cfg.DefaultPool = "ai"
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pools:   pools,
		exec:    exec,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tasks:   make(map[uuid.UUID]*entry),
		janitor: cancel,
	}

	q.wg.Add(1)
	go q.gcLoop(ctx)

	return q
}

// Enqueue records a task in Pending state and submits its execution
// to the appropriate worker pool. It does not wait for execution.
func (q *Queue) Enqueue(ctx context.Context, kind task.Kind, payload task.Payload) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	p, ok := q.pools.Get(q.poolName(kind))
	if !ok {
		return uuid.Nil, fmt.Errorf("no pool configured for kind %q", kind)
	}

	t := task.New(kind, payload)
	taskCtx, cancel := context.WithCancel(context.Background())
	e := &entry{t: t, cancel: cancel, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return uuid.Nil, ErrQueueClosed
	}
	q.tasks[t.ID] = e
	q.mu.Unlock()

	fut, err := p.Submit(taskCtx, func(runCtx context.Context) (any, error) {
		q.run(runCtx, e)
		return nil, nil
	})
	if err != nil {
		q.mu.Lock()
		delete(q.tasks, t.ID)
		q.mu.Unlock()
		cancel()
		return uuid.Nil, fmt.Errorf("failed to dispatch task: %w", err)
	}

	// A pool shutdown can resolve the future without ever running the
	// task. Every task must still reach a terminal, observable state.
	go func() {
		<-fut.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.t.Status == task.StatusPending {
			now := time.Now().UTC()
			e.t.Status = task.StatusCancelled
			e.t.FinishedAt = &now
			close(e.done)
			q.count("cancelled", e.t.Kind)
			q.emit(e.t.ID, e.t.Kind, task.StatusCancelled)
			q.logger.Warn("task dropped before execution", "task_id", e.t.ID)
		}
	}()

	q.count("enqueued", kind)
	q.emit(t.ID, kind, task.StatusPending)
	q.logger.Debug("task enqueued",
		"task_id", t.ID,
		"task_kind", kind,
		"pool", p.Name())
	return t.ID, nil
}

// Status returns a snapshot of the task.
func (q *Queue) Status(id uuid.UUID) (*task.Task, error) {
	e, err := q.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Clone(), nil
}

// Result blocks until the task reaches a terminal state or the wait
// budget elapses, whichever comes first. On timeout it returns
// ErrStillRunning and the task continues executing; the caller may
// poll again. This wait budget is independent of any downstream call
// timeout.
func (q *Queue) Result(ctx context.Context, id uuid.UUID, wait time.Duration) (any, error) {
	e, err := q.lookup(id)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
		return nil, ErrStillRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.t.Status {
	case task.StatusCompleted:
		return e.t.Result, nil
	case task.StatusCancelled:
		return nil, ErrTaskCancelled
	default:
		return nil, e.t.Err
	}
}

// Cancel requests cancellation. A task that has not started
// transitions directly to Cancelled; a running task has the signal
// propagated to its execution context but may still finish. Returns
// false when the task is unknown or already terminal.
func (q *Queue) Cancel(id uuid.UUID) bool {
	e, err := q.lookup(id)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.t.Status {
	case task.StatusPending:
		now := time.Now().UTC()
		e.t.Status = task.StatusCancelled
		e.t.FinishedAt = &now
		e.cancel()
		close(e.done)
		q.count("cancelled", e.t.Kind)
		q.emit(id, e.t.Kind, task.StatusCancelled)
		q.logger.Info("task cancelled before start", "task_id", id)
		return true
	case task.StatusRunning:
		e.cancel()
		q.logger.Info("cancellation signalled to running task", "task_id", id)
		return true
	default:
		return false
	}
}

// Close stops the janitor and refuses further Enqueues. In-flight
// tasks are unaffected; pool shutdown handles them.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.janitor()
	q.wg.Wait()
}

// Len reports how many tasks are currently tracked.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

func (q *Queue) lookup(id uuid.UUID) (*entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e, nil
}

// run executes one task on a pool worker, handling the lifecycle
// transitions around the executor.
func (q *Queue) run(ctx context.Context, e *entry) {
	e.mu.Lock()
	if e.t.Status != task.StatusPending {
		// Cancelled before a worker picked it up; e.done is already
		// closed by Cancel.
		e.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	e.t.Status = task.StatusRunning
	e.t.StartedAt = &now
	t := e.t
	e.mu.Unlock()

	q.emit(t.ID, t.Kind, task.StatusRunning)
	q.logger.Info("processing task", "task_id", t.ID, "task_kind", t.Kind)
	value, err := q.exec(ctx, t)

	e.mu.Lock()
	defer e.mu.Unlock()

	finished := time.Now().UTC()
	e.t.FinishedAt = &finished

	switch {
	case err == nil:
		e.t.Status = task.StatusCompleted
		e.t.Result = value
		q.count("completed", t.Kind)
		q.emit(t.ID, t.Kind, task.StatusCompleted)
		q.logger.Info("task completed", "task_id", t.ID)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		e.t.Status = task.StatusCancelled
		q.count("cancelled", t.Kind)
		q.emit(t.ID, t.Kind, task.StatusCancelled)
		q.logger.Info("task cancelled while running", "task_id", t.ID)
	default:
		e.t.Status = task.StatusFailed
		e.t.Err = err
		q.count("failed", t.Kind)
		q.emit(t.ID, t.Kind, task.StatusFailed)
		q.logger.Error("task failed", "task_id", t.ID, "error", err)
	}
	close(e.done)
}

// gcLoop evicts terminal tasks older than the retention window.
func (q *Queue) gcLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep(time.Now().UTC())
		}
	}
}

// sweep removes terminal tasks whose FinishedAt predates the
// retention window.
func (q *Queue) sweep(now time.Time) {
	cutoff := now.Add(-q.cfg.Retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted int
	for id, e := range q.tasks {
		e.mu.Lock()
		expired := e.t.Status.Terminal() && e.t.FinishedAt != nil && e.t.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(q.tasks, id)
			evicted++
		}
	}

	if evicted > 0 {
		if q.metrics != nil {
			q.metrics.IncCounter("dispatch_queue_evicted_total", nil, float64(evicted))
		}
		q.logger.Debug("evicted terminal tasks", "count", evicted)
	}
}

func (q *Queue) poolName(kind task.Kind) string {
	if name, ok := q.cfg.PoolFor[kind]; ok {
		return name
	}
	return q.cfg.DefaultPool
}

// emit publishes a lifecycle transition when an emitter is wired.
// Delivery failures are the handler's problem, not the task's.
func (q *Queue) emit(id uuid.UUID, kind task.Kind, status task.Status) {
	if q.cfg.Emitter == nil {
		return
	}
	_ = q.cfg.Emitter.EmitEvent(context.Background(), events.NewTaskEvent(id, kind, status))
}

func (q *Queue) count(event string, kind task.Kind) {
	if q.metrics != nil {
		q.metrics.IncCounter("dispatch_queue_"+event+"_total", map[string]string{"kind": string(kind)}, 1)
	}
}
