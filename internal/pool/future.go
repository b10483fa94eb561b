package pool

import (
	"context"
	"sync"
)

// Future is the handle returned by Submit. It resolves exactly once,
// when the submitted function finishes or the pool drops the
// submission during shutdown.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future. Later calls are no-ops, so a worker
// finishing a task and a shutdown dropping it cannot race into a
// double close.
func (f *Future) complete(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future resolves or ctx is done. On ctx
// expiry the submitted function keeps executing; only this caller
// stops waiting.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
