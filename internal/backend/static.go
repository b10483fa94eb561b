package backend

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/phrazzld/dispatch/internal/task"
)

// Static is a canned backend used in tests and local development.
// It returns a fixed result after an optional delay, or a scripted
// sequence of errors, and counts its invocations.
type Static struct {
	// BackendName is the name reported by Name().
	BackendName string

	// ServedKinds restricts the kinds this backend accepts. Empty
	// means all kinds.
	ServedKinds []task.Kind

	// Value and Confidence form the canned result.
	Value      string
	Confidence float64

	// Delay is slept (honoring ctx) before returning.
	Delay time.Duration

	// Errs is consumed one entry per call before Value is served.
	// A nil entry means that call succeeds.
	Errs []error

	// Fn, when set, overrides all of the above.
	Fn func(ctx context.Context, req *Request) (*Result, error)

	calls atomic.Int64
}

// Name returns the configured backend name, defaulting to "static".
func (s *Static) Name() string {
	if s.BackendName == "" {
		return "static"
	}
	return s.BackendName
}

// Kinds returns the configured kinds, defaulting to every kind.
func (s *Static) Kinds() []task.Kind {
	if len(s.ServedKinds) > 0 {
		return s.ServedKinds
	}
	return []task.Kind{task.KindAudio, task.KindImage, task.KindText, task.KindUpload, task.KindQuery, task.KindGeneric}
}

// Invoke serves the canned response, consuming scripted errors first.
func (s *Static) Invoke(ctx context.Context, req *Request) (*Result, error) {
	n := s.calls.Add(1)

	if s.Fn != nil {
		return s.Fn(ctx, req)
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if idx := int(n) - 1; idx < len(s.Errs) {
		if err := s.Errs[idx]; err != nil {
			return nil, err
		}
	}

	return &Result{Value: s.Value, Confidence: s.Confidence}, nil
}

// Calls returns how many times Invoke has been called.
func (s *Static) Calls() int64 {
	return s.calls.Load()
}
