package backend

import (
	"context"

	"github.com/phrazzld/dispatch/internal/task"
)

// Request is the typed payload handed to an inference backend:
// audio bytes plus a language hint, text plus a target language,
// or image bytes, depending on the kind.
type Request struct {
	Kind    task.Kind
	Payload task.Payload
}

// Result is the typed outcome of a successful backend call.
type Result struct {
	// Value is the produced content: a transcription, a translation,
	// an analysis, or a caption.
	Value string `json:"value"`

	// Confidence is the backend-reported confidence score in [0, 1].
	// Zero means the backend did not report one.
	Confidence float64 `json:"confidence,omitempty"`

	// Endpoint names the backend that ultimately served the request.
	// It is filled in by the fallback controller, not the backend.
	Endpoint string `json:"endpoint,omitempty"`

	// Metadata carries backend-specific extras (model name, detected
	// language, token counts).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Backend is a single downstream inference service. Implementations
// must return the sentinel errors from this package (wrapped is fine)
// so the fallback controller can classify failures correctly.
type Backend interface {
	// Name returns the backend's unique identifier, used for rate
	// limiting, circuit breaking, and observability.
	Name() string

	// Kinds returns the task kinds this backend can serve.
	Kinds() []task.Kind

	// Invoke performs one downstream call. It must honor ctx
	// cancellation and deadlines.
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// Serves reports whether b accepts tasks of the given kind.
func Serves(b Backend, kind task.Kind) bool {
	for _, k := range b.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
