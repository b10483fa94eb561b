package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKind is returned when a request names an unsupported kind.
var ErrInvalidKind = errors.New("invalid task kind")

// Kind categorizes a unit of work by the type of processing it needs.
// The kind determines which worker pool executes the task and which
// backend chain serves it.
type Kind string

// Supported task kinds.
const (
	KindAudio   Kind = "audio"
	KindImage   Kind = "image"
	KindText    Kind = "text"
	KindUpload  Kind = "upload"
	KindQuery   Kind = "query"
	KindGeneric Kind = "generic"
)

// Valid reports whether k is one of the supported task kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAudio, KindImage, KindText, KindUpload, KindQuery, KindGeneric:
		return true
	}
	return false
}

// Status represents the current lifecycle state of a task.
type Status string

// Possible task status values. Transitions are monotonic:
// Pending -> Running -> {Completed, Failed, Cancelled}, with the
// additional direct edge Pending -> Cancelled for tasks cancelled
// before a worker picks them up. No task re-enters Pending.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a transition from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// Payload carries the opaque input for a task plus the parameters
// that influence how it is processed.
type Payload struct {
	// Data is the raw input: audio bytes, image bytes, or UTF-8 text.
	Data []byte `json:"data,omitempty"`

	// Language is an optional language hint for transcription or
	// translation backends.
	Language string `json:"language,omitempty"`

	// Translate requests translation of the result into Language.
	Translate bool `json:"translate,omitempty"`

	// Metadata holds additional backend-specific parameters.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Task represents a unit of background work tracked by the async queue.
// A Task is created in Pending state at submission and is mutated only
// by the worker executing it and by cancellation requests.
type Task struct {
	ID      uuid.UUID
	Kind    Kind
	Payload Payload
	Status  Status

	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time

	// Result is populated only when Status == StatusCompleted.
	Result any

	// Err is populated only when Status == StatusFailed, carrying
	// the error kind so callers can classify the failure.
	Err error
}

// New creates a Task in Pending state with a fresh ID.
func New(kind Kind, payload Payload) *Task {
	return &Task{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     payload,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
}

// Clone returns a shallow copy of the task safe to hand to callers
// polling for status while a worker may still mutate the original.
func (t *Task) Clone() *Task {
	cp := *t
	return &cp
}
