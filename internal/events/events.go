// Package events provides an in-process publish/subscribe channel for
// task lifecycle transitions, decoupling the queue from components
// that react to them (audit logging, future webhooks).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch/internal/task"
)

// TaskEvent records one lifecycle transition of a task.
type TaskEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// TaskID identifies the task that transitioned.
	TaskID uuid.UUID `json:"task_id"`

	// Kind is the task's kind.
	Kind task.Kind `json:"kind"`

	// Status is the state the task transitioned into.
	Status task.Status `json:"status"`

	// At is when the transition happened.
	At time.Time `json:"at"`
}

// NewTaskEvent creates a TaskEvent for the given transition.
func NewTaskEvent(taskID uuid.UUID, kind task.Kind, status task.Status) *TaskEvent {
	return &TaskEvent{
		ID:     uuid.New(),
		TaskID: taskID,
		Kind:   kind,
		Status: status,
		At:     time.Now().UTC(),
	}
}

// Handler processes lifecycle events. Handlers must be fast; slow
// consumers should hand off to their own goroutine.
type Handler interface {
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// Emitter publishes events to all registered handlers.
type Emitter interface {
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
