package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/task"
)

type recordingHandler struct {
	events []*TaskEvent
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *TaskEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func testEmitter() *InMemoryEmitter {
	return NewInMemoryEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInMemoryEmitter_DeliversToAllHandlers(t *testing.T) {
	t.Parallel()

	e := testEmitter()
	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	e.RegisterHandler(h1)
	e.RegisterHandler(h2)

	ev := NewTaskEvent(uuid.New(), task.KindAudio, task.StatusRunning)
	require.NoError(t, e.EmitEvent(context.Background(), ev))

	require.Len(t, h1.events, 1)
	require.Len(t, h2.events, 1)
	assert.Equal(t, ev.ID, h1.events[0].ID)
}

func TestInMemoryEmitter_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	e := testEmitter()
	bad := &recordingHandler{err: errors.New("sink down")}
	good := &recordingHandler{}
	e.RegisterHandler(bad)
	e.RegisterHandler(good)

	err := e.EmitEvent(context.Background(), NewTaskEvent(uuid.New(), task.KindText, task.StatusCompleted))
	assert.Error(t, err)
	assert.Len(t, good.events, 1)
}

func TestInMemoryEmitter_NoHandlers(t *testing.T) {
	t.Parallel()

	e := testEmitter()
	assert.NoError(t, e.EmitEvent(context.Background(), NewTaskEvent(uuid.New(), task.KindText, task.StatusPending)))
}
