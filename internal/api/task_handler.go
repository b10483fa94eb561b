package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/dispatch/internal/api/shared"
	"github.com/phrazzld/dispatch/internal/orchestrator"
	"github.com/phrazzld/dispatch/internal/queue"
	"github.com/phrazzld/dispatch/internal/redact"
	"github.com/phrazzld/dispatch/internal/task"
)

// maxResultWait caps how long GET result may block on a running task.
const maxResultWait = 30 * time.Second

// TaskHandler serves the async task lifecycle endpoints.
type TaskHandler struct {
	queue    *queue.Queue
	validate *validator.Validate
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(q *queue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:    q,
		validate: validator.New(),
	}
}

// Submit handles POST /api/tasks: it enqueues the work and returns
// 202 with the task ID immediately.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProcessRequest(w, r, h.validate)
	if !ok {
		return
	}

	id, err := h.queue.Enqueue(r.Context(), task.Kind(req.Kind), task.Payload{
		Data:      req.Data,
		Language:  req.Language,
		Translate: req.Translate,
		Metadata:  req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrInvalidKind):
			shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrQueueClosed):
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "service shutting down", err)
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "task submission failed, retry later", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskResponse{
		ID:     id.String(),
		Kind:   req.Kind,
		Status: string(task.StatusPending),
	})
}

// Status handles GET /api/tasks/{id}.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	t, err := h.queue.Status(id)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "task not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(t))
}

// Result handles GET /api/tasks/{id}/result. An optional "wait" query
// parameter (a duration, capped at 30s) blocks until the task settles
// or the budget elapses; a still-running task answers 202.
func (h *TaskHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	wait := time.Duration(0)
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "invalid wait duration")
			return
		}
		if d > maxResultWait {
			d = maxResultWait
		}
		wait = d
	}

	val, err := h.queue.Result(r.Context(), id, wait)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrTaskNotFound):
		shared.RespondWithError(w, r, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, queue.ErrStillRunning):
		shared.RespondWithJSON(w, r, http.StatusAccepted, TaskResultResponse{
			ID:     id.String(),
			Status: string(task.StatusRunning),
		})
		return
	case errors.Is(err, queue.ErrTaskCancelled):
		shared.RespondWithJSON(w, r, http.StatusOK, TaskResultResponse{
			ID:     id.String(),
			Status: string(task.StatusCancelled),
		})
		return
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway, "task failed", err)
		return
	}

	resp := TaskResultResponse{
		ID:     id.String(),
		Status: string(task.StatusCompleted),
	}
	if res, ok := val.(*orchestrator.Result); ok {
		resp.Result = toProcessResponse(res)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Cancel handles DELETE /api/tasks/{id}. Cancelling a task already in
// a terminal state is reported as a conflict.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if _, err := h.queue.Status(id); err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "task not found")
		return
	}

	if !h.queue.Cancel(id) {
		shared.RespondWithError(w, r, http.StatusConflict, "task already finished")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "cancelling"})
}

// pathID extracts and parses the {id} path parameter.
func (h *TaskHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

func toTaskResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
	}
	if t.Err != nil {
		resp.Error = redact.Error(t.Err)
	}
	return resp
}
