package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/dispatch/internal/api/shared"
	"github.com/phrazzld/dispatch/internal/orchestrator"
	"github.com/phrazzld/dispatch/internal/pool"
	"github.com/phrazzld/dispatch/internal/ratelimit"
	"github.com/phrazzld/dispatch/internal/task"
)

// statusClientClosedRequest is nginx's non-standard code for a request
// the client abandoned before a response was written.
const statusClientClosedRequest = 499

// ProcessHandler serves synchronous processing requests.
type ProcessHandler struct {
	orch     *orchestrator.Orchestrator
	validate *validator.Validate
}

// NewProcessHandler creates a ProcessHandler.
func NewProcessHandler(orch *orchestrator.Orchestrator) *ProcessHandler {
	return &ProcessHandler{
		orch:     orch,
		validate: validator.New(),
	}
}

// Process handles POST /api/process: it runs the request through the
// pipeline and returns the result, whether served live, from cache,
// or degraded.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProcessRequest(w, r, h.validate)
	if !ok {
		return
	}

	res, err := h.orch.Process(r.Context(), task.Kind(req.Kind), task.Payload{
		Data:      req.Data,
		Language:  req.Language,
		Translate: req.Translate,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondProcessError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toProcessResponse(res))
}

// decodeProcessRequest parses and validates the shared request body.
func decodeProcessRequest(w http.ResponseWriter, r *http.Request, v *validator.Validate) (*ProcessRequest, bool) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := v.Struct(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "kind and data are required")
		return nil, false
	}
	return &req, true
}

// respondProcessError maps pipeline errors onto HTTP status codes.
func respondProcessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, task.ErrInvalidKind), errors.Is(err, orchestrator.ErrUnknownKind):
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ratelimit.ErrRateLimited):
		shared.RespondWithErrorAndLog(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry later", err)
	case errors.Is(err, pool.ErrPoolSaturated):
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "service busy, retry later", err)
	case errors.Is(err, pool.ErrPoolClosed):
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "service shutting down", err)
	case errors.Is(err, context.DeadlineExceeded):
		shared.RespondWithErrorAndLog(w, r, http.StatusGatewayTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		// The client went away, but an explicit status keeps the
		// abandoned request from logging as an implicit 200.
		w.WriteHeader(statusClientClosedRequest)
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "internal processing error", err)
	}
}

func toProcessResponse(res *orchestrator.Result) *ProcessResponse {
	return &ProcessResponse{
		Value:      res.Value,
		Confidence: res.Confidence,
		Endpoint:   res.Endpoint,
		ServedFrom: res.ServedFrom,
		CacheHit:   res.CacheHit,
		Degraded:   res.Degraded,
		LatencyMs:  res.LatencyMs,
	}
}
