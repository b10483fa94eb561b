package api

import "time"

// ProcessRequest is the request body for synchronous processing and
// for task submission.
type ProcessRequest struct {
	Kind      string            `json:"kind"      validate:"required"`
	Data      []byte            `json:"data"      validate:"required"`
	Language  string            `json:"language,omitempty"`
	Translate bool              `json:"translate,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse is the response body for synchronous processing.
type ProcessResponse struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty"`
	ServedFrom string  `json:"served_from"`
	CacheHit   bool    `json:"cache_hit"`
	Degraded   bool    `json:"degraded"`
	LatencyMs  int64   `json:"latency_ms"`
}

// TaskResponse describes an async task's current state.
type TaskResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// TaskResultResponse wraps a finished task's result.
type TaskResultResponse struct {
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Result *ProcessResponse `json:"result,omitempty"`
}
