package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/dispatch/internal/task"
)

// HTTPConfig configures a JSON-over-HTTP backend.
type HTTPConfig struct {
	// Name identifies the backend in the registry and in chains.
	Name string

	// URL is the endpoint requests are POSTed to.
	URL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Kinds restricts which task kinds this backend serves. Empty
	// means all kinds.
	Kinds []task.Kind

	// Timeout bounds each request when the caller's context has no
	// earlier deadline. Default 30s.
	Timeout time.Duration

	// Client overrides the HTTP client, used in tests.
	Client *http.Client
}

// HTTP is a backend that POSTs requests to a JSON HTTP endpoint and
// maps response status codes onto the shared error taxonomy.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP backend.
func NewHTTP(logger *slog.Logger, cfg HTTPConfig) (*HTTP, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("http backend name cannot be empty")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http backend %q: URL cannot be empty", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTP{cfg: cfg, client: client, logger: logger}, nil
}

// Name implements Backend.
func (h *HTTP) Name() string { return h.cfg.Name }

// Kinds implements Backend.
func (h *HTTP) Kinds() []task.Kind {
	if len(h.cfg.Kinds) > 0 {
		return h.cfg.Kinds
	}
	return []task.Kind{task.KindAudio, task.KindImage, task.KindText, task.KindUpload, task.KindQuery, task.KindGeneric}
}

// wire format for the remote endpoint.
type httpRequest struct {
	Kind      string            `json:"kind"`
	Data      []byte            `json:"data"`
	Language  string            `json:"language,omitempty"`
	Translate bool              `json:"translate,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type httpResponse struct {
	Value      string            `json:"value"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata"`
	Error      string            `json:"error"`
}

// Invoke POSTs the request and decodes the JSON response.
func (h *HTTP) Invoke(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(httpRequest{
		Kind:      string(req.Kind),
		Data:      req.Payload.Data,
		Language:  req.Payload.Language,
		Translate: req.Payload.Translate,
		Metadata:  req.Payload.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", ErrInvalidInput, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := h.checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrUnavailable, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	}

	return &Result{
		Value:      out.Value,
		Confidence: out.Confidence,
		Metadata:   out.Metadata,
	}, nil
}

// checkStatus maps HTTP status codes onto the error taxonomy so the
// fallback controller can tell transient failures from rejections.
func (h *HTTP) checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: backend %q returned 429", ErrRateLimited, h.cfg.Name)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: backend %q returned %d", ErrAuthFailed, h.cfg.Name, code)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: backend %q returned %d", ErrTimeout, h.cfg.Name, code)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: backend %q returned %d", ErrInvalidInput, h.cfg.Name, code)
	default:
		return fmt.Errorf("%w: backend %q returned %d", ErrUnavailable, h.cfg.Name, code)
	}
}
