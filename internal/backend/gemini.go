package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/phrazzld/dispatch/internal/task"
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string

	// Model is the model name, e.g. "gemini-2.0-flash". Required.
	Model string

	// Kinds restricts which task kinds this backend serves. Empty
	// means text-oriented kinds (text, query, generic).
	Kinds []task.Kind
}

// Gemini calls Google's Gemini API for content processing. Each
// Invoke is a single API call; retry budgets live with the caller.
type Gemini struct {
	logger *slog.Logger
	client *genai.Client
	model  string
	kinds  []task.Kind
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, logger *slog.Logger, cfg GeminiConfig) (*Gemini, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrAuthFailed)
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model name cannot be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = []task.Kind{task.KindText, task.KindQuery, task.KindGeneric}
	}

	return &Gemini{
		logger: logger,
		client: client,
		model:  cfg.Model,
		kinds:  kinds,
	}, nil
}

// Name implements Backend.
func (g *Gemini) Name() string { return "gemini" }

// Kinds implements Backend.
func (g *Gemini) Kinds() []task.Kind { return g.kinds }

// Invoke sends one request to the Gemini API and maps the outcome
// onto the shared error taxonomy: safety blocks and empty inputs are
// non-retriable, everything else from the transport is treated as a
// transient upstream failure.
func (g *Gemini) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Payload.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(g.prompt(req)), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.ErrorContext(ctx, "Gemini API call error", "error", err, "model", g.model)
		return nil, fmt.Errorf("%w: gemini call failed: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: no content generated", ErrUnavailable)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", ErrInvalidInput)
	}

	text := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty response text", ErrUnavailable)
	}

	return &Result{
		Value:    text,
		Metadata: map[string]string{"model": g.model},
	}, nil
}

// prompt builds the instruction for the request. The payload is
// treated as UTF-8 text; language and translation hints become part
// of the instruction.
func (g *Gemini) prompt(req *Request) string {
	instruction := "Process the following input and respond with the result only."
	switch req.Kind {
	case task.KindQuery:
		instruction = "Answer the following question concisely."
	case task.KindText:
		instruction = "Analyze the following text and summarize its key points."
	}
	if req.Payload.Translate && req.Payload.Language != "" {
		instruction += fmt.Sprintf(" Respond in %s.", req.Payload.Language)
	}
	return instruction + "\n\n" + string(req.Payload.Data)
}
