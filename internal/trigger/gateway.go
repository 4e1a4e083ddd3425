// Package trigger delivers step-execution requests to the generation
// engine. Each pipeline step maps to a webhook on the engine side; the
// gateway POSTs the composed context and reports the parsed response so
// the orchestrator can pick up synchronous artifacts.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forja-io/forja/pkg/schema"
)

const (
	defaultTimeout         = 90 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// Request is the body delivered to a step webhook.
type Request struct {
	RunID       string         `json:"run_id"`
	Context     map[string]any `json:"context"`
	IsFeedback  bool           `json:"is_feedback"`
	Feedback    string         `json:"feedback,omitempty"`
	CallbackURL string         `json:"callback_url"`
}

// Response carries what the engine answered synchronously. Body is nil
// when the engine returned something other than a JSON object.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Gateway sends trigger requests to the engine.
type Gateway interface {
	Trigger(ctx context.Context, webhookURL string, req Request) (*Response, error)
}

// Config tunes the HTTP gateway.
type Config struct {
	APIKey          string
	Timeout         time.Duration
	MaxResponseBody int64
}

// HTTPGateway is the production Gateway backed by net/http.
type HTTPGateway struct {
	client *http.Client
	config Config
}

// NewHTTPGateway creates a gateway with the given configuration.
func NewHTTPGateway(cfg Config) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	return &HTTPGateway{
		client: &http.Client{},
		config: cfg,
	}
}

// Trigger POSTs the request to the webhook and parses the response body.
// A non-2xx status is an upstream error; an unreachable engine or a
// deadline hit maps to the corresponding error code so callers can tell
// retryable failures apart.
func (g *HTTPGateway) Trigger(ctx context.Context, webhookURL string, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to encode trigger request").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhookURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid webhook url %q", webhookURL).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		httpReq.Header.Set("X-API-Key", g.config.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrCodeUpstreamTimeout,
				"engine did not answer within %s", g.config.Timeout).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeUpstreamUnreachable,
			"engine unreachable at %s", webhookURL).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeUpstreamUnreachable, "failed to read engine response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeUpstreamUnreachable,
			"engine returned status %d", resp.StatusCode).
			WithDetails(map[string]any{
				"status": resp.StatusCode,
				"body":   truncate(string(raw), 500),
			})
	}

	out := &Response{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err == nil {
			out.Body = body
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes total)", s[:n], len(s))
}

var _ Gateway = (*HTTPGateway)(nil)
