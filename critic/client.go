// Package critic talks to a remote critique service that returns structured
// verdicts for a draft.
package critic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"blog_writer_agent/generator"
	"blog_writer_agent/logger"
)

const critiquePath = "/api/critique"

// maxBody caps how much of a response we read.
const maxBody = 1 << 20

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("critique service returned an error status")

// Request is the body posted to the critique service.
type Request struct {
	SentenceCeiling int    `json:"sentenceCeiling"`
	Draft           string `json:"draft"`
}

// Response is the structured verdict returned by the critique service.
type Response struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// DefaultTimeout bounds a whole critique exchange, body included.
const DefaultTimeout = 2 * time.Minute

// Client implements generator.Critic over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	interp  generator.Interpreter
	logger  *slog.Logger
	timeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout sets the total deadline of one critique request. Values <= 0
// keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Client for baseURL. A nil client falls back to http.DefaultClient;
// callers normally pass the shared client from generator.NewHTTPClient.
func New(baseURL string, client *http.Client, logger *slog.Logger, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("critique service url is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("critique service url must be http(s): %s", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		baseURL: baseURL,
		client:  client,
		interp:  generator.StructuredInterpreter{},
		logger:  logger,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Critique posts the draft and interprets the structured verdict. The call is
// not metered locally. The request, including reading the body, is bounded by
// the client's timeout.
func (c *Client) Critique(ctx context.Context, draft string, ceiling int) (generator.Critique, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(Request{SentenceCeiling: ceiling, Draft: draft})
	if err != nil {
		return generator.Critique{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+critiquePath, bytes.NewReader(body))
	if err != nil {
		return generator.Critique{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id, ok := ctx.Value(logger.RequestIDKey).(string); ok && id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return generator.Critique{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return generator.Critique{}, fmt.Errorf("read critique response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return generator.Critique{}, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	verdict := c.interp.Interpret(string(raw))
	c.log(ctx).Debug("remote critique received", "approved", verdict.Approved, "bytes", len(raw))
	return generator.Critique{
		Verdict: verdict,
		Reply:   generator.Completion{Text: string(raw)},
	}, nil
}

func (c *Client) log(ctx context.Context) *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logger.FromContext(ctx)
}
