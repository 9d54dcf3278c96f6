package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"blog_writer_agent/critic"
	"blog_writer_agent/generator"
	"blog_writer_agent/logger"
)

// maxCritiqueBody caps POST /api/critique request bodies.
const maxCritiqueBody = 1 << 20

// Options 服务运行参数
type Options struct {
	// MaxConcurrentRuns bounds blog runs and critiques in flight.
	MaxConcurrentRuns int64
	// RunTimeout bounds one blog run; zero means no limit.
	RunTimeout time.Duration
}

type Server struct {
	loop       *generator.Loop
	editor     generator.Critic
	sem        *semaphore.Weighted
	runTimeout time.Duration
}

// New wires the HTTP surface. editor serves POST /api/critique and may be nil
// when this instance has no local editor model.
func New(loop *generator.Loop, editor generator.Critic, opts Options) (*Server, error) {
	if loop == nil {
		return nil, errors.New("generator loop required")
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}
	return &Server{
		loop:       loop,
		editor:     editor,
		sem:        semaphore.NewWeighted(opts.MaxConcurrentRuns),
		runTimeout: opts.RunTimeout,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/blog", s.handleBlog)
	mux.HandleFunc("POST /api/critique", s.handleCritique)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return requestIDMiddleware(logMiddleware(recoverMiddleware(mux)))
}

// --- Handlers ---

type blogResp struct {
	Topic    string       `json:"topic"`
	Content  string       `json:"content"`
	Metadata blogMetadata `json:"metadata"`
}

type blogMetadata struct {
	Iterations      int             `json:"iterations"`
	Approved        bool            `json:"approved"`
	TotalTokensUsed int64           `json:"totalTokensUsed"`
	Drafts          int             `json:"drafts"`
	EditorFeedback  []feedbackEntry `json:"editorFeedback,omitempty"`
	TokenUsage      *tokenUsage     `json:"tokenUsage,omitempty"`
	UsageMode       string          `json:"usageMode"`
	Model           string          `json:"model"`
}

type feedbackEntry struct {
	Iteration int    `json:"iteration"`
	Feedback  string `json:"feedback"`
}

type tokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

func (s *Server) handleBlog(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeError(w, r, http.StatusBadRequest, "query parameter topic is required")
		return
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "too many blog runs in progress")
		return
	}
	defer s.sem.Release(1)

	ctx := r.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	res, err := s.loop.Run(ctx, topic)
	if err != nil {
		status := statusFor(err)
		logger.Error(r.Context(), "blog run failed", err, "status", status)
		writeError(w, r, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newBlogResp(topic, res))
}

func newBlogResp(topic string, res *generator.Result) blogResp {
	meta := blogMetadata{
		Iterations:      res.Iterations,
		Approved:        res.Approved,
		TotalTokensUsed: res.Metrics.Total(),
		Drafts:          res.Drafts,
		UsageMode:       string(res.UsageMode),
		Model:           res.ModelName,
	}
	for i, fb := range res.Feedback {
		meta.EditorFeedback = append(meta.EditorFeedback, feedbackEntry{Iteration: i + 1, Feedback: fb})
	}
	if res.Metrics.PromptUnits > 0 {
		meta.TokenUsage = &tokenUsage{
			PromptTokens:     res.Metrics.PromptUnits,
			CompletionTokens: res.Metrics.CompletionUnits,
			TotalTokens:      res.Metrics.Total(),
		}
	}
	return blogResp{Topic: topic, Content: res.Content, Metadata: meta}
}

// handleCritique exposes the local editor in the wire format critic.Client speaks.
func (s *Server) handleCritique(w http.ResponseWriter, r *http.Request) {
	if s.editor == nil {
		writeError(w, r, http.StatusNotImplemented, "no local editor configured")
		return
	}
	var req critic.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCritiqueBody)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Draft) == "" {
		writeError(w, r, http.StatusBadRequest, "draft is required")
		return
	}
	if req.SentenceCeiling <= 0 {
		req.SentenceCeiling = s.loop.Options().SentenceCeiling
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "too many requests in progress")
		return
	}
	defer s.sem.Release(1)

	c, err := s.editor.Critique(r.Context(), req.Draft, req.SentenceCeiling)
	if err != nil {
		err = &generator.CallError{Role: generator.RoleEditor, Round: 1, Err: err}
		status := statusFor(err)
		logger.Error(r.Context(), "critique failed", err, "status", status)
		writeError(w, r, status, err.Error())
		return
	}

	resp := critic.Response{Approved: c.Verdict.Approved, Feedback: c.Verdict.Feedback}
	if c.Verdict.Approved {
		resp.Feedback = c.Verdict.Comment
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a run error onto an HTTP status.
func statusFor(err error) int {
	var ce *generator.CallError
	switch {
	case errors.Is(err, generator.ErrEmptyTopic):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ce):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// --- Helpers ---

type errorResp struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	id, _ := r.Context().Value(logger.RequestIDKey).(string)
	writeJSON(w, status, errorResp{Code: status, Message: msg, RequestID: id})
}
