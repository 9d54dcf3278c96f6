// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blog_writer_agent/generator"
)

const (
	namespace = "bloggen"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	// 业务指标 - 博客生成
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of blog runs by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Blog run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "iterations",
			Help:      "Editor rounds per completed run",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	// LLM 指标
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of writer and editor calls",
		},
		[]string{"role", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Writer and editor call duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	LLMUsageUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "usage_units_total",
			Help:      "Usage units consumed, estimated or provider-reported",
		},
		[]string{"role", "kind"},
	)
)

// Run outcomes.
const (
	OutcomeApproved  = "approved"
	OutcomeExhausted = "exhausted"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Recorder feeds loop events into the collectors above.
type Recorder struct{}

var _ generator.Observer = Recorder{}

func (Recorder) ObserveCall(role generator.Role, elapsed time.Duration, usage generator.Usage, err error) {
	r := string(role)
	LLMCallsTotal.WithLabelValues(r, callStatus(err)).Inc()
	LLMCallDuration.WithLabelValues(r).Observe(elapsed.Seconds())
	if err == nil {
		LLMUsageUnits.WithLabelValues(r, "prompt").Add(float64(usage.PromptUnits))
		LLMUsageUnits.WithLabelValues(r, "completion").Add(float64(usage.CompletionUnits))
	}
}

func (Recorder) ObserveRun(res *generator.Result, elapsed time.Duration, err error) {
	RunDuration.Observe(elapsed.Seconds())
	RunsTotal.WithLabelValues(RunOutcome(res, err)).Inc()
	if res != nil {
		RunIterations.Observe(float64(res.Iterations))
	}
}

// RunOutcome classifies a finished run.
func RunOutcome(res *generator.Result, err error) string {
	var ce *generator.CallError
	switch {
	case errors.As(err, &ce):
		return OutcomeFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case err != nil:
		return OutcomeFailed
	case res != nil && res.Approved:
		return OutcomeApproved
	default:
		return OutcomeExhausted
	}
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordHTTPRequest 记录一次 HTTP 请求
func RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
