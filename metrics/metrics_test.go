package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"blog_writer_agent/generator"
)

func TestRunOutcome(t *testing.T) {
	callErr := &generator.CallError{Role: generator.RoleWriter, Round: 1, Err: context.DeadlineExceeded}

	tests := []struct {
		name string
		res  *generator.Result
		err  error
		want string
	}{
		{"approved", &generator.Result{Approved: true}, nil, OutcomeApproved},
		{"exhausted", &generator.Result{}, nil, OutcomeExhausted},
		{"call failure", nil, callErr, OutcomeFailed},
		{"canceled", nil, fmt.Errorf("run canceled: %w", context.Canceled), OutcomeCanceled},
		{"run deadline", nil, fmt.Errorf("run canceled: %w", context.DeadlineExceeded), OutcomeCanceled},
		{"other", nil, errors.New("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RunOutcome(tt.res, tt.err))
		})
	}
}

func TestRecorder_ObserveCall(t *testing.T) {
	var r Recorder
	okBefore := testutil.ToFloat64(LLMCallsTotal.WithLabelValues("editor", "ok"))
	errBefore := testutil.ToFloat64(LLMCallsTotal.WithLabelValues("editor", "error"))
	promptBefore := testutil.ToFloat64(LLMUsageUnits.WithLabelValues("editor", "prompt"))

	r.ObserveCall(generator.RoleEditor, time.Second, generator.Usage{PromptUnits: 7, CompletionUnits: 2}, nil)
	r.ObserveCall(generator.RoleEditor, time.Second, generator.Usage{PromptUnits: 100}, errors.New("down"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(LLMCallsTotal.WithLabelValues("editor", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(LLMCallsTotal.WithLabelValues("editor", "error")))
	// failed calls contribute no usage
	assert.Equal(t, promptBefore+7, testutil.ToFloat64(LLMUsageUnits.WithLabelValues("editor", "prompt")))
}

func TestRecorder_ObserveRun(t *testing.T) {
	var r Recorder
	before := testutil.ToFloat64(RunsTotal.WithLabelValues(OutcomeApproved))

	r.ObserveRun(&generator.Result{Approved: true, Iterations: 2}, time.Second, nil)
	r.ObserveRun(nil, time.Second, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues(OutcomeApproved)))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/blog", "200"))
	RecordHTTPRequest("GET", "/api/blog", 200, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/blog", "200")))
}
