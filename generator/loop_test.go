package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcLLM adapts a function to TextGenerator.
type funcLLM func(ctx context.Context, p Prompt) (Completion, error)

func (f funcLLM) Generate(ctx context.Context, p Prompt) (Completion, error) { return f(ctx, p) }
func (f funcLLM) Model() string                                               { return "func-model" }

type recordingObserver struct {
	mu    sync.Mutex
	calls map[Role]int
	usage []Usage
	runs  int
	last  *Result
	err   error
}

func (o *recordingObserver) ObserveCall(role Role, _ time.Duration, usage Usage, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[Role]int)
	}
	o.calls[role]++
	o.usage = append(o.usage, usage)
}

func (o *recordingObserver) ObserveRun(res *Result, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	o.last = res
	o.err = err
}

func newTestLoop(t *testing.T, writer, editor TextGenerator, opts Options) *Loop {
	t.Helper()
	w, err := NewWriter(writer, false)
	require.NoError(t, err)
	c, err := NewEditorCritic(editor, nil)
	require.NoError(t, err)
	l, err := NewLoop(w, c, opts)
	require.NoError(t, err)
	return l
}

func threeDrafts() *MockLLM {
	return &MockLLM{Name: "writer-model", Responses: []string{
		"DRAFT ONE\n\nFirst body.",
		"DRAFT TWO\n\nSecond body.",
		"DRAFT THREE\n\nThird body.",
		"DRAFT FOUR\n\nFourth body.",
	}}
}

func TestLoop_ApprovedOnThirdRound(t *testing.T) {
	writer := threeDrafts()
	editor := &MockLLM{Responses: []string{
		"NEEDS_IMPROVEMENT: too short",
		"NEEDS_IMPROVEMENT: too short",
		"PASS",
	}}
	l := newTestLoop(t, writer, editor, Options{})

	res, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.True(t, res.Approved)
	assert.Equal(t, []string{"too short", "too short"}, res.Feedback)
	assert.Equal(t, 3, res.Drafts)
	assert.Equal(t, "DRAFT THREE\n\nThird body.", res.Content)
	assert.Equal(t, "DRAFT THREE", res.Title)
	assert.Equal(t, "writer-model", res.ModelName)
	assert.Len(t, writer.Calls(), 3)
	assert.Len(t, editor.Calls(), 3)

	first := writer.Calls()[0].User
	assert.Contains(t, first, `"gardening"`)
	revise := writer.Calls()[1].User
	assert.Contains(t, revise, "Feedback: too short")
	assert.Contains(t, revise, "DRAFT ONE\n\nFirst body.")
	assert.Contains(t, editor.Calls()[2].User, "DRAFT THREE\n\nThird body.")
}

func TestLoop_BudgetExhausted(t *testing.T) {
	writer := threeDrafts()
	editor := &MockLLM{Responses: []string{"NEEDS_IMPROVEMENT: add a concrete example"}}
	l := newTestLoop(t, writer, editor, Options{})

	res, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.False(t, res.Approved)
	assert.Len(t, res.Feedback, 3)
	// the last feedback is still applied by a final revision
	assert.Equal(t, 4, res.Drafts)
	assert.Equal(t, "DRAFT FOUR\n\nFourth body.", res.Content)
	assert.Len(t, editor.Calls(), 3)
}

func TestLoop_FirstRoundApprovalIsDowngraded(t *testing.T) {
	tests := []struct {
		name     string
		first    string
		feedback string
	}{
		{name: "bare sentinel", first: "PASS", feedback: DefaultFeedback},
		{name: "with comment", first: "PASS - but tighten the intro", feedback: "but tighten the intro"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := threeDrafts()
			editor := &MockLLM{Responses: []string{tt.first, "PASS"}}
			l := newTestLoop(t, writer, editor, Options{})

			res, err := l.Run(context.Background(), "gardening")
			require.NoError(t, err)

			assert.Equal(t, 2, res.Iterations)
			assert.True(t, res.Approved)
			assert.Equal(t, []string{tt.feedback}, res.Feedback)
			assert.Len(t, writer.Calls(), 2)
			assert.Contains(t, writer.Calls()[1].User, tt.feedback)
		})
	}
}

func TestLoop_UnparseableCritiqueIsFeedback(t *testing.T) {
	raw := "The intro drags and the ending is abrupt."
	writer := threeDrafts()
	editor := &MockLLM{Responses: []string{raw, "PASS"}}
	l := newTestLoop(t, writer, editor, Options{})

	res, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)
	assert.Equal(t, []string{raw}, res.Feedback)
	assert.True(t, res.Approved)
	assert.Equal(t, 2, res.Iterations)
}

func TestLoop_WriterFailureAborts(t *testing.T) {
	writer := &MockLLM{Errs: map[int]error{0: errors.New("connection refused")}}
	editor := &MockLLM{Responses: []string{"PASS"}}
	l := newTestLoop(t, writer, editor, Options{})

	res, err := l.Run(context.Background(), "gardening")
	require.Error(t, err)
	assert.Nil(t, res)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, RoleWriter, callErr.Role)
	assert.Equal(t, 1, callErr.Round)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, editor.Calls())
}

func TestLoop_EditorFailureAborts(t *testing.T) {
	writer := threeDrafts()
	editor := &MockLLM{
		Responses: []string{"NEEDS_IMPROVEMENT: more"},
		Errs:      map[int]error{1: errors.New("read timeout")},
	}
	l := newTestLoop(t, writer, editor, Options{})

	res, err := l.Run(context.Background(), "gardening")
	assert.Nil(t, res)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, RoleEditor, callErr.Role)
	assert.Equal(t, 2, callErr.Round)
}

func TestLoop_EmptyDraftAborts(t *testing.T) {
	writer := &MockLLM{Responses: []string{"  \n "}}
	editor := &MockLLM{Responses: []string{"PASS"}}
	l := newTestLoop(t, writer, editor, Options{})

	_, err := l.Run(context.Background(), "gardening")
	assert.ErrorIs(t, err, ErrEmptyDraft)
}

func TestLoop_EmptyTopic(t *testing.T) {
	l := newTestLoop(t, threeDrafts(), &MockLLM{}, Options{})
	_, err := l.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestLoop_SingleIteration(t *testing.T) {
	writer := threeDrafts()
	editor := &MockLLM{Responses: []string{"PASS"}}
	l := newTestLoop(t, writer, editor, Options{MaxIterations: 1})

	res, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Approved)
	assert.Len(t, res.Feedback, 1)
	assert.Equal(t, 2, res.Drafts)
}

func TestNewLoop_Validation(t *testing.T) {
	w, err := NewWriter(&MockLLM{}, false)
	require.NoError(t, err)
	c, err := NewEditorCritic(&MockLLM{}, nil)
	require.NoError(t, err)

	_, err = NewLoop(w, c, Options{MaxIterations: -1})
	assert.Error(t, err)
	_, err = NewLoop(w, c, Options{SentenceCeiling: -5})
	assert.Error(t, err)
	_, err = NewLoop(w, c, Options{UsageMode: "tokens"})
	assert.Error(t, err)
	_, err = NewLoop(nil, c, Options{})
	assert.Error(t, err)
	_, err = NewLoop(w, nil, Options{})
	assert.Error(t, err)

	l, err := NewLoop(w, c, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, l.Options().MaxIterations)
	assert.Equal(t, DefaultSentenceCeiling, l.Options().SentenceCeiling)
	assert.Equal(t, UsageEstimate, l.Options().UsageMode)
}

// Every combination of short editor scripts must respect the round bounds and
// the feedback-length invariant.
func TestLoop_Invariants(t *testing.T) {
	replies := []string{"PASS", "NEEDS_IMPROVEMENT: more detail", "meh", ""}
	var scripts [][]string
	for _, a := range replies {
		for _, b := range replies {
			for _, c := range replies {
				scripts = append(scripts, []string{a, b, c})
			}
		}
	}

	for max := 1; max <= 4; max++ {
		for _, script := range scripts {
			name := fmt.Sprintf("max=%d/%q", max, script)
			t.Run(name, func(t *testing.T) {
				writer := threeDrafts()
				editor := &MockLLM{Responses: script}
				obs := &recordingObserver{}
				l := newTestLoop(t, writer, editor, Options{MaxIterations: max, Observer: obs})

				res, err := l.Run(context.Background(), "gardening")
				require.NoError(t, err)

				assert.GreaterOrEqual(t, res.Iterations, 1)
				assert.LessOrEqual(t, res.Iterations, max)
				if res.Approved {
					assert.Len(t, res.Feedback, res.Iterations-1)
					assert.Greater(t, res.Iterations, 1)
					assert.Equal(t, res.Iterations, res.Drafts)
				} else {
					assert.Len(t, res.Feedback, res.Iterations)
					assert.Equal(t, res.Iterations+1, res.Drafts)
				}
				for _, fb := range res.Feedback {
					assert.NotEmpty(t, strings.TrimSpace(fb))
				}
				assert.Equal(t, res.Drafts, len(writer.Calls()))
				assert.Equal(t, res.Iterations, len(editor.Calls()))
			})
		}
	}
}

func TestLoop_EstimatedMetricsEqualPerCallSum(t *testing.T) {
	writer := threeDrafts()
	editor := &MockLLM{Responses: []string{"NEEDS_IMPROVEMENT: too short", "PASS"}}
	obs := &recordingObserver{}
	l := newTestLoop(t, writer, editor, Options{Observer: obs})

	res, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)

	var want Metrics
	for i, p := range writer.Calls() {
		want.Add(Usage{
			PromptUnits:     EstimateUnits(p.System) + EstimateUnits(p.User),
			CompletionUnits: EstimateUnits(writer.Responses[i]),
		})
	}
	for i, p := range editor.Calls() {
		want.Add(Usage{
			PromptUnits:     EstimateUnits(p.System) + EstimateUnits(p.User),
			CompletionUnits: EstimateUnits(editor.Responses[i]),
		})
	}
	assert.Equal(t, want, res.Metrics)
	assert.Equal(t, want.PromptUnits+want.CompletionUnits, res.Metrics.Total())
	assert.Equal(t, UsageEstimate, res.UsageMode)

	// running totals never decrease and add up to the result
	var running Metrics
	for _, u := range obs.usage {
		before := running.Total()
		running.Add(u)
		assert.GreaterOrEqual(t, running.Total(), before)
	}
	assert.Equal(t, res.Metrics, running)
	assert.Equal(t, 2, obs.calls[RoleWriter])
	assert.Equal(t, 2, obs.calls[RoleEditor])
	assert.Equal(t, 1, obs.runs)
	assert.Same(t, res, obs.last)
}

func TestLoop_ProviderUsageIsNotMixedWithEstimates(t *testing.T) {
	writer := funcLLM(func(_ context.Context, p Prompt) (Completion, error) {
		return Completion{Text: "TITLE\n\nBody.", Usage: Usage{PromptUnits: 10, CompletionUnits: 20}, Reported: true}, nil
	})
	// the mock editor reports nothing and so contributes zero
	editor := &MockLLM{Responses: []string{"NEEDS_IMPROVEMENT: shorter", "PASS"}}
	l := newTestLoop(t, writer, editor, Options{UsageMode: UsageProvider})

	res, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)
	assert.Equal(t, Metrics{PromptUnits: 20, CompletionUnits: 40}, res.Metrics)
	assert.Equal(t, int64(60), res.Metrics.Total())
	assert.Equal(t, "func-model", res.ModelName)
}

func TestLoop_CancellationHonoredBetweenCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlightErr error
	writer := funcLLM(func(callCtx context.Context, _ Prompt) (Completion, error) {
		cancel()
		inFlightErr = callCtx.Err()
		return Completion{Text: "TITLE\n\nBody."}, nil
	})
	editor := &MockLLM{Responses: []string{"PASS"}}
	l := newTestLoop(t, writer, editor, Options{})

	res, err := l.Run(ctx, "gardening")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, inFlightErr, "in-flight call must not see the cancellation")
	assert.Empty(t, editor.Calls())
}

func TestLoop_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer := threeDrafts()
	l := newTestLoop(t, writer, &MockLLM{}, Options{})

	_, err := l.Run(ctx, "gardening")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, writer.Calls())
}

func TestLoop_CallTimeoutApplied(t *testing.T) {
	var sawDeadline bool
	writer := funcLLM(func(callCtx context.Context, _ Prompt) (Completion, error) {
		_, sawDeadline = callCtx.Deadline()
		return Completion{Text: "TITLE\n\nBody."}, nil
	})
	editor := &MockLLM{Responses: []string{"NEEDS_IMPROVEMENT: x", "PASS"}}
	l := newTestLoop(t, writer, editor, Options{CallTimeout: time.Minute})

	_, err := l.Run(context.Background(), "gardening")
	require.NoError(t, err)
	assert.True(t, sawDeadline)
}

func TestLoop_ConcurrentRunsAreIndependent(t *testing.T) {
	topicRe := regexp.MustCompile(`about "([^"]+)"`)
	writer := funcLLM(func(_ context.Context, p Prompt) (Completion, error) {
		if _, draft, ok := strings.Cut(p.User, "Current Draft:\n"); ok {
			draft, _, _ = strings.Cut(draft, "\n\nIMPORTANT REQUIREMENTS")
			return Completion{Text: draft + " REVISED"}, nil
		}
		m := topicRe.FindStringSubmatch(p.User)
		if m == nil {
			return Completion{}, errors.New("no topic in prompt")
		}
		return Completion{Text: strings.ToUpper(m[1]) + "\n\nA post about " + m[1] + "."}, nil
	})
	editor := funcLLM(func(_ context.Context, p Prompt) (Completion, error) {
		if strings.Contains(p.User, "REVISED") {
			return Completion{Text: "PASS"}, nil
		}
		return Completion{Text: "NEEDS_IMPROVEMENT: revise it"}, nil
	})
	l := newTestLoop(t, writer, editor, Options{})

	const runs = 16
	results := make([]*Result, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Run(context.Background(), fmt.Sprintf("topic-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		res := results[i]
		assert.True(t, res.Approved)
		assert.Equal(t, 2, res.Iterations)
		assert.Equal(t, []string{"revise it"}, res.Feedback)
		assert.Equal(t, fmt.Sprintf("TOPIC-%d\n\nA post about topic-%d. REVISED", i, i), res.Content)
	}
}
