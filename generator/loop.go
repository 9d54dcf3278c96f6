package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"blog_writer_agent/logger"
)

// DefaultMaxIterations is the number of editor rounds before a run gives up.
const DefaultMaxIterations = 3

// Options controls a Loop. Zero values select the defaults.
type Options struct {
	MaxIterations   int
	SentenceCeiling int
	UsageMode       UsageMode
	// CallTimeout bounds each writer or editor call. Zero leaves timeouts to
	// the transport.
	CallTimeout time.Duration
	// Observer receives call and run events; nil disables it.
	Observer Observer
}

// Observer provides instrumentation for runs.
type Observer interface {
	ObserveCall(role Role, elapsed time.Duration, usage Usage, err error)
	ObserveRun(res *Result, elapsed time.Duration, err error)
}

// Loop drives the writer/editor refinement cycle. A Loop holds no per-run
// state and can serve concurrent runs.
type Loop struct {
	writer *Writer
	critic Critic
	opts   Options
	tracer trace.Tracer
}

func NewLoop(writer *Writer, critic Critic, opts Options) (*Loop, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if critic == nil {
		return nil, errors.New("critic is required")
	}
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations cannot be negative: %d", opts.MaxIterations)
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.SentenceCeiling < 0 {
		return nil, fmt.Errorf("sentence ceiling cannot be negative: %d", opts.SentenceCeiling)
	}
	if opts.SentenceCeiling == 0 {
		opts.SentenceCeiling = DefaultSentenceCeiling
	}
	mode, err := ParseUsageMode(string(opts.UsageMode))
	if err != nil {
		return nil, err
	}
	opts.UsageMode = mode

	return &Loop{
		writer: writer,
		critic: critic,
		opts:   opts,
		tracer: otel.Tracer("blog_writer_agent/generator"),
	}, nil
}

// Options returns the effective options after defaults were applied.
func (l *Loop) Options() Options {
	return l.opts
}

// Run produces a post for topic. It returns a Result whether or not the
// editor approved; the error is non-nil only when a call failed or ctx was
// canceled between calls.
func (l *Loop) Run(ctx context.Context, topic string) (*Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	start := time.Now()
	r := &run{id: uuid.NewString(), topic: topic}
	ctx = logger.WithContext(ctx, logger.RunIDKey, r.id)
	ctx = logger.WithContext(ctx, logger.TopicKey, topic)

	ctx, span := l.tracer.Start(ctx, "blog.run", trace.WithAttributes(
		attribute.String("blog.run_id", r.id),
		attribute.Int("blog.max_iterations", l.opts.MaxIterations),
	))
	res, err := l.run(ctx, r)
	if err == nil {
		span.SetAttributes(
			attribute.Int("blog.iterations", res.Iterations),
			attribute.Bool("blog.approved", res.Approved),
			attribute.Int64("blog.total_units", res.Metrics.Total()),
		)
	}
	endSpan(span, err)

	if l.opts.Observer != nil {
		l.opts.Observer.ObserveRun(res, time.Since(start), err)
	}
	return res, err
}

func (l *Loop) run(ctx context.Context, r *run) (*Result, error) {
	log := logger.FromContext(ctx)
	log.Info("starting blog generation", "max_iterations", l.opts.MaxIterations, "sentence_ceiling", l.opts.SentenceCeiling)

	r.round = 1
	if err := l.write(ctx, r, ""); err != nil {
		return nil, err
	}
	log.Info("initial draft generated", "title", r.draft.Title)

	for {
		c, err := l.critique(ctx, r)
		if err != nil {
			return nil, err
		}

		// Approval only counts after at least one refinement.
		if c.Verdict.Approved && r.round > 1 {
			log.Info("draft approved by editor", "round", r.round)
			return r.result(true, l.writer.Model(), l.opts.UsageMode), nil
		}

		feedback := c.Verdict.Feedback
		if c.Verdict.Approved {
			feedback = c.Verdict.Comment
			if feedback == "" {
				feedback = DefaultFeedback
			}
			log.Info("first-round approval downgraded to needs improvement", "round", r.round)
		}
		r.appendFeedback(feedback)
		log.Info("editor feedback received", "round", r.round, "feedback", feedback)

		if err := l.write(ctx, r, feedback); err != nil {
			return nil, err
		}
		if r.round >= l.opts.MaxIterations {
			log.Warn("maximum iterations reached without editor approval", "max_iterations", l.opts.MaxIterations)
			return r.result(false, l.writer.Model(), l.opts.UsageMode), nil
		}
		r.round++
	}
}

// write produces the first draft when none exists, otherwise a revision of
// the current draft that applies feedback.
func (l *Loop) write(ctx context.Context, r *run, feedback string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run canceled before writer call in round %d: %w", r.round, err)
	}
	callCtx, cancel := l.callContext(ctx)
	defer cancel()
	callCtx, span := l.tracer.Start(callCtx, "writer.generate", trace.WithAttributes(
		attribute.Int("blog.round", r.round),
		attribute.Int("blog.draft_version", r.drafts+1),
	))

	var prev *Draft
	if r.drafts > 0 {
		d := r.draft
		prev = &d
	}
	start := time.Now()
	draft, prompt, reply, err := l.writer.Generate(callCtx, r.topic, l.opts.SentenceCeiling, prev, feedback)
	var usage Usage
	if err == nil {
		usage = measure(l.opts.UsageMode, prompt, reply)
	}
	l.observeCall(RoleWriter, time.Since(start), usage, err)
	endSpan(span, err)
	if errors.Is(err, errRunEnded) {
		return fmt.Errorf("run canceled before writer call in round %d: %w", r.round, err)
	}
	if err != nil {
		return &CallError{Role: RoleWriter, Round: r.round, Err: err}
	}

	r.metrics.Add(usage)
	r.setDraft(draft)
	return nil
}

func (l *Loop) critique(ctx context.Context, r *run) (Critique, error) {
	if err := ctx.Err(); err != nil {
		return Critique{}, fmt.Errorf("run canceled before editor call in round %d: %w", r.round, err)
	}
	callCtx, cancel := l.callContext(ctx)
	defer cancel()
	callCtx, span := l.tracer.Start(callCtx, "editor.critique", trace.WithAttributes(
		attribute.Int("blog.round", r.round),
	))

	start := time.Now()
	c, err := l.critic.Critique(callCtx, r.draft.Content, l.opts.SentenceCeiling)
	var usage Usage
	if err == nil && c.Measured {
		usage = measure(l.opts.UsageMode, c.Prompt, c.Reply)
	}
	l.observeCall(RoleEditor, time.Since(start), usage, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("blog.approved", c.Verdict.Approved))
	}
	endSpan(span, err)
	if errors.Is(err, errRunEnded) {
		return Critique{}, fmt.Errorf("run canceled before editor call in round %d: %w", r.round, err)
	}
	if err != nil {
		return Critique{}, &CallError{Role: RoleEditor, Round: r.round, Err: err}
	}

	r.metrics.Add(usage)
	return c, nil
}

type runContextKey struct{}

// callContext detaches a call from the run's cancellation: cancellation is
// honored between calls, never in the middle of one. The run context stays
// reachable so work that precedes the request, such as waiting for a rate
// limit token, can still give up.
func (l *Loop) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithValue(context.WithoutCancel(ctx), runContextKey{}, ctx)
	if l.opts.CallTimeout > 0 {
		return context.WithTimeout(detached, l.opts.CallTimeout)
	}
	return detached, func() {}
}

func (l *Loop) observeCall(role Role, elapsed time.Duration, usage Usage, err error) {
	if l.opts.Observer != nil {
		l.opts.Observer.ObserveCall(role, elapsed, usage, err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
