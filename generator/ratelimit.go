package generator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// errRunEnded marks a call abandoned before it started because its run was
// canceled.
var errRunEnded = errors.New("run ended while waiting for rate limit")

type throttled struct {
	TextGenerator
	limiter *rate.Limiter
}

// Throttle makes every Generate wait for a limiter token first. A nil limiter
// returns gen unchanged.
func Throttle(gen TextGenerator, limiter *rate.Limiter) TextGenerator {
	if limiter == nil {
		return gen
	}
	return &throttled{TextGenerator: gen, limiter: limiter}
}

func (t *throttled) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	if err := t.wait(ctx); err != nil {
		return Completion{}, err
	}
	return t.TextGenerator.Generate(ctx, prompt)
}

// wait blocks for a token. Inside a loop call ctx is detached from the run,
// so the wait also ends when the run itself is canceled.
func (t *throttled) wait(ctx context.Context) error {
	runCtx, ok := ctx.Value(runContextKey{}).(context.Context)
	if !ok {
		return t.limiter.Wait(ctx)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	err := t.limiter.Wait(waitCtx)
	if err != nil && runCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", errRunEnded, runCtx.Err())
	}
	return err
}
