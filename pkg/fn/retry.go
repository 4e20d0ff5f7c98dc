package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts bounds the retry loop. Waits double per attempt with jitter and
// are capped at MaxWait.
type RetryOpts struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// Retry runs f until it succeeds or Attempts is exhausted. A cancelled
// context cuts the loop short with ctx.Err.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	wait := opts.BaseWait
	var r Result[T]
	for attempt := 1; ; attempt++ {
		r = f(ctx)
		if r.IsOk() || attempt == opts.Attempts {
			return r
		}

		d := wait
		if d > 0 {
			d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && d > opts.MaxWait {
			d = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(d):
		}
		wait *= 2
	}
}

// RetryStage wraps a stage so every invocation retries per opts.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
