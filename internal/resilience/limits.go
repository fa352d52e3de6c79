package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Timeout bounds each call with a deadline.
type Timeout struct {
	d time.Duration
}

func NewTimeout(d time.Duration) *Timeout {
	return &Timeout{d: d}
}

func (t *Timeout) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, t.d, err)
	}
	return err
}

// Bulkhead caps the number of concurrent calls. A caller waits at most
// maxWait for a slot.
type Bulkhead struct {
	sem     *semaphore.Weighted
	maxWait time.Duration
}

func NewBulkhead(maxConcurrent int64, maxWait time.Duration) *Bulkhead {
	return &Bulkhead{sem: semaphore.NewWeighted(maxConcurrent), maxWait: maxWait}
}

func (b *Bulkhead) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.maxWait <= 0 {
		if !b.sem.TryAcquire(1) {
			return ErrBulkheadFull
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
		err := b.sem.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrBulkheadFull
		}
	}
	defer b.sem.Release(1)
	return fn(ctx)
}

// RateLimit admits calls from a token bucket. A caller waits at most maxWait
// for a token.
type RateLimit struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

func NewRateLimit(perSecond float64, burst int, maxWait time.Duration) *RateLimit {
	if burst < 1 {
		burst = 1
	}
	return &RateLimit{limiter: rate.NewLimiter(rate.Limit(perSecond), burst), maxWait: maxWait}
}

func (r *RateLimit) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.maxWait <= 0 {
		if !r.limiter.Allow() {
			return ErrRateLimited
		}
		return fn(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.maxWait)
	err := r.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimited
	}
	return fn(ctx)
}
