// Package resilience holds the policies wrapped around outbound calls made
// while executing steps: timeouts, a circuit breaker, a bulkhead and a rate
// limiter.
package resilience

import (
	"context"
	"errors"

	"agent-orchestrator/backend/internal/config"
	"agent-orchestrator/backend/internal/logging"
)

var (
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrBulkheadFull = errors.New("bulkhead is full")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrTimeout      = errors.New("call timed out")
)

// Policy guards a call.
type Policy interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f PolicyFunc) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Chain composes policies; the first one is the outermost.
func Chain(policies ...Policy) Policy {
	return PolicyFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
		call := fn
		for i := len(policies) - 1; i >= 0; i-- {
			p, next := policies[i], call
			call = func(ctx context.Context) error {
				return p.Execute(ctx, next)
			}
		}
		return call(ctx)
	})
}

// FromConfig builds the policy stack for one capability. Policies whose
// settings are zero are left out. The order is rate limit, bulkhead, circuit
// breaker and timeout, so rejected calls never count against the breaker.
func FromConfig(name string, cfg config.PolicyConfig, logger *logging.Logger) Policy {
	var policies []Policy
	if cfg.RatePerSecond > 0 {
		policies = append(policies, NewRateLimit(cfg.RatePerSecond, cfg.Burst, cfg.MaxWait))
	}
	if cfg.MaxConcurrent > 0 {
		policies = append(policies, NewBulkhead(cfg.MaxConcurrent, cfg.MaxWait))
	}
	if cfg.FailureThreshold > 0 {
		policies = append(policies, NewCircuitBreaker(name, BreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
			OpenInterval:     cfg.OpenInterval,
		}, logger))
	}
	if cfg.Timeout > 0 {
		policies = append(policies, NewTimeout(cfg.Timeout))
	}
	return Chain(policies...)
}

// Rejected reports whether err came from a policy refusing the call rather
// than from the call itself.
func Rejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBulkheadFull) || errors.Is(err, ErrRateLimited)
}
