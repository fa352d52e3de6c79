package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // consecutive half-open successes that close it
	OpenInterval     time.Duration // time spent open before probing
	MaxProbes        int           // concurrent calls admitted while half-open
}

// CircuitBreaker stops calling a dependency after repeated failures and
// probes it again once OpenInterval has passed.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger *logging.Logger
	now    func() time.Time

	mu                 sync.Mutex
	state              BreakerState
	consecutiveFailure int
	consecutiveSuccess int
	halfOpenInFlight   int
	nextProbe          time.Time
}

func NewCircuitBreaker(name string, config BreakerConfig, logger *logging.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.OpenInterval <= 0 {
		config.OpenInterval = 10 * time.Second
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger.With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open. Validation errors and caller
// cancellation do not count as failures of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		cb.logger.Debug("request rejected", "state", cb.State().String())
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.onSuccess()
	case errors.Is(err, models.ErrValidation), ctx.Err() != nil:
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.now().Before(cb.nextProbe) {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.nextProbe) {
		cb.setState(StateHalfOpen)
	}
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.MaxProbes {
			cb.halfOpenInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailure = 0
	cb.consecutiveSuccess++
	if cb.state == StateHalfOpen {
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		if cb.consecutiveSuccess >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccess = 0
	cb.consecutiveFailure++
	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailure >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(next BreakerState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.logger.Info("circuit breaker state change",
		"from", prev.String(),
		"to", next.String(),
		"consecutive_failures", cb.consecutiveFailure,
		"consecutive_successes", cb.consecutiveSuccess)

	cb.state = next
	cb.halfOpenInFlight = 0
	switch next {
	case StateOpen:
		cb.nextProbe = cb.now().Add(cb.config.OpenInterval)
		cb.consecutiveSuccess = 0
	case StateHalfOpen:
		cb.consecutiveFailure = 0
		cb.consecutiveSuccess = 0
	case StateClosed:
		cb.nextProbe = time.Time{}
		cb.consecutiveFailure = 0
	}
}
