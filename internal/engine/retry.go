package engine

import (
	"errors"
	"fmt"
	"time"

	"agent-orchestrator/backend/pkg/models"
)

// RetryPolicy decides whether a failed step runs again and after how long.
// The base delay is the step's own retry delay; Multiplier grows it for each
// retry already used and MaxDelay caps it.
type RetryPolicy struct {
	Multiplier float64
	MaxDelay   time.Duration
}

// Validate checks the policy settings.
func (p RetryPolicy) Validate() error {
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("retry max delay must be >= 0, got %s", p.MaxDelay)
	}
	return nil
}

// Decide reports whether step should be retried after retriesUsed retries
// failed with err, and the delay before the next attempt.
func (p RetryPolicy) Decide(step *models.WorkflowStep, retriesUsed int, err error) (time.Duration, bool) {
	if errors.Is(err, models.ErrValidation) {
		return 0, false
	}
	if retriesUsed >= step.MaxRetries {
		return 0, false
	}
	return p.delay(step.RetryDelay(), retriesUsed), true
}

func (p RetryPolicy) delay(base time.Duration, retriesUsed int) time.Duration {
	d := float64(base)
	if p.Multiplier > 1 {
		for i := 0; i < retriesUsed; i++ {
			d *= p.Multiplier
			if p.MaxDelay > 0 && time.Duration(d) >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
