package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-orchestrator/backend/internal/config"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("agents", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenInterval:     time.Minute,
	}, logging.NewNop())
	now := time.Now()
	cb.now = func() time.Time { return now }

	assert.Equal(t, StateClosed, cb.State())
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("agents", BreakerConfig{FailureThreshold: 1, OpenInterval: time.Second}, nil)
	now := time.Now()
	cb.now = func() time.Time { return now }

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreakerIgnoresValidationErrors(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("conditions", BreakerConfig{FailureThreshold: 1}, nil)
	invalid := fmt.Errorf("%w: bad expression", models.ErrValidation)
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return invalid }), models.ErrValidation)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestTimeout(t *testing.T) {
	p := NewTimeout(10 * time.Millisecond)
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NoError(t, p.Execute(context.Background(), succeed))
}

func TestBulkheadLimitsConcurrency(t *testing.T) {
	b := NewBulkhead(1, 10*time.Millisecond)
	hold := make(chan struct{})
	entered := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	err := b.Execute(context.Background(), succeed)
	assert.ErrorIs(t, err, ErrBulkheadFull)
	assert.True(t, Rejected(err))

	close(hold)
	wg.Wait()
	assert.NoError(t, b.Execute(context.Background(), succeed))
}

func TestRateLimit(t *testing.T) {
	r := NewRateLimit(1, 1, 0)
	assert.NoError(t, r.Execute(context.Background(), succeed))
	assert.ErrorIs(t, r.Execute(context.Background(), succeed), ErrRateLimited)

	waiting := NewRateLimit(1000, 1, 100*time.Millisecond)
	assert.NoError(t, waiting.Execute(context.Background(), succeed))
	assert.NoError(t, waiting.Execute(context.Background(), succeed))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Policy {
		return PolicyFunc(func(ctx context.Context, fn func(context.Context) error) error {
			order = append(order, name)
			return fn(ctx)
		})
	}
	err := Chain(mark("outer"), mark("inner")).Execute(context.Background(), func(context.Context) error {
		order = append(order, "call")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "call"}, order)

	assert.NoError(t, Chain().Execute(context.Background(), succeed))
}

type stubInvoker struct {
	calls int
	err   error
}

func (s *stubInvoker) Invoke(_ context.Context, agentID string, _ models.AgentRequest) (*models.AgentResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.AgentResponse{AgentID: agentID, Success: true, Result: "ok"}, nil
}

func TestGuardedInvoker(t *testing.T) {
	ctx := context.Background()
	stub := &stubInvoker{err: errBoom}
	policy := FromConfig("agents", config.PolicyConfig{FailureThreshold: 2, OpenInterval: time.Minute}, logging.NewNop())
	inv := NewGuardedInvoker(stub, policy)

	for i := 0; i < 2; i++ {
		_, err := inv.Invoke(ctx, "writer", models.AgentRequest{})
		assert.ErrorIs(t, err, errBoom)
	}
	_, err := inv.Invoke(ctx, "writer", models.AgentRequest{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, models.ErrAgentInvocation)
	assert.Equal(t, 2, stub.calls)

	healthy := NewGuardedInvoker(&stubInvoker{}, FromConfig("agents", config.PolicyConfig{Timeout: time.Second}, nil))
	resp, err := healthy.Invoke(ctx, "writer", models.AgentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result)
}

type stubEvaluator struct{}

func (stubEvaluator) Evaluate(ctx context.Context, expression string, _ *models.WorkflowExecution) (bool, error) {
	if _, ok := ctx.Deadline(); !ok {
		return false, errors.New("expected a deadline")
	}
	return expression == "yes", nil
}

func TestGuardedEvaluator(t *testing.T) {
	ev := NewGuardedEvaluator(stubEvaluator{}, FromConfig("conditions", config.PolicyConfig{Timeout: time.Second}, nil))
	ok, err := ev.Evaluate(context.Background(), "yes", &models.WorkflowExecution{})
	require.NoError(t, err)
	assert.True(t, ok)
}
