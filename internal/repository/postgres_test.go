package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"agent-orchestrator/backend/pkg/models"
)

func TestPostgresStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool))
	// Migrate is idempotent.
	require.NoError(t, Migrate(ctx, pool))

	workflows := NewPostgresWorkflowStore(pool)
	executions := NewPostgresExecutionStore(pool)

	t.Run("Save and Get workflow versions", func(t *testing.T) {
		wf := &models.Workflow{
			ID:       uuid.New().String(),
			Name:     "pg-review",
			Type:     "review",
			Metadata: map[string]string{"team": "docs"},
			Steps: []models.WorkflowStep{
				{ID: "b", Name: "second", Sequence: 2, Type: models.StepTypeHumanReview, Required: true},
				{ID: "a", Name: "first", Sequence: 1, Type: models.StepTypeAgentExecution, AgentID: "writer", NextStepOnSuccess: "b"},
			},
		}
		require.NoError(t, workflows.Save(ctx, wf))
		assert.Equal(t, 1, wf.Version)

		got, err := workflows.Get(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, "pg-review", got.Name)
		assert.Equal(t, "docs", got.Metadata["team"])
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "a", got.Steps[0].ID)
		assert.Equal(t, "b", got.Steps[0].NextStepOnSuccess)

		wf.Steps = wf.Steps[:1]
		require.NoError(t, workflows.Save(ctx, wf))
		assert.Equal(t, 2, wf.Version)

		latest, err := workflows.FindByName(ctx, "pg-review")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Len(t, latest.Steps, 1)

		v1, err := workflows.GetVersion(ctx, wf.ID, 1)
		require.NoError(t, err)
		assert.Len(t, v1.Steps, 2)
		assert.True(t, v1.CreatedAt.Equal(latest.CreatedAt))
	})

	t.Run("Duplicate live name conflicts", func(t *testing.T) {
		a := &models.Workflow{ID: uuid.New().String(), Name: "pg-dup"}
		b := &models.Workflow{ID: uuid.New().String(), Name: "pg-dup"}
		require.NoError(t, workflows.Save(ctx, a))
		err := workflows.Save(ctx, b)
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("Delete hides workflow but keeps versions", func(t *testing.T) {
		wf := &models.Workflow{ID: uuid.New().String(), Name: "pg-deleted"}
		require.NoError(t, workflows.Save(ctx, wf))
		require.NoError(t, workflows.Delete(ctx, wf.ID))

		_, err := workflows.Get(ctx, wf.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = workflows.GetVersion(ctx, wf.ID, 1)
		assert.NoError(t, err)
		assert.ErrorIs(t, workflows.Delete(ctx, wf.ID), models.ErrNotFound)

		all, err := workflows.List(ctx)
		require.NoError(t, err)
		for _, w := range all {
			assert.NotEqual(t, wf.ID, w.ID)
		}
	})

	t.Run("Execution upsert and terminal guard", func(t *testing.T) {
		start := time.Now().UTC().Truncate(time.Microsecond)
		exec := &models.WorkflowExecution{
			ID:              uuid.New().String(),
			WorkflowID:      "wf-1",
			WorkflowName:    "pg-review",
			WorkflowVersion: 1,
			Status:          models.StatusPending,
			StepResults:     map[string]string{},
			Metadata:        map[string]string{"topic": "go"},
			StartTime:       start,
		}
		require.NoError(t, executions.Save(ctx, exec))

		exec.Status = models.StatusRunning
		exec.CurrentStepID = "a"
		exec.RecordResult("b", "outline")
		exec.RecordResult("a", "draft")
		exec.StepRetries = map[string]int{"a": 1}
		require.NoError(t, executions.Save(ctx, exec))

		got, err := executions.Get(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRunning, got.Status)
		assert.Equal(t, "a", got.CurrentStepID)
		assert.Equal(t, "draft", got.StepResults["a"])
		assert.Equal(t, []string{"b", "a"}, got.StepOrder)
		assert.Equal(t, 1, got.StepRetries["a"])
		assert.Equal(t, "go", got.Metadata["topic"])
		assert.Nil(t, got.EndTime)

		end := start.Add(time.Second)
		exec.Status = models.StatusCompleted
		exec.EndTime = &end
		require.NoError(t, executions.Save(ctx, exec))

		later := end.Add(time.Hour)
		exec.EndTime = &later
		exec.StepResults["late"] = "result"
		require.NoError(t, executions.Save(ctx, exec))
		assert.True(t, exec.EndTime.Equal(end))

		exec.Status = models.StatusFailed
		err = executions.Save(ctx, exec)
		assert.ErrorIs(t, err, models.ErrConflict)

		got, err = executions.Get(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, "result", got.StepResults["late"])
	})

	t.Run("List executions by workflow and status", func(t *testing.T) {
		wfID := uuid.New().String()
		base := time.Now().UTC().Truncate(time.Microsecond)
		for i, status := range []models.ExecutionStatus{models.StatusRunning, models.StatusPending, models.StatusRunning} {
			require.NoError(t, executions.Save(ctx, &models.WorkflowExecution{
				ID:           uuid.New().String(),
				WorkflowID:   wfID,
				WorkflowName: "pg-list",
				Status:       status,
				StartTime:    base.Add(time.Duration(i) * time.Second),
			}))
		}

		byWorkflow, err := executions.ListByWorkflow(ctx, wfID)
		require.NoError(t, err)
		require.Len(t, byWorkflow, 3)
		assert.True(t, byWorkflow[0].StartTime.Before(byWorkflow[2].StartTime))

		pending, err := executions.ListByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		found := false
		for _, e := range pending {
			if e.WorkflowID == wfID {
				found = true
			}
		}
		assert.True(t, found)

		_, err = executions.Get(ctx, uuid.New().String())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
