package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-orchestrator/backend/pkg/models"
)

const workflowColumns = "id, version, name, description, type, metadata, steps, created_at, updated_at"

// PostgresWorkflowStore is a PostgreSQL implementation of WorkflowStore.
// Every Save inserts a new row; older versions are kept for pinned executions.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// Get retrieves the latest version of a workflow by its ID.
func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1 AND is_latest AND deleted_at IS NULL", id)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return wf, nil
}

// GetVersion retrieves a specific version of a workflow, deleted or not.
func (s *PostgresWorkflowStore) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1 AND version = $2", id, version)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("workflow %s version %d: %w", id, version, err)
	}
	return wf, nil
}

// FindByName retrieves the latest version of the workflow with the given name.
func (s *PostgresWorkflowStore) FindByName(ctx context.Context, name string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE name = $1 AND is_latest AND deleted_at IS NULL", name)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, fmt.Errorf("workflow named %q: %w", name, err)
	}
	return wf, nil
}

// List returns the latest version of every live workflow, ordered by name.
func (s *PostgresWorkflowStore) List(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE is_latest AND deleted_at IS NULL ORDER BY name")
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, classify(rows.Err())
}

// Save stores a new version of the workflow inside a transaction.
func (s *PostgresWorkflowStore) Save(ctx context.Context, workflow *models.Workflow) error {
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	metadata, err := json.Marshal(nonNilStrings(workflow.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	version := 1
	createdAt := now
	var prevVersion int
	var prevCreated time.Time
	err = tx.QueryRow(ctx,
		`UPDATE workflows SET is_latest = FALSE
		 WHERE id = $1 AND is_latest
		 RETURNING version, created_at`, workflow.ID).Scan(&prevVersion, &prevCreated)
	switch {
	case err == nil:
		version = prevVersion + 1
		createdAt = prevCreated
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return classify(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO workflows (id, version, is_latest, name, description, type, metadata, steps, created_at, updated_at)
		 VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9)`,
		workflow.ID, version, workflow.Name, workflow.Description, workflow.Type,
		string(metadata), string(steps), createdAt, now)
	if err != nil {
		return fmt.Errorf("workflow named %q: %w", workflow.Name, classify(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}

	workflow.Version = version
	workflow.CreatedAt = createdAt
	workflow.UpdatedAt = now
	return nil
}

// Delete soft-deletes every version of a workflow.
func (s *PostgresWorkflowStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "UPDATE workflows SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var metadata, steps []byte
	err := row.Scan(&wf.ID, &wf.Version, &wf.Name, &wf.Description, &wf.Type,
		&metadata, &steps, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if err := json.Unmarshal(metadata, &wf.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	wf.SortSteps()
	return &wf, nil
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
