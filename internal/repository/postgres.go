package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-orchestrator/backend/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT        NOT NULL,
	version     INT         NOT NULL,
	is_latest   BOOLEAN     NOT NULL DEFAULT TRUE,
	name        TEXT        NOT NULL,
	description TEXT        NOT NULL DEFAULT '',
	type        TEXT        NOT NULL DEFAULT '',
	metadata    JSONB       NOT NULL DEFAULT '{}',
	steps       JSONB       NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ,
	PRIMARY KEY (id, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS workflows_live_name
	ON workflows (name) WHERE is_latest AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS workflow_executions (
	id               TEXT PRIMARY KEY,
	workflow_id      TEXT        NOT NULL,
	workflow_name    TEXT        NOT NULL,
	workflow_version INT         NOT NULL,
	status           TEXT        NOT NULL,
	current_step_id  TEXT,
	step_results     JSONB       NOT NULL DEFAULT '{}',
	step_retries     JSONB       NOT NULL DEFAULT '{}',
	metadata         JSONB       NOT NULL DEFAULT '{}',
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ,
	error_message    TEXT
);
ALTER TABLE workflow_executions ADD COLUMN IF NOT EXISTS step_order JSONB NOT NULL DEFAULT '[]';
CREATE INDEX IF NOT EXISTS workflow_executions_workflow ON workflow_executions (workflow_id, start_time);
CREATE INDEX IF NOT EXISTS workflow_executions_status ON workflow_executions (status, start_time);
`

// Migrate creates the tables used by the Postgres stores.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", classify(err))
	}
	return nil
}

// classify maps driver errors onto the models error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %v", models.ErrConflict, err)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "40001":
			return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
		}
		return err
	}
	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
