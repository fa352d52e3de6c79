package events

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

// PostgresPublisher sends events as NOTIFY payloads on a channel so any
// LISTENing client sees them.
type PostgresPublisher struct {
	db      *pgxpool.Pool
	channel string
	logger  *logging.Logger
}

// NewPostgresPublisher creates a new PostgresPublisher.
func NewPostgresPublisher(db *pgxpool.Pool, channel string, logger *logging.Logger) *PostgresPublisher {
	return &PostgresPublisher{db: db, channel: channel, logger: logger}
}

func (p *PostgresPublisher) Publish(ctx context.Context, event models.WorkflowEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode event", "type", event.Type, "error", err)
		return
	}
	// Events outlive the request that produced them.
	ctx = context.WithoutCancel(ctx)
	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		p.logger.Error("failed to publish event",
			"type", event.Type,
			"execution_id", event.ExecutionID,
			"error", err)
	}
}

// Decode parses a NOTIFY payload produced by PostgresPublisher.
func Decode(payload string) (models.WorkflowEvent, error) {
	var event models.WorkflowEvent
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
