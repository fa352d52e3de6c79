// Package events delivers workflow events to interested parties.
package events

import (
	"context"
	"sync"

	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

// Publisher accepts workflow events. Publishing is fire-and-forget; delivery
// problems are logged by the implementation and never returned to the caller.
type Publisher interface {
	Publish(ctx context.Context, event models.WorkflowEvent)
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event models.WorkflowEvent) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}

// LogPublisher writes every event to the log.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event models.WorkflowEvent) {
	p.logger.Info("workflow event",
		"type", event.Type,
		"workflow_id", event.WorkflowID,
		"execution_id", event.ExecutionID,
		"status", event.Status,
		"step_id", event.StepID,
		"message", event.Message)
}

// Broker hands events to in-process subscribers. A subscriber that does not
// keep up loses events rather than stalling the publisher.
type Broker struct {
	logger *logging.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	ch     chan models.WorkflowEvent
	filter func(models.WorkflowEvent) bool
}

func NewBroker(logger *logging.Logger) *Broker {
	return &Broker{logger: logger, subs: make(map[int]*subscription)}
}

// Subscribe registers a subscriber receiving the events accepted by filter
// (all events when filter is nil). The returned function unsubscribes and
// closes the channel.
func (b *Broker) Subscribe(buffer int, filter func(models.WorkflowEvent) bool) (<-chan models.WorkflowEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan models.WorkflowEvent, buffer), filter: filter}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers reports how many subscriptions are open.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) Publish(_ context.Context, event models.WorkflowEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber", "type", event.Type, "execution_id", event.ExecutionID)
		}
	}
}

// ForExecution is a Subscribe filter matching one execution.
func ForExecution(executionID string) func(models.WorkflowEvent) bool {
	return func(e models.WorkflowEvent) bool { return e.ExecutionID == executionID }
}
