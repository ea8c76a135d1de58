// Package events publishes outward domain events. Each event carries a unique
// id; delivery is at-least-once, so consumers dedupe on it.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/metrics"
	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
)

type Publisher struct {
	bus     ports.EventBus
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

func NewPublisher(bus ports.EventBus, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		bus:     bus,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
}

// Publish stamps the event with a fresh id and time and hands it to the bus.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload map[string]any) (models.DomainEvent, error) {
	event := models.DomainEvent{
		ID:          p.newID(),
		Type:        eventType,
		Payload:     payload,
		PublishedAt: p.now(),
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		return event, fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.metrics.EventPublished(eventType)
	p.logger.Info("Domain event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", eventType),
	)
	return event, nil
}
