package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
)

// amqpPublisher is the part of rabbitmq.Connection the bus needs.
type amqpPublisher interface {
	Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error
}

// AMQPBus publishes domain events to a topic exchange, routed by event type.
type AMQPBus struct {
	conn     amqpPublisher
	exchange string
}

func NewAMQPBus(conn amqpPublisher, exchange string) *AMQPBus {
	return &AMQPBus{conn: conn, exchange: exchange}
}

var _ ports.EventBus = (*AMQPBus)(nil)

func (b *AMQPBus) Publish(ctx context.Context, event models.DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return sideeffect.Permanent(fmt.Errorf("marshal event %s: %w", event.ID, err))
	}
	if err := b.conn.Publish(ctx, b.exchange, event.Type, event.ID, body); err != nil {
		return sideeffect.Transient(err)
	}
	return nil
}
