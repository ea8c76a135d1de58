// Package consumer feeds change events from an AMQP queue into the same
// ingestion pipeline as the push endpoint.
package consumer

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/envelope"
	"github.com/coreman27/infra/internal/ingest"
)

// Broker is the part of rabbitmq.Connection the consumer needs.
type Broker interface {
	SetQoS(prefetchCount, prefetchSize int, global bool) error
	ConsumeMessages(queue, consumer string, autoAck, exclusive, noLocal, noWait bool) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
}

// Processor is satisfied by ingest.Processor.
type Processor interface {
	Process(ctx context.Context, raw []byte, decode ingest.DecodeFunc) ingest.Outcome
}

// Acknowledger is the ack side of an amqp.Delivery.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer handles consuming change events from a queue
type Consumer struct {
	cfg         config.ConsumerConfig
	broker      Broker
	processor   Processor
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

// New creates a new consumer instance with dependencies
func New(cfg config.ConsumerConfig, broker Broker, processor Processor, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		cfg:         cfg,
		broker:      broker,
		processor:   processor,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("contract-changes-%d", time.Now().Unix()),
	}
}

// Start begins consuming. The queue must already exist.
func (c *Consumer) Start() error {
	if c.cfg.Queue == "" {
		return fmt.Errorf("change events queue is required")
	}
	if err := c.startConsuming(); err != nil {
		return err
	}

	c.started = true
	c.logger.Info("Change event consumer started",
		zap.String("queue", c.cfg.Queue),
		zap.String("consumer_tag", c.consumerTag),
	)
	return nil
}

func (c *Consumer) startConsuming() error {
	if err := c.broker.SetQoS(c.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := c.broker.ConsumeMessages(c.cfg.Queue, c.consumerTag, false, false, false, false)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s (queue may not exist): %w", c.cfg.Queue, err)
	}

	go c.processMessages(messages)
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping change event consumer",
		zap.String("consumer_tag", c.consumerTag),
	)
	c.cancel()

	if err := c.broker.CancelConsumer(c.consumerTag); err != nil {
		c.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", c.consumerTag),
			zap.Error(err),
		)
	}

	c.logger.Info("Change event consumer stopped")
	return nil
}

func (c *Consumer) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				c.restart()
				return
			}
			c.HandleDelivery(c.ctx, msg.DeliveryTag, msg.Body, msg)
		}
	}
}

// restart resumes consuming after the channel was closed; the connection
// reconnects on its own.
func (c *Consumer) restart() {
	c.logger.Warn("Message channel closed, waiting for reconnection...",
		zap.String("queue", c.cfg.Queue),
	)
	for _, delay := range []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second} {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		if !c.started {
			return
		}
		err := c.startConsuming()
		if err == nil {
			return
		}
		c.logger.Error("Failed to restart consuming after channel close",
			zap.String("queue", c.cfg.Queue),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}

// HandleDelivery runs one message through the processor and settles it:
// ack when the outcome says so, otherwise nack with requeue.
func (c *Consumer) HandleDelivery(ctx context.Context, deliveryTag uint64, body []byte, ack Acknowledger) {
	out := c.processor.Process(ctx, body, envelope.DecodeChange)

	if out.Ack {
		if err := ack.Ack(false); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("queue", c.cfg.Queue),
				zap.Uint64("delivery_tag", deliveryTag),
				zap.Error(err),
			)
		}
		return
	}

	c.logger.Debug("Requeueing message",
		zap.Uint64("delivery_tag", deliveryTag),
		zap.String("envelope_id", out.EnvelopeID),
	)
	if err := ack.Nack(false, true); err != nil {
		c.logger.Error("Failed to nack message",
			zap.String("queue", c.cfg.Queue),
			zap.Uint64("delivery_tag", deliveryTag),
			zap.Error(err),
		)
	}
}
