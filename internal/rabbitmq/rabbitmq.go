// Package rabbitmq owns the broker connection used for domain events and the
// optional change-envelope queue. It redials on its own when the broker
// drops the connection or the channel.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/coreman27/infra/internal/config"
)

// ErrNotConnected is returned while there is no open channel.
var ErrNotConnected = errors.New("rabbitmq: channel not open")

const (
	initialDialAttempts = 10
	publishAttempts     = 3
	heartbeat           = 10 * time.Second
)

// backoff doubles from floor up to ceil.
type backoff struct {
	ceil, cur time.Duration
}

func newBackoff(floor, ceil time.Duration) *backoff {
	return &backoff{ceil: ceil, cur: floor}
}

func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.ceil {
		b.cur = b.ceil
	}
	return d
}

type Connection struct {
	cfg    *config.RabbitMQConfig
	logger *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	stop     chan struct{}
	stopOnce sync.Once
}

func NewConnection(cfg *config.RabbitMQConfig, logger *zap.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Connect dials the broker, retrying a bounded number of times, and then
// watches the connection in the background.
func (c *Connection) Connect() error {
	if err := c.redial("initial", initialDialAttempts); err != nil {
		return err
	}
	go c.watch()
	return nil
}

// redial dials until it succeeds, Close is called, or maxAttempts is reached.
// maxAttempts <= 0 means no limit.
func (c *Connection) redial(reason string, maxAttempts int) error {
	wait := newBackoff(time.Second, 30*time.Second)
	for attempt := 1; ; attempt++ {
		err := c.dial()
		if err == nil {
			c.logger.Info("Connected to RabbitMQ",
				zap.String("reason", reason),
				zap.Int("attempt", attempt),
				zap.String("host", c.cfg.Host),
				zap.String("vhost", c.cfg.VHost),
			)
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("connect to RabbitMQ after %d attempts: %w", attempt, err)
		}

		delay := wait.next()
		c.logger.Warn("RabbitMQ dial failed, retrying",
			zap.String("reason", reason),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-c.stop:
			return fmt.Errorf("connect to RabbitMQ: %w", ErrNotConnected)
		case <-time.After(delay):
		}
	}
}

func (c *Connection) dial() error {
	conn, err := amqp.DialConfig(c.cfg.ConnectionURL(), amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Vhost:     c.cfg.VHost,
		Properties: amqp.Table{
			"connection_name": "contract-lifecycle",
		},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	old, oldCh := c.conn, c.channel
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	if oldCh != nil {
		_ = oldCh.Close()
	}
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// watch redials whenever the broker closes the connection or channel.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn, ch := c.conn, c.channel
		c.mu.RUnlock()
		if conn == nil || ch == nil {
			return
		}

		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

		var cause *amqp.Error
		select {
		case <-c.stop:
			return
		case cause = <-connClosed:
		case cause = <-chClosed:
		}
		if cause == nil {
			// Graceful close from our side.
			return
		}

		c.logger.Error("RabbitMQ link lost, redialing",
			zap.String("reason", cause.Reason),
			zap.Int("code", cause.Code),
		)
		if err := c.redial("recover", 0); err != nil {
			return
		}
	}
}

func (c *Connection) Close() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	conn, ch := c.conn, c.channel
	c.conn, c.channel = nil, nil
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
		c.logger.Info("RabbitMQ connection closed")
	}
}

// openChannel returns the current channel or ErrNotConnected.
func (c *Connection) openChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

func (c *Connection) IsHealthy() bool {
	_, err := c.openChannel()
	return err == nil
}

// Publish sends a persistent JSON message. A missing channel is waited out
// briefly since a redial may be in flight.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	wait := newBackoff(100*time.Millisecond, time.Second)

	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch, err := c.openChannel()
		if err == nil {
			err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
			if err == nil {
				return nil
			}
			if !ch.IsClosed() {
				return fmt.Errorf("publish %s to %s: %w", messageID, exchange, err)
			}
		}
		lastErr = err

		if attempt < publishAttempts {
			c.logger.Warn("RabbitMQ publish deferred, channel unavailable",
				zap.String("message_id", messageID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if err := sleepCtx(ctx, wait.next()); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("publish %s to %s after %d attempts: %w", messageID, exchange, publishAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Connection) ConsumeMessages(queue, consumer string, autoAck, exclusive, noLocal, noWait bool) (<-chan amqp.Delivery, error) {
	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// SetQoS sets the channel prefetch.
func (c *Connection) SetQoS(prefetchCount, prefetchSize int, global bool) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	if err := ch.Qos(prefetchCount, prefetchSize, global); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// CancelConsumer stops deliveries to consumerTag. Without a channel there is
// nothing to cancel.
func (c *Connection) CancelConsumer(consumerTag string) error {
	ch, err := c.openChannel()
	if err != nil {
		return nil
	}
	return ch.Cancel(consumerTag, false)
}

// DeclareExchange declares a durable topic exchange.
func (c *Connection) DeclareExchange(name string) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}
