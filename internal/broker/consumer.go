package broker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/luckygarg1810/exam-platform/internal/metrics"
)

// Handler processes one message body. A nil return acks the message; an
// error (or a panic) nacks it without requeue so poison messages never loop.
type Handler func(body []byte) error

// Consumer owns one connection and one channel, consumes a single queue with
// manual acks, and reconnects forever until stopped.
type Consumer struct {
	url     string
	queue   string
	handler Handler
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   *amqp.Connection

	// Metrics
	metricsMu sync.RWMutex
	processed uint64
	failed    uint64
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	URL     string
	Queue   string
	Handler Handler
	Logger  zerolog.Logger
}

// NewConsumer creates a consumer for one queue.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		url:     cfg.URL,
		queue:   cfg.Queue,
		handler: cfg.Handler,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming in the background.
func (c *Consumer) Start() error {
	c.logger.Info().Str("queue", c.queue).Msg("Starting consumer")
	c.wg.Add(1)
	go c.consumeLoop()
	return nil
}

// Stop shuts the consumer down and waits for the consume loop to exit.
func (c *Consumer) Stop() error {
	c.logger.Info().Str("queue", c.queue).Msg("Stopping consumer")
	c.cancel()
	c.closeConnection()
	c.wg.Wait()

	processed, failed := c.GetMetrics()
	c.logger.Info().
		Uint64("messages_processed", processed).
		Uint64("messages_failed", failed).
		Str("queue", c.queue).
		Msg("Consumer stopped")
	return nil
}

// consumeLoop reconnects forever with a fixed delay between attempts.
func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		if c.ctx.Err() != nil {
			return
		}

		err := c.consumeOnce()
		if c.ctx.Err() != nil {
			return
		}
		metrics.ConsumerReconnects.WithLabelValues(c.queue).Inc()
		c.logger.Warn().Err(err).
			Str("queue", c.queue).
			Dur("delay", reconnectDelay).
			Msg("Consumer connection lost, reconnecting")

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// consumeOnce runs one connection lifetime: connect, assert topology, consume
// until the connection dies or the consumer is stopped.
func (c *Consumer) consumeOnce() error {
	defer metrics.ConsumerConnected.WithLabelValues(c.queue).Set(0)

	conn, err := dial(c.url, c.logger)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.setConnection(conn)
	defer c.closeConnection()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	// Passive declare: just assert the queue exists, never re-declare it
	// with different arguments.
	if _, err := ch.QueueDeclarePassive(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("assert queue %q: %w", c.queue, err)
	}

	// One unacked message at a time per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	metrics.ConsumerConnected.WithLabelValues(c.queue).Set(1)
	c.logger.Info().Str("queue", c.queue).Msg("Consumer connected")

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(d)
		}
	}
}

// handleDelivery runs the handler and settles the message.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	if err := c.safeProcess(d.Body); err != nil {
		c.logger.Error().Err(err).Str("queue", c.queue).Msg("Message processing failed")
		c.incrementFailed()
		metrics.MessagesFailed.WithLabelValues(c.queue).Inc()
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error().Err(nackErr).Str("queue", c.queue).Msg("Nack failed")
		}
		return
	}

	c.incrementProcessed()
	metrics.MessagesConsumed.WithLabelValues(c.queue).Inc()
	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error().Err(ackErr).Str("queue", c.queue).Msg("Ack failed")
	}
}

// safeProcess converts handler panics into errors so one bad message cannot
// kill the consume loop.
func (c *Consumer) safeProcess(body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("queue", c.queue).
				Msg("Recovered from handler panic")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(body)
}

// GetMetrics returns current consumer counters.
func (c *Consumer) GetMetrics() (processed, failed uint64) {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.processed, c.failed
}

func (c *Consumer) incrementProcessed() {
	c.metricsMu.Lock()
	c.processed++
	c.metricsMu.Unlock()
}

func (c *Consumer) incrementFailed() {
	c.metricsMu.Lock()
	c.failed++
	c.metricsMu.Unlock()
}

func (c *Consumer) setConnection(conn *amqp.Connection) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Consumer) closeConnection() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}
