package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/luckygarg1810/exam-platform/internal/metrics"
)

const publishAttempts = 2

// Result is the outbound record the orchestrator consumes. It writes
// proctoring events, updates violation counters, pushes realtime alerts, and
// auto-suspends sessions on critical scores, so the field names must match
// its JSON contract exactly.
type Result struct {
	SessionID    string         `json:"sessionId"`
	EventType    string         `json:"eventType"`
	Severity     string         `json:"severity"`
	Confidence   *float64       `json:"confidence"`
	Description  string         `json:"description"`
	SnapshotPath *string        `json:"snapshotPath"`
	RiskScore    float64        `json:"riskScore"`
	Metadata     map[string]any `json:"metadata"`
}

// Publisher serializes all publishing through a single goroutine owning one
// connection and channel. Callers enqueue results over a buffered channel;
// when the buffer is full the result is dropped and counted rather than
// blocking a consumer.
type Publisher struct {
	url        string
	exchange   string
	routingKey string
	logger     zerolog.Logger

	queue chan Result
	stop  chan struct{}
	wg    sync.WaitGroup

	// Owned by the publish loop goroutine.
	conn *amqp.Connection
	ch   *amqp.Channel
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	BufferSize int
	Logger     zerolog.Logger
}

// NewPublisher creates a result publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("exchange name is required")
	}
	if cfg.RoutingKey == "" {
		return nil, fmt.Errorf("routing key is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	return &Publisher{
		url:        cfg.URL,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     cfg.Logger,
		queue:      make(chan Result, cfg.BufferSize),
		stop:       make(chan struct{}),
	}, nil
}

// Start launches the publish loop.
func (p *Publisher) Start() {
	p.logger.Info().Str("exchange", p.exchange).Str("routing_key", p.routingKey).
		Msg("Starting publisher")
	p.wg.Add(1)
	go p.publishLoop()
}

// Stop drains buffered results and closes the connection.
func (p *Publisher) Stop() {
	close(p.stop)
	p.wg.Wait()
	p.closeConnection()
	p.logger.Info().Msg("Publisher stopped")
}

// Publish enqueues a result without blocking. On a full buffer the result is
// dropped and counted.
func (p *Publisher) Publish(r Result) {
	select {
	case p.queue <- r:
	default:
		metrics.ResultsDropped.WithLabelValues(metrics.DropReasonQueueFull).Inc()
		p.logger.Warn().
			Str("session_id", r.SessionID).
			Str("event_type", r.EventType).
			Msg("Publish buffer full, result dropped")
	}
}

func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	for {
		select {
		case r := <-p.queue:
			p.publish(r)
		case <-p.stop:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case r := <-p.queue:
					p.publish(r)
				default:
					return
				}
			}
		}
	}
}

// publish canonicalizes one result and sends it, retrying once on a fresh
// connection before dropping.
func (p *Publisher) publish(r Result) {
	r = canonicalize(r)

	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.Error().Err(err).Str("session_id", r.SessionID).Msg("Result marshal failed, dropped")
		metrics.ResultsDropped.WithLabelValues(metrics.DropReasonPublishFailed).Inc()
		return
	}

	for attempt := 1; attempt <= publishAttempts; attempt++ {
		ch, err := p.channel()
		if err == nil {
			err = ch.PublishWithContext(context.Background(),
				p.exchange, p.routingKey, false, false,
				amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Body:         payload,
				})
			if err == nil {
				metrics.ResultsPublished.WithLabelValues(r.EventType, r.Severity).Inc()
				p.logger.Debug().
					Str("session_id", r.SessionID).
					Str("event_type", r.EventType).
					Float64("risk_score", r.RiskScore).
					Msg("Result published")
				return
			}
		}

		p.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", publishAttempts).
			Msg("Publish attempt failed")
		// Force a fresh connection on the next attempt.
		p.closeConnection()
	}

	p.logger.Error().
		Str("session_id", r.SessionID).
		Str("event_type", r.EventType).
		Msg("Result dropped after repeated publish failures")
	metrics.ResultsDropped.WithLabelValues(metrics.DropReasonPublishFailed).Inc()
}

// canonicalize applies the wire rounding rules: riskScore rounded to 4
// decimals and clamped to [0, 1], confidence rounded to 4 decimals when set,
// metadata never null.
func canonicalize(r Result) Result {
	r.RiskScore = math.Min(1.0, math.Max(0.0, round4(r.RiskScore)))
	if r.Confidence != nil {
		c := round4(*r.Confidence)
		r.Confidence = &c
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r
}

// channel returns the live channel, dialing and declaring the exchange when
// needed. Only called from the publish loop.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return p.ch, nil
	}
	p.closeConnection()

	conn, err := dial(p.url, p.logger)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// Idempotent declare so the first publish never races the exchange.
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}

	p.conn, p.ch = conn, ch
	p.logger.Info().Str("exchange", p.exchange).Msg("Publisher connected")
	return ch, nil
}

func (p *Publisher) closeConnection() {
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
