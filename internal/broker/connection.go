// Package broker wraps the AMQP plumbing: a reconnecting queue consumer and
// a buffered result publisher. Queue and exchange topology is owned by the
// orchestrator; this service only asserts it.
package broker

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	heartbeat      = 60 * time.Second
	blockedTimeout = 30 * time.Second
	reconnectDelay = 5 * time.Second
)

// dial opens a connection with the service heartbeat and arms a watchdog
// that force-closes the connection when the broker keeps it blocked (memory
// or disk alarm) beyond blockedTimeout.
func dial(url string, logger zerolog.Logger) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: heartbeat})
	if err != nil {
		return nil, err
	}
	watchBlocked(conn, logger)
	return conn, nil
}

func watchBlocked(conn *amqp.Connection, logger zerolog.Logger) {
	blockings := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for b := range blockings {
			if b.Active {
				logger.Warn().Str("reason", b.Reason).Msg("Connection blocked by broker")
				if timer == nil {
					timer = time.AfterFunc(blockedTimeout, func() {
						logger.Error().Msg("Connection blocked beyond timeout, closing")
						_ = conn.Close()
					})
				}
			} else {
				logger.Info().Msg("Connection unblocked by broker")
				if timer != nil {
					timer.Stop()
					timer = nil
				}
			}
		}
	}()
}
