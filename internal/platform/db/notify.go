package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// QueueListener relays Postgres NOTIFY payloads on one channel. Appointment
// writers send "clinic:consultant" as payload so that only the affected desk
// reloads its queue.
type QueueListener struct {
	dsn     string
	channel string
	logger  zerolog.Logger
}

func NewQueueListener(dsn, channel string, logger zerolog.Logger) *QueueListener {
	return &QueueListener{dsn: dsn, channel: channel, logger: logger.With().Str("channel", channel).Logger()}
}

// NotifySQL is the statement writers run to announce a queue change.
func NotifySQL(channel string) string {
	return fmt.Sprintf("SELECT pg_notify(%s, $1)", pq.QuoteLiteral(channel))
}

// Run listens until ctx is cancelled, calling onNotify for every payload. An
// empty payload is delivered after a reconnect, since notifications may have
// been missed while the connection was down.
func (l *QueueListener) Run(ctx context.Context, onNotify func(ctx context.Context, payload string)) error {
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			l.logger.Warn().Err(err).Msg("queue listener connection lost")
		case pq.ListenerEventReconnected:
			l.logger.Info().Msg("queue listener reconnected")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen on %s: %w", pq.QuoteIdentifier(l.channel), err)
	}
	l.logger.Info().Msg("queue listener started")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				onNotify(ctx, "")
				continue
			}
			onNotify(ctx, n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("queue listener ping failed")
			}
		}
	}
}
