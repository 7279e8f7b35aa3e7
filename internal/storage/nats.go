package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectTimeout bounds the initial NATS dial
const ConnectTimeout = 10 * time.Second

// NatsPublisher publishes run messages on a NATS subject
type NatsPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewNatsPublisher(url, subject string, logger *slog.Logger) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("NATS publisher initialized", "url", url, "subject", subject)
	return &NatsPublisher{conn: conn, subject: subject, logger: logger}, nil
}

func (p *NatsPublisher) Name() string { return "nats" }

// BuildMsg wraps one message with its routing headers
func BuildMsg(subject string, m Message) (*nats.Msg, error) {
	data, err := encode(m)
	if err != nil {
		return nil, err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("x-run-id", m.RunID)
	msg.Header.Set("x-message-type", m.Type)
	if m.Alert != nil {
		msg.Header.Set("x-rule", m.Alert.Rule)
		msg.Header.Set("x-source-ip", m.Alert.SourceIP)
	}
	return msg, nil
}

// Publish sends every message and flushes once
func (p *NatsPublisher) Publish(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("publish cancelled: %w", err)
		}
		msg, err := BuildMsg(p.subject, m)
		if err != nil {
			return err
		}
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish %s message: %w", m.Type, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

func (p *NatsPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	p.logger.Info("NATS publisher closed")
	return nil
}
