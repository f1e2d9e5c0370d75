package statefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/callpilot/internal/call"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with unlimited background reconnects. The connection
// is returned even while the server is still unreachable.
func ConnectNATS(url, token string, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("callpilot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("statefeed: nats connect: %w", err)
	}
	return nc, nil
}

// Publisher publishes every snapshot as JSON on one subject.
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher returns a publisher on subject, or [DefaultSubject] when
// subject is empty.
func NewPublisher(conn Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Publish sends one snapshot.
func (p *Publisher) Publish(s call.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("statefeed: marshal snapshot: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("statefeed: publish: %w", err)
	}
	return nil
}

// Run publishes snapshots from src until ctx ends. Publish failures are
// logged; the next snapshot is tried regardless.
func (p *Publisher) Run(ctx context.Context, src Source) error {
	snaps, unsubscribe := src.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-snaps:
			if !ok {
				return nil
			}
			if err := p.Publish(s); err != nil {
				slog.Warn("state publish failed", "subject", p.subject, "err", err)
			}
		}
	}
}
