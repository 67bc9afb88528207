package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dukerupert/recurring/internal/domain"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Envelope is the wire format of events published to NATS.
type Envelope struct {
	Event   string       `json:"event"`
	Payload domain.Event `json:"payload"`
}

// NATSPublisher is a Listener that forwards events to NATS subjects
// named <prefix><event name>, e.g. "billing.recurring.payment_declined".
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher on conn.
func NewNATSPublisher(conn Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event domain.Event) string {
	return p.prefix + event.EventName()
}

// Handle publishes the event as a JSON envelope.
func (p *NATSPublisher) Handle(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(Envelope{Event: event.EventName(), Payload: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %q: %w", subject, err)
	}

	p.logger.Debug("event published to NATS", "subject", subject)
	return nil
}

// Connect opens a NATS connection that reconnects indefinitely and logs
// connection state changes.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
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
	return conn, nil
}
