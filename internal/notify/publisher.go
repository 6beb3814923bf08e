// Package notify delivers incident lifecycle events to downstream
// consumers: the live dashboard push transport and the ticketing/chat
// integrations all subscribe to the same stream.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/devkdas/causeway/internal/models"
)

// Publisher is the outbound lifecycle stream contract. Implementations must
// be safe for concurrent use; the lifecycle manager publishes from analysis
// goroutines.
type Publisher interface {
	Publish(event models.LifecycleEvent) error
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(models.LifecycleEvent) error { return nil }

// NATSPublisher emits lifecycle events as JSON messages on
// <prefix>.incidents.<type> subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher constructs a publisher over an established connection.
func NewNATSPublisher(conn *nats.Conn, subjectPrefix string, logger *slog.Logger) *NATSPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "causeway"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, logger: logger}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(event models.LifecycleEvent) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats connection not available")
	}

	msg, err := buildMessage(p.prefix, event)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}

	p.logger.Debug("published lifecycle event",
		slog.String("subject", msg.Subject),
		slog.String("incident_id", event.Incident.ID),
		slog.String("type", string(event.Type)),
	)
	return nil
}

func buildMessage(prefix string, event models.LifecycleEvent) (*nats.Msg, error) {
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal lifecycle event: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-incident-id", event.Incident.ID)
	headers.Set("x-severity", string(event.Incident.Severity))
	headers.Set("x-status", string(event.Incident.Status))
	headers.Set("x-confidence", strconv.FormatFloat(event.Incident.Confidence, 'f', 3, 64))

	return &nats.Msg{
		Subject: prefix + ".incidents." + string(event.Type),
		Data:    payload,
		Header:  headers,
	}, nil
}
