package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to every event kind.
const DefaultSubjectPrefix = "tradepost"

// NATSPublisher sends events as JSON to <prefix>.<kind>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// DialNATS connects to the server list in url.
func DialNATS(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("tradepost"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	return NewNATSPublisher(conn, prefix), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of kind k is published on.
func Subject(prefix string, k Kind) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(k)
}

// Publish marshals e and hands it to the connection. Core NATS publishing
// does not block on the server, so ctx is only checked up front.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", e.Kind, err)
	}
	if err := p.conn.Publish(Subject(p.prefix, e.Kind), data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
