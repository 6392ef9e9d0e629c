package community

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the community name to form the
// publish subject.
const DefaultSubjectPrefix = "oracle.community"

// Publisher delivers an encoded share to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes shares over a NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// DialNATS connects to url and returns a publisher that owns the connection.
func DialNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("oracle"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish sends data and flushes so that delivery errors surface to the
// worker, which then retries the job.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// LogPublisher records shares in the log. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, subject string, data []byte) error {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("community share", "subject", subject, "bytes", len(data))
	return nil
}
