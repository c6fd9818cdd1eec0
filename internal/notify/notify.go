// Package notify announces batch-run summaries on NATS.
//
// Payloads are run-level aggregates only. Per-user results and individual
// flags are never published.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectConsistencyCompleted carries a consistency run report.
	SubjectConsistencyCompleted = "fittrust.consistency.completed"
	// SubjectRiskRecomputed carries a risk recomputation summary.
	SubjectRiskRecomputed = "fittrust.risk.recomputed"
)

// Publisher sends a JSON-encoded payload on a subject.
type Publisher interface {
	Publish(subject string, data any) error
}

// NATSPublisher publishes over a shared NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials NATS. The connection keeps retrying in the background when
// the server is not yet reachable.
func Connect(ctx context.Context, url, token string, logger *slog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("fittrust"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

func (p *NATSPublisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

// Check reports the connection state for the readiness probe.
func (p *NATSPublisher) Check(_ context.Context) error {
	if p.conn.IsConnected() {
		return nil
	}
	return fmt.Errorf("nats %s", p.conn.Status())
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

// Message is one payload captured by a Recorder.
type Message struct {
	Subject string
	Data    []byte
}

// Recorder keeps published messages in memory, for tests and local runs.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Subject: subject, Data: payload})
	return nil
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Announce publishes a summary and logs, rather than returns, a failure:
// a lost announcement never fails the run it describes.
func Announce(p Publisher, logger *slog.Logger, subject string, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(subject, data); err != nil {
		logger.Warn("failed to publish run summary", "subject", subject, "error", err)
	}
}
