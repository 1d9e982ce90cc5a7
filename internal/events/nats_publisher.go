package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-licensing/internal/metrics"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	conn       Conn
	subject    string
	maxRetries int
	backoff    time.Duration
}

func NewNATSPublisher(conn Conn, subject string, maxRetries int) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
	}
}

func (p *NATSPublisher) Publish(event *ValidationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i) * p.backoff)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Async decouples publishing from the request path with a bounded queue.
// Events that do not fit are dropped.
type Async struct {
	pub   *NATSPublisher
	queue chan ValidationEvent
	log   *slog.Logger
}

func NewAsync(pub *NATSPublisher, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{pub: pub, queue: make(chan ValidationEvent, size), log: logger.With("component", "events")}
}

func (a *Async) Enqueue(evt ValidationEvent) {
	select {
	case a.queue <- evt:
	default:
		metrics.EventsPublishFailedTotal.Inc()
		a.log.Warn("event queue full, dropping validation event", "event_id", evt.EventID)
	}
}

// Run publishes queued events until ctx is done.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-a.queue:
			if err := a.pub.Publish(&evt); err != nil {
				metrics.EventsPublishFailedTotal.Inc()
				a.log.Warn("validation event not published", "event_id", evt.EventID, "error", err)
			}
		}
	}
}

// Connect dials NATS with reconnects enabled and connection state logged.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}
