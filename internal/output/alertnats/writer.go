package alertnats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"alertengine/internal/logger"
	"alertengine/pkg/models"
)

// Config configures the NATS publisher.
type Config struct {
	URL string
	// SubjectPrefix is suffixed with the event type, e.g. alerts.events.created.
	SubjectPrefix string
	Name          string
	FlushTimeout  time.Duration
}

type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
	Close()
}

// Writer publishes lifecycle events to NATS, one message per event.
type Writer struct {
	conn         publisher
	prefix       string
	flushTimeout time.Duration
}

// NewWriter connects to NATS.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "alertengine"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Infof("Alert event NATS writer connected: %s", cfg.URL)
	return newWriter(conn, cfg), nil
}

func newWriter(conn publisher, cfg Config) *Writer {
	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "alertengine.events"
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	return &Writer{conn: conn, prefix: prefix, flushTimeout: cfg.FlushTimeout}
}

// Subject returns the subject an event is published on.
func (w *Writer) Subject(ev models.AlertEvent) string {
	return w.prefix + "." + ev.Type
}

// WriteEvents publishes the batch and waits for the server to acknowledge it.
func (w *Writer) WriteEvents(events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal alert event: %w", err)
		}
		if err := w.conn.Publish(w.Subject(ev), data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
	}
	if err := w.conn.FlushTimeout(w.flushTimeout); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (w *Writer) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Drain()
	w.conn.Close()
	return err
}
