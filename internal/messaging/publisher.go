// Package messaging fans accepted frames out over NATS.
package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"

	"github.com/nats-io/nats.go"
)

const sinkName = "nats"

// Config holds NATS publisher configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// Subject is the prefix frames are published under.
	Subject string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "can-simulator",
		Subject:       "can.frames",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher publishes every written frame to <subject>.<id>.
type Publisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Connect dials NATS and returns a publisher on that connection.
func Connect(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Publisher, error) {
	logger = logging.OrDefault(logger).With(logging.Component("nats-publisher"))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return newPublisher(nc, cfg.Subject, logger, m), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if subject == "" {
		subject = DefaultConfig().Subject
	}
	return &Publisher{
		conn:    c,
		subject: subject,
		logger:  logging.OrDefault(logger),
		metrics: m,
	}
}

// Subject returns the subject a frame with the given id is published to.
func (p *Publisher) Subject(id string) string {
	return p.subject + "." + subjectToken(id)
}

// subjectToken makes an id safe to use as a single NATS subject token.
func subjectToken(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, id)
}

// Start is a no-op; NATS publishes are buffered by the client.
func (p *Publisher) Start() {}

// Write publishes the frame as JSON.
func (p *Publisher) Write(frame models.AnnotatedFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		p.metrics.SinkError(sinkName)
		p.logger.Error("failed to marshal frame", logging.FrameID(frame.ID), logging.Error(err))
		return
	}

	if err := p.conn.Publish(p.Subject(frame.ID), data); err != nil {
		p.metrics.SinkError(sinkName)
		p.logger.Warn("failed to publish frame", logging.FrameID(frame.ID), logging.Error(err))
	}
}

// Close flushes buffered publishes and closes the connection.
func (p *Publisher) Close() error {
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to flush NATS: %w", err)
	}
	return nil
}
