// Package notify publishes run summaries on NATS.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/report"
	"github.com/nats-io/nats.go"
)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	Subject        string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns settings for a local server.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "pvtrain",
		Subject:        "pvtrain.runs",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	}
}

// Publisher sends run events.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  log.Logger
}

// Connect dials the server.
func Connect(cfg Config) (*Publisher, error) {
	logger := log.GetLoggerWithName("notify")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", log.ErrAttrKey, err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to NATS %s", cfg.URL)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "pvtrain.runs"
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Subject is where summaries go. Per generator events use Subject + ".generator".
func (p *Publisher) Subject() string { return p.subject }

// PublishRun publishes the summary of a finished run and flushes.
func (p *Publisher) PublishRun(ctx context.Context, s report.Summary) error {
	if err := p.publish(p.subject, s); err != nil {
		return err
	}
	return errors.Wrap(p.conn.FlushWithContext(ctx), "flush")
}

// GeneratorEvent reports one generator reaching a final state.
type GeneratorEvent struct {
	RunID       string   `json:"run_id"`
	GeneratorID string   `json:"generator_id"`
	State       string   `json:"state"`
	Failures    []string `json:"failures,omitempty"`
}

// PublishGenerator publishes ev without waiting for the server.
func (p *Publisher) PublishGenerator(ev GeneratorEvent) error {
	return p.publish(p.subject+".generator", ev)
}

func (p *Publisher) publish(subject string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return errors.Wrapf(p.conn.Publish(subject, payload), "publish %s", subject)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
