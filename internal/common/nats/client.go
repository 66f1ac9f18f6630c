package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Client is a thin JetStream publishing client.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials the NATS server and initializes a JetStream context.
func Connect(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to connect to NATS")
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create JetStream context")
	}

	return &Client{conn: conn, js: js}, nil
}

// Publish publishes data to subject, waiting for the JetStream ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to publish message")
	}
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
