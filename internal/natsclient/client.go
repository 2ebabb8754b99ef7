// Package natsclient wraps a NATS JetStream connection with the publish-only
// surface the notification publisher needs.
package natsclient

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client is a publish-only NATS JetStream client.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to the NATS server at url.
func New(url, clientName string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{conn: conn, js: js}, nil
}

// Publish publishes data to subject, honoring ctx cancellation.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Drain()
	c.conn.Close()
}
