package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"swapijob/internal/protocol"
)

// Event is a worker message mirrored onto the bus, flattened into the
// protocol envelope shape and tagged with its job.
type Event struct {
	JobID string `json:"job_id"`
	protocol.Envelope
	HappenedAt int64 `json:"happened_at"`
}

// Client publishes job events to {prefix}.{job_id}.
type Client struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

func Connect(url, subjectPrefix string, logger *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("swapijob"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, prefix: subjectPrefix, logger: logger}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Subject returns the subject events for jobID are published on.
func (c *Client) Subject(jobID string) string {
	return c.prefix + "." + jobID
}

// Publish implements ports.EventPublisher.
func (c *Client) Publish(ctx context.Context, jobID string, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(Event{JobID: jobID, Envelope: env, HappenedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return c.nc.Publish(c.Subject(jobID), b)
}

// Subscribe delivers decoded events for jobID ("*" for every job). Events
// that fail to decode are logged and skipped.
func (c *Client) Subscribe(jobID string, handler func(jobID string, msg protocol.Message)) (*nats.Subscription, error) {
	return c.nc.Subscribe(c.Subject(jobID), func(m *nats.Msg) {
		c.deliver(m.Subject, m.Data, handler)
	})
}

func (c *Client) deliver(subject string, data []byte, handler func(jobID string, msg protocol.Message)) {
	evt, msg, err := DecodeEvent(data)
	if err != nil {
		c.logger.Warn("dropping undecodable job event", "subject", subject, "err", err)
		return
	}
	handler(evt.JobID, msg)
}

// DecodeEvent parses a published event and its message variant.
func DecodeEvent(b []byte) (Event, protocol.Message, error) {
	var evt Event
	if err := json.Unmarshal(b, &evt); err != nil {
		return Event{}, nil, fmt.Errorf("decode event: %w", err)
	}
	msg, err := protocol.Decode(evt.Envelope)
	if err != nil {
		return Event{}, nil, err
	}
	return evt, msg, nil
}
