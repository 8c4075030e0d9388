package swapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"swapijob/internal/adapters/httpjson"
	"swapijob/internal/core/domain"
)

const DefaultBaseURL = "https://swapi.dev/api"

var ErrNotFound = errors.New("swapi: person not found")

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RatePerSec caps outgoing requests; zero means unlimited.
	RatePerSec float64
	// MaxJitter adds a random delay in [1ms, MaxJitter] after each successful
	// fetch to simulate a slow upstream. Zero disables it.
	MaxJitter time.Duration
}

// Client implements ports.Fetcher against the SWAPI people endpoint.
type Client struct {
	baseURL   string
	getter    *httpjson.Getter
	limiter   *rate.Limiter
	maxJitter time.Duration
	logger    *slog.Logger
}

// NewClient creates a new SWAPI client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid SWAPI base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:   base,
		getter:    httpjson.NewGetter(timeout),
		maxJitter: opts.MaxJitter,
		logger:    logger,
	}
	if opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return c, nil
}

// Fetch retrieves person id (1-based).
func (c *Client) Fetch(ctx context.Context, id int) (domain.Person, error) {
	if id <= 0 {
		return domain.Person{}, fmt.Errorf("swapi: invalid person id %d", id)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.Person{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var p domain.Person
	if err := c.getter.GetJSON(ctx, c.personURL(id), &p); err != nil {
		if httpjson.IsNotFound(err) {
			return domain.Person{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return domain.Person{}, err
	}
	if p.Name == "" {
		return domain.Person{}, fmt.Errorf("swapi: person %d has no name", id)
	}
	p.ID = id

	if err := c.simulateLatency(ctx, id); err != nil {
		return domain.Person{}, err
	}
	return p, nil
}

func (c *Client) personURL(id int) string {
	return fmt.Sprintf("%s/people/%d/", c.baseURL, id)
}

func (c *Client) simulateLatency(ctx context.Context, id int) error {
	maxMS := int64(c.maxJitter / time.Millisecond)
	if maxMS <= 0 {
		return nil
	}
	delay := time.Duration(rand.Int64N(maxMS)+1) * time.Millisecond
	c.logger.Debug("simulating long response time", "person_id", id, "delay", delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
