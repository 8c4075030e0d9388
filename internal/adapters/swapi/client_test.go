package swapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/people/1/":
			w.Write([]byte(`{"name":"Luke Skywalker","height":"172","mass":"77","films":["a","b"],"species":[]}`))
		case "/api/people/2/":
			w.Write([]byte(`{"detail":"ok but nameless"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := NewClient(opts, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func TestFetchDecodesPerson(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, Options{BaseURL: srv.URL + "/api/"})

	p, err := c.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if p.ID != 1 || p.Name != "Luke Skywalker" || p.Height != "172" || len(p.Films) != 2 {
		t.Fatalf("unexpected person: %+v", p)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, Options{BaseURL: srv.URL + "/api"})

	if _, err := c.Fetch(context.Background(), 17); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchRejectsNamelessRecord(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, Options{BaseURL: srv.URL + "/api"})

	if _, err := c.Fetch(context.Background(), 2); err == nil {
		t.Fatal("expected error for record without a name")
	}
}

func TestFetchRejectsInvalidID(t *testing.T) {
	c := newTestClient(t, Options{})
	if _, err := c.Fetch(context.Background(), 0); err == nil {
		t.Fatal("expected error for id 0")
	}
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	if _, err := NewClient(Options{BaseURL: "not a url"}, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error for invalid base URL")
	}
}

func TestFetchJitterIsCancellable(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, Options{BaseURL: srv.URL + "/api", MaxJitter: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.Fetch(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("jitter ignored context cancellation")
	}
}

func TestFetchRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"name":"Leia Organa"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Options{BaseURL: srv.URL, RatePerSec: 10})

	start := time.Now()
	for i := 1; i <= 3; i++ {
		if _, err := c.Fetch(context.Background(), i); err != nil {
			t.Fatalf("Fetch(%d) returned error: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected rate limiting to space requests, took %v", elapsed)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
}
