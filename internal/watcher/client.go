// Package watcher pushes job lifecycle events to the remote watcher
// endpoint. Delivery is best-effort: transient failures are retried with
// exponential backoff, and a job's own terminal state never depends on an
// event arriving.
package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/modelforge/scoregate/internal/config"
	"github.com/modelforge/scoregate/pkg/models"
)

// ErrDeliveryFailed is returned by deliver once every attempt is spent.
var ErrDeliveryFailed = errors.New("watcher delivery failed")

// Notifier is the interface the scoring service depends on.
type Notifier interface {
	Notify(jobID, kind string, payload any)
}

// Client ships events to the watcher. Events are enqueued onto a channel
// and delivered by a single dispatcher goroutine, so for any job the
// started event always reaches the wire before its terminal event, and the
// executor never blocks on network timing.
type Client struct {
	url           string
	http          *http.Client
	maxAttempts   int
	retryInterval time.Duration

	events chan models.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Option tweaks a Client. Used by tests to shrink retry timing.
type Option func(*Client)

func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.retryInterval = d }
}

// NewClient creates a Client for the configured watcher endpoint. Call
// Start before the first Notify and Close on shutdown.
func NewClient(cfg config.WatcherConfig, opts ...Option) *Client {
	c := &Client{
		url:           cfg.URL,
		http:          &http.Client{Timeout: cfg.Timeout},
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: 500 * time.Millisecond,
		events:        make(chan models.Event, 64),
		done:          make(chan struct{}),
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the dispatcher goroutine.
func (c *Client) Start() {
	go func() {
		defer close(c.done)
		for ev := range c.events {
			if err := c.deliver(ev); err != nil {
				// Exhausted retries: log and drop. The job record keeps
				// the authoritative outcome either way.
				slog.Error("dropping watcher event",
					"job_id", ev.JobID,
					"event_kind", ev.Kind,
					"delivery_id", ev.DeliveryID,
					"error", err,
				)
			}
		}
	}()
}

// Close drains pending events and stops the dispatcher.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()
	<-c.done
}

// Notify enqueues one lifecycle event. It never blocks: events arriving
// after Close, or while the queue is saturated by an unreachable watcher,
// are dropped with a warning. The job record keeps the authoritative
// outcome either way; a stalled reporter must not hold up the executor.
func (c *Client) Notify(jobID, kind string, payload any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		slog.Warn("watcher client closed, dropping event", "job_id", jobID, "event_kind", kind)
		return
	}
	ev := models.Event{
		DeliveryID: uuid.NewString(),
		JobID:      jobID,
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	select {
	case c.events <- ev:
	default:
		slog.Warn("watcher queue full, dropping event",
			"job_id", jobID,
			"event_kind", kind,
			"delivery_id", ev.DeliveryID,
		)
	}
}

// deliver POSTs one event, retrying transient failures. A 4xx response is
// permanent: the watcher understood us and said no.
func (c *Client) deliver(ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(context.Background(),
			http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("watcher rejected event: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("watcher returned status %d", resp.StatusCode)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1))); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Compile-time check that Client implements Notifier.
var _ Notifier = (*Client)(nil)
