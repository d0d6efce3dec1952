package watcher_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/modelforge/scoregate/internal/config"
	"github.com/modelforge/scoregate/internal/watcher"
	"github.com/modelforge/scoregate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventSink is a watcher endpoint that records every event it accepts and
// can be told to fail the first n requests.
type eventSink struct {
	mu       sync.Mutex
	events   []models.Event
	failNext int
	status   int
}

func (s *eventSink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failNext > 0 {
			s.failNext--
			w.WriteHeader(s.status)
			return
		}
		var ev models.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.events = append(s.events, ev)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *eventSink) recorded() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newTestClient(t *testing.T, url string, attempts int) *watcher.Client {
	t.Helper()
	c := watcher.NewClient(config.WatcherConfig{
		URL:         url,
		Timeout:     2 * time.Second,
		MaxAttempts: attempts,
	}, watcher.WithRetryInterval(time.Millisecond))
	c.Start()
	return c
}

func TestNotify_DeliversEvent(t *testing.T) {
	sink := &eventSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	c.Notify("job-1", models.EventStarted, nil)
	c.Close()

	events := sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "job-1", events[0].JobID)
	assert.Equal(t, models.EventStarted, events[0].Kind)
	assert.NotEmpty(t, events[0].DeliveryID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestNotify_OrderPreserved(t *testing.T) {
	sink := &eventSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	c.Notify("job-1", models.EventStarted, nil)
	c.Notify("job-1", models.EventProgress, map[string]string{"message": "halfway"})
	c.Notify("job-1", models.EventCompleted, models.Result{Score: 50})
	c.Close()

	events := sink.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, models.EventStarted, events[0].Kind)
	assert.Equal(t, models.EventProgress, events[1].Kind)
	assert.Equal(t, models.EventCompleted, events[2].Kind)
}

func TestNotify_RetriesTransientFailure(t *testing.T) {
	sink := &eventSink{failNext: 2, status: http.StatusInternalServerError}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	c.Notify("job-1", models.EventCompleted, models.Result{Score: 1})
	c.Close()

	events := sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCompleted, events[0].Kind)
}

func TestNotify_DropsAfterRetryExhaustion(t *testing.T) {
	sink := &eventSink{failNext: 10, status: http.StatusInternalServerError}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	c.Notify("job-1", models.EventFailed, nil)
	// Later events still go through once the endpoint recovers.
	sinkRecover := func() {
		sink.mu.Lock()
		sink.failNext = 0
		sink.mu.Unlock()
	}
	sinkRecover()
	c.Notify("job-2", models.EventStarted, nil)
	c.Close()

	events := sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "job-2", events[0].JobID)
}

func TestNotify_NoRetryOnClientError(t *testing.T) {
	var requests int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	c.Notify("job-1", models.EventStarted, nil)
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, requests)
}

func TestNotify_NeverBlocksWhenWatcherStalls(t *testing.T) {
	// The endpoint holds every request until released, so the dispatcher
	// wedges on its first delivery and the queue fills behind it.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	defer c.Close()
	defer close(release)

	// Far more events than the buffer holds. Enqueue must stay prompt
	// even once the queue is saturated; a caller stuck here would be the
	// executor's stdout drain, and with it the permit pool.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			c.Notify("job-1", models.EventProgress, map[string]string{"message": "tick"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked while the watcher endpoint was stalled")
	}
}

func TestNotify_AfterCloseIsDropped(t *testing.T) {
	sink := &eventSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	c.Close()

	assert.NotPanics(t, func() {
		c.Notify("job-1", models.EventStarted, nil)
	})
	assert.Empty(t, sink.recorded())
}
