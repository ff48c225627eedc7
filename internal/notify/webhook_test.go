package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/broadcast"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// eventRecorder is a webhook endpoint that records decoded events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler(w http.ResponseWriter, req *http.Request) {
	var event Event
	if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) event(i int) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func (r *eventRecorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.events))
	for _, e := range r.events {
		ids = append(ids, e.BroadcastID)
	}
	return ids
}

func newTestNotifier(t *testing.T, url string, queueSize int) *Notifier {
	t.Helper()

	n, err := NewNotifier(Config{
		URL:        url,
		Timeout:    time.Second,
		MaxRetries: 3,
		QueueSize:  queueSize,
	}, testLogger(), nil)
	require.NoError(t, err)
	n.backoffBase = time.Millisecond
	t.Cleanup(n.Close)

	return n
}

func TestNotifierRequiresURL(t *testing.T) {
	_, err := NewNotifier(Config{}, testLogger(), nil)
	require.Error(t, err)
}

func TestNotifierPostsLifecycleEvents(t *testing.T) {
	recorder := &eventRecorder{}
	server := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 16)

	n.OnBroadcastCreated(broadcast.BroadcastID(0x123456), true)
	n.OnBroadcastStateChanged(broadcast.BroadcastID(0x123456), broadcast.StateStreaming)
	n.OnBroadcastDestroyed(broadcast.BroadcastID(0x123456))

	require.Eventually(t, func() bool { return recorder.count() == 3 }, waitFor, tick)

	created := recorder.event(0)
	assert.Equal(t, EventCreated, created.Type)
	assert.Equal(t, "0x123456", created.BroadcastID)
	assert.False(t, created.Timestamp.IsZero())

	stateChanged := recorder.event(1)
	assert.Equal(t, EventStateChanged, stateChanged.Type)
	assert.Equal(t, "STREAMING", stateChanged.State)

	assert.Equal(t, EventDestroyed, recorder.event(2).Type)

	stats := n.GetStats()
	assert.Equal(t, uint64(3), stats.Sent)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestNotifierCreateFailedEvent(t *testing.T) {
	recorder := &eventRecorder{}
	server := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 16)
	n.OnBroadcastCreated(broadcast.BroadcastID(0xABCDEF), false)

	require.Eventually(t, func() bool { return recorder.count() == 1 }, waitFor, tick)
	assert.Equal(t, EventCreateFailed, recorder.event(0).Type)
	assert.Equal(t, "0xABCDEF", recorder.event(0).BroadcastID)
}

func TestNotifierMetadataEvent(t *testing.T) {
	recorder := &eventRecorder{}
	server := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 16)
	n.OnBroadcastMetadataChanged(broadcast.BroadcastID(0x010203), broadcast.BroadcastMetadata{
		BroadcastID: 0x010203,
		IsPublic:    true,
		Name:        "Kitchen radio",
		State:       broadcast.StateConfigured,
		Encrypted:   true,
	})

	require.Eventually(t, func() bool { return recorder.count() == 1 }, waitFor, tick)

	event := recorder.event(0)
	assert.Equal(t, EventMetadataChanged, event.Type)
	assert.Equal(t, "Kitchen radio", event.Name)
	assert.Equal(t, "CONFIGURED", event.State)
	assert.True(t, event.Public)
	assert.True(t, event.Encrypted)
}

func TestNotifierRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		attempts++
		failing := attempts <= 2
		mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 16)
	n.OnBroadcastDestroyed(broadcast.BroadcastID(0x123456))

	require.Eventually(t, func() bool {
		return n.GetStats().Sent == 1
	}, waitFor, tick)

	stats := n.GetStats()
	assert.Equal(t, uint64(2), stats.Retries)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestNotifierGivesUpOnClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 16)
	n.OnBroadcastDestroyed(broadcast.BroadcastID(0x123456))

	require.Eventually(t, func() bool {
		return n.GetStats().Failed == 1
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "4xx responses must not be retried")
	assert.Equal(t, uint64(0), n.GetStats().Retries)
}

func TestNotifierDropsOldestWhenQueueFull(t *testing.T) {
	recorder := &eventRecorder{}
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		select {
		case arrived <- struct{}{}:
			// First request parks until released so the queue can fill.
			<-release
		default:
		}
		recorder.handler(w, req)
	}))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 2)

	n.OnBroadcastDestroyed(broadcast.BroadcastID(1))
	<-arrived

	n.OnBroadcastDestroyed(broadcast.BroadcastID(2))
	n.OnBroadcastDestroyed(broadcast.BroadcastID(3))
	n.OnBroadcastDestroyed(broadcast.BroadcastID(4))

	close(release)

	require.Eventually(t, func() bool { return recorder.count() == 3 }, waitFor, tick)
	assert.Equal(t, []string{"0x000001", "0x000003", "0x000004"}, recorder.ids())
	assert.Equal(t, uint64(1), n.GetStats().Dropped)
}

func TestNotifierCloseDrainsQueue(t *testing.T) {
	recorder := &eventRecorder{}
	server := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer server.Close()

	n := newTestNotifier(t, server.URL, 16)

	n.OnBroadcastDestroyed(broadcast.BroadcastID(1))
	n.OnBroadcastDestroyed(broadcast.BroadcastID(2))

	n.Close()

	assert.Equal(t, 2, recorder.count(), "Close must deliver queued events")

	// Producers after Close are ignored rather than panicking.
	n.OnBroadcastDestroyed(broadcast.BroadcastID(3))
	n.Close()
	assert.Equal(t, 2, recorder.count())
}
