package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/broadcast"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/metrics"
)

// Event types posted to the webhook.
const (
	EventCreated         = "broadcast_created"
	EventCreateFailed    = "broadcast_create_failed"
	EventStateChanged    = "broadcast_state_changed"
	EventMetadataChanged = "broadcast_metadata_changed"
	EventDestroyed       = "broadcast_destroyed"
)

const maxBackoff = 30 * time.Second

// Event is one lifecycle notification serialized to the webhook.
type Event struct {
	Type        string    `json:"type"`
	BroadcastID string    `json:"broadcast_id"`
	State       string    `json:"state,omitempty"`
	Name        string    `json:"name,omitempty"`
	Public      bool      `json:"public,omitempty"`
	Encrypted   bool      `json:"encrypted,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Config contains webhook client configuration
type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	QueueSize  int
}

// Notifier queues broadcast lifecycle events and posts them to a webhook.
// It satisfies the manager's event sink contract: enqueueing never blocks
// and never calls back into the manager.
type Notifier struct {
	config      Config
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	backoffBase time.Duration

	events chan Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// Statistics
	sent    uint64
	failed  uint64
	retries uint64
	dropped uint64
	statsMu sync.RWMutex
}

// NotifierStats represents notifier statistics
type NotifierStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Retries uint64 `json:"retries"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

var _ broadcast.EventSink = (*Notifier)(nil)

// NewNotifier creates a webhook notifier and starts its delivery worker.
// Metrics may be nil.
func NewNotifier(config Config, logger *slog.Logger, m *metrics.Metrics) (*Notifier, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	n := &Notifier{
		config:      config,
		httpClient:  httpClient,
		logger:      logger,
		metrics:     m,
		backoffBase: time.Second,
		events:      make(chan Event, config.QueueSize),
	}

	n.wg.Add(1)
	go n.run()

	return n, nil
}

// OnBroadcastCreated queues a creation outcome event.
func (n *Notifier) OnBroadcastCreated(id broadcast.BroadcastID, ok bool) {
	eventType := EventCreated
	if !ok {
		eventType = EventCreateFailed
	}
	n.enqueue(Event{
		Type:        eventType,
		BroadcastID: id.String(),
		Timestamp:   time.Now(),
	})
}

// OnBroadcastDestroyed queues a destruction event.
func (n *Notifier) OnBroadcastDestroyed(id broadcast.BroadcastID) {
	n.enqueue(Event{
		Type:        EventDestroyed,
		BroadcastID: id.String(),
		Timestamp:   time.Now(),
	})
}

// OnBroadcastStateChanged queues a state transition event.
func (n *Notifier) OnBroadcastStateChanged(id broadcast.BroadcastID, state broadcast.State) {
	n.enqueue(Event{
		Type:        EventStateChanged,
		BroadcastID: id.String(),
		State:       state.String(),
		Timestamp:   time.Now(),
	})
}

// OnBroadcastMetadataChanged queues a metadata snapshot event.
func (n *Notifier) OnBroadcastMetadataChanged(id broadcast.BroadcastID, meta broadcast.BroadcastMetadata) {
	n.enqueue(Event{
		Type:        EventMetadataChanged,
		BroadcastID: id.String(),
		State:       meta.State.String(),
		Name:        meta.Name,
		Public:      meta.IsPublic,
		Encrypted:   meta.Encrypted,
		Timestamp:   time.Now(),
	})
}

// enqueue adds an event to the delivery queue without ever blocking the
// caller. A full queue sheds its oldest event first.
func (n *Notifier) enqueue(event Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	for {
		select {
		case n.events <- event:
			return
		default:
		}

		select {
		case dropped := <-n.events:
			n.statsMu.Lock()
			n.dropped++
			n.statsMu.Unlock()
			n.logger.Warn("Notification queue full, dropping oldest event",
				slog.String("dropped_type", dropped.Type),
				slog.String("dropped_broadcast_id", dropped.BroadcastID))
		default:
		}
	}
}

// run delivers queued events until the queue is closed.
func (n *Notifier) run() {
	defer n.wg.Done()

	for event := range n.events {
		n.send(event)
	}
}

// send posts one event, retrying transient failures with exponential backoff.
func (n *Notifier) send(event Event) {
	startTime := time.Now()

	var lastErr error
	for attempt := 0; attempt <= n.config.MaxRetries; attempt++ {
		if attempt > 0 {
			n.statsMu.Lock()
			n.retries++
			n.statsMu.Unlock()
			if n.metrics != nil {
				n.metrics.RecordNotificationRetry()
			}

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * n.backoffBase
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			time.Sleep(backoff)
		}

		err := n.post(event)
		if err == nil {
			n.statsMu.Lock()
			n.sent++
			n.statsMu.Unlock()
			if n.metrics != nil {
				n.metrics.RecordNotificationSent(time.Since(startTime).Seconds())
			}
			return
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	n.statsMu.Lock()
	n.failed++
	n.statsMu.Unlock()
	if n.metrics != nil {
		n.metrics.RecordNotificationFailure(time.Since(startTime).Seconds())
	}
	n.logger.Error("Failed to deliver notification",
		slog.String("type", event.Type),
		slog.String("broadcast_id", event.BroadcastID),
		slog.String("error", lastErr.Error()))
}

// post performs a single webhook request.
func (n *Notifier) post(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequest("POST", n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Broadcast-Audio-Service/1.0")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// isRetryableError determines if a delivery error is worth another attempt.
func isRetryableError(err error) bool {
	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable.
	if bytes.Contains([]byte(errStr), []byte("HTTP error 5")) {
		return true
	}
	if bytes.Contains([]byte(errStr), []byte("HTTP error 429")) {
		return true
	}

	// Network and connection errors are typically retryable.
	if bytes.Contains([]byte(errStr), []byte("connection")) ||
		bytes.Contains([]byte(errStr), []byte("timeout")) ||
		bytes.Contains([]byte(errStr), []byte("refused")) {
		return true
	}

	return false
}

// GetStats returns current notifier statistics
func (n *Notifier) GetStats() NotifierStats {
	n.statsMu.RLock()
	defer n.statsMu.RUnlock()

	return NotifierStats{
		Sent:    n.sent,
		Failed:  n.failed,
		Retries: n.retries,
		Dropped: n.dropped,
		Queued:  len(n.events),
	}
}

// Close drains the queue, delivers what remains, and stops the worker.
// It must not be called while producers are still active.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()

	n.wg.Wait()
}
