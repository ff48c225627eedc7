package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the broadcast audio service
type Metrics struct {
	// Audio input metrics
	PacketsReceived prometheus.Counter
	PacketsDropped  prometheus.Counter
	SourceBuffer    prometheus.Gauge
	InputLevel      prometheus.Gauge

	// Broadcast lifecycle metrics
	ActiveBroadcasts    prometheus.Gauge
	StreamingBroadcasts prometheus.Gauge
	BroadcastsCreated   prometheus.Counter
	BroadcastsFailed    prometheus.Counter
	BroadcastsDestroyed prometheus.Counter
	StateChanges        *prometheus.CounterVec

	// ISO transport metrics
	AudioFrames    prometheus.Counter
	AudioFrameSize prometheus.Histogram
	IsoSendErrors  prometheus.Counter

	// Notification metrics
	NotificationsSent    prometheus.Counter
	NotificationFailures prometheus.Counter
	NotificationRetries  prometheus.Counter
	NotificationDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Audio input metrics
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_audio_packets_received_total",
			Help: "Total number of audio packets received",
		}),
		PacketsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_audio_packets_dropped_total",
			Help: "Total number of audio packets dropped",
		}),
		SourceBuffer: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bcast_source_buffer_bytes",
			Help: "Current number of buffered PCM bytes awaiting framing",
		}),
		InputLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bcast_source_input_level",
			Help: "Smoothed RMS level of the incoming PCM signal (0.0-1.0)",
		}),

		// Broadcast lifecycle metrics
		ActiveBroadcasts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bcast_active_broadcasts",
			Help: "Current number of created broadcasts",
		}),
		StreamingBroadcasts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bcast_streaming_broadcasts",
			Help: "Current number of streaming broadcasts",
		}),
		BroadcastsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_broadcasts_created_total",
			Help: "Total number of broadcasts created",
		}),
		BroadcastsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_broadcast_create_failures_total",
			Help: "Total number of failed broadcast creations",
		}),
		BroadcastsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_broadcasts_destroyed_total",
			Help: "Total number of broadcasts destroyed",
		}),
		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bcast_state_changes_total",
			Help: "Total number of broadcast state transitions",
		}, []string{"state"}),

		// ISO transport metrics
		AudioFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_audio_frames_total",
			Help: "Total number of PCM frames dispatched to ISO streams",
		}),
		AudioFrameSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bcast_audio_frame_size_bytes",
			Help:    "Size of dispatched PCM frames in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8), // 64B to ~8KB
		}),
		IsoSendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_iso_send_errors_total",
			Help: "Total number of ISO data send errors",
		}),

		// Notification metrics
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_notifications_sent_total",
			Help: "Total number of event notifications delivered",
		}),
		NotificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_notification_failures_total",
			Help: "Total number of failed event notifications",
		}),
		NotificationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bcast_notification_retries_total",
			Help: "Total number of event notification retries",
		}),
		NotificationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bcast_notification_duration_seconds",
			Help:    "Duration of event notification deliveries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bcast_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bcast_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bcast_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketDropped increments the packets dropped counter
func (m *Metrics) RecordPacketDropped() {
	m.PacketsDropped.Inc()
}

// SetSourceBufferBytes sets the current source buffer fill level
func (m *Metrics) SetSourceBufferBytes(size int) {
	m.SourceBuffer.Set(float64(size))
}

// SetInputLevel sets the smoothed RMS level of the incoming signal
func (m *Metrics) SetInputLevel(level float64) {
	m.InputLevel.Set(level)
}

// SetActiveBroadcasts sets the current number of created broadcasts
func (m *Metrics) SetActiveBroadcasts(count int) {
	m.ActiveBroadcasts.Set(float64(count))
}

// SetStreamingBroadcasts sets the current number of streaming broadcasts
func (m *Metrics) SetStreamingBroadcasts(count int) {
	m.StreamingBroadcasts.Set(float64(count))
}

// RecordBroadcastCreated increments the broadcasts created counter
func (m *Metrics) RecordBroadcastCreated() {
	m.BroadcastsCreated.Inc()
}

// RecordBroadcastCreateFailed increments the broadcast creation failures counter
func (m *Metrics) RecordBroadcastCreateFailed() {
	m.BroadcastsFailed.Inc()
}

// RecordBroadcastDestroyed increments the broadcasts destroyed counter
func (m *Metrics) RecordBroadcastDestroyed() {
	m.BroadcastsDestroyed.Inc()
}

// RecordStateChange counts a broadcast state transition
func (m *Metrics) RecordStateChange(state string) {
	m.StateChanges.WithLabelValues(state).Inc()
}

// RecordAudioFrame records a PCM frame dispatched to the ISO streams
func (m *Metrics) RecordAudioFrame(sizeBytes int) {
	m.AudioFrames.Inc()
	m.AudioFrameSize.Observe(float64(sizeBytes))
}

// RecordIsoSendError increments the ISO send errors counter
func (m *Metrics) RecordIsoSendError() {
	m.IsoSendErrors.Inc()
}

// RecordNotificationSent records a delivered event notification
func (m *Metrics) RecordNotificationSent(durationSeconds float64) {
	m.NotificationsSent.Inc()
	m.NotificationDuration.Observe(durationSeconds)
}

// RecordNotificationFailure records a failed event notification
func (m *Metrics) RecordNotificationFailure(durationSeconds float64) {
	m.NotificationFailures.Inc()
	m.NotificationDuration.Observe(durationSeconds)
}

// RecordNotificationRetry increments the notification retry counter
func (m *Metrics) RecordNotificationRetry() {
	m.NotificationRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
