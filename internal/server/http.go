package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/announce"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/broadcast"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/config"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/ltv"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/metrics"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/notify"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/source"
)

// HTTPServer provides HTTP API endpoints for broadcast management and
// monitoring
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	manager  *broadcast.Manager
	source   *source.UDPSource
	notifier *notify.Notifier
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. The audio source and the
// notifier are optional; without them the corresponding statistics are
// omitted from responses.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	manager *broadcast.Manager, src *source.UDPSource, notifier *notify.Notifier, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		source:    src,
		notifier:  notifier,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Broadcast management endpoints
	mux.HandleFunc("/api/v1/broadcasts", h.withMetrics("/api/v1/broadcasts", h.handleBroadcasts))
	mux.HandleFunc("/api/v1/broadcasts/", h.withMetrics("/api/v1/broadcasts/{id}", h.handleBroadcastDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// Handler returns the route multiplexer, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// createBroadcastRequest is the JSON body of POST /api/v1/broadcasts
type createBroadcastRequest struct {
	Name          string            `json:"name"`
	Public        bool              `json:"public"`
	BroadcastCode string            `json:"broadcast_code"`
	ProgramInfo   string            `json:"program_info"`
	Subgroups     []subgroupRequest `json:"subgroups"`
}

// updateBroadcastRequest is the JSON body of PUT /api/v1/broadcasts/{id}
type updateBroadcastRequest struct {
	Name        string            `json:"name"`
	ProgramInfo string            `json:"program_info"`
	Subgroups   []subgroupRequest `json:"subgroups"`
}

type subgroupRequest struct {
	Quality     string `json:"quality"`
	Context     string `json:"context"`
	ProgramInfo string `json:"program_info"`
	Language    string `json:"language"`
}

// audioContexts maps API context names onto streaming audio context bits.
var audioContexts = map[string]announce.AudioContext{
	"unspecified":     announce.ContextUnspecified,
	"conversational":  announce.ContextConversational,
	"media":           announce.ContextMedia,
	"game":            announce.ContextGame,
	"instructional":   announce.ContextInstructional,
	"voice_assistant": announce.ContextVoiceAssistant,
	"live":            announce.ContextLive,
	"sound_effects":   announce.ContextSoundEffects,
	"notifications":   announce.ContextNotifications,
	"ringtone":        announce.ContextRingtone,
	"alerts":          announce.ContextAlerts,
	"emergency_alarm": announce.ContextEmergencyAlarm,
}

// handleBroadcasts implements the /api/v1/broadcasts collection endpoint
func (h *HTTPServer) handleBroadcasts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBroadcasts(w, r)
	case http.MethodPost:
		h.createBroadcast(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	states := h.manager.States()
	ids := make([]broadcast.BroadcastID, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	broadcasts := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		if meta, found := h.manager.Metadata(id); found {
			broadcasts = append(broadcasts, broadcastSummary(meta))
		}
	}

	response := map[string]interface{}{
		"total_broadcasts": len(broadcasts),
		"timestamp":        time.Now().UTC(),
		"broadcasts":       broadcasts,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *HTTPServer) createBroadcast(w http.ResponseWriter, r *http.Request) {
	var in createBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	req, err := buildCreateRequest(in)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.manager.CreateBroadcast(req)
	if err != nil {
		h.respondOpError(w, err)
		return
	}

	// Creation may still be queued behind foreign ISO traffic; report the
	// state only once the broadcast is registered.
	response := map[string]interface{}{
		"broadcast_id": id.String(),
		"state":        "PENDING",
	}
	if meta, found := h.manager.Metadata(id); found {
		response["state"] = meta.State.String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// handleBroadcastDetail implements the /api/v1/broadcasts/{id} endpoints,
// including the start, stop and suspend actions.
func (h *HTTPServer) handleBroadcastDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/broadcasts/")
	if rest == "" {
		http.Error(w, "Broadcast ID required", http.StatusBadRequest)
		return
	}
	parts := strings.Split(rest, "/")

	id, err := parseBroadcastID(parts[0])
	if err != nil {
		http.Error(w, "Invalid broadcast ID", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		h.handleBroadcastItem(w, r, id)
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleBroadcastAction(w, r, id, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTPServer) handleBroadcastItem(w http.ResponseWriter, r *http.Request, id broadcast.BroadcastID) {
	switch r.Method {
	case http.MethodGet:
		meta, found := h.manager.Metadata(id)
		if !found {
			http.Error(w, "Broadcast not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(broadcastDetail(meta))

	case http.MethodPut:
		h.updateBroadcast(w, r, id)

	case http.MethodDelete:
		if err := h.manager.Destroy(id); err != nil {
			h.respondOpError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"broadcast_id": id.String(),
			"status":       "destroyed",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleBroadcastAction(w http.ResponseWriter, r *http.Request, id broadcast.BroadcastID, action string) {
	var err error
	var status string
	switch action {
	case "start":
		err = h.manager.Start(id)
		status = "starting"
	case "stop":
		err = h.manager.Stop(id)
		status = "stopping"
	case "suspend":
		err = h.manager.Suspend(id)
		status = "suspending"
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.respondOpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"broadcast_id": id.String(),
		"status":       status,
	})
}

func (h *HTTPServer) updateBroadcast(w http.ResponseWriter, r *http.Request, id broadcast.BroadcastID) {
	var in updateBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	public := ltv.New()
	if in.ProgramInfo != "" {
		public.Add(announce.MetadataTypeProgramInfo, []byte(in.ProgramInfo))
	}
	_, subgroups, err := subgroupMetadata(in.Subgroups)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.manager.UpdateMetadata(id, in.Name, public.RawBytes(), subgroups); err != nil {
		h.respondOpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"broadcast_id": id.String(),
		"status":       "updated",
	})
}

// respondOpError translates manager errors into HTTP status codes
func (h *HTTPServer) respondOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broadcast.ErrNotFound):
		http.Error(w, "Broadcast not found", http.StatusNotFound)
	case errors.Is(err, broadcast.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, broadcast.ErrClosed):
		http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func parseBroadcastID(s string) (broadcast.BroadcastID, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return broadcast.BroadcastIDInvalid, err
	}
	if v > 0xFFFFFF {
		return broadcast.BroadcastIDInvalid, fmt.Errorf("broadcast ID %#x exceeds 24 bits", v)
	}
	return broadcast.BroadcastID(v), nil
}

// buildCreateRequest translates the API request into a manager create
// request, building the announcement metadata LTV blobs.
func buildCreateRequest(in createBroadcastRequest) (broadcast.CreateRequest, error) {
	req := broadcast.CreateRequest{
		IsPublic: in.Public,
		Name:     in.Name,
	}

	if in.BroadcastCode != "" {
		if len(in.BroadcastCode) < 4 || len(in.BroadcastCode) > 16 {
			return req, fmt.Errorf("broadcast code must be 4 to 16 bytes, got %d", len(in.BroadcastCode))
		}
		var code [16]byte
		copy(code[:], in.BroadcastCode)
		req.Code = &code
	}

	if in.Public {
		public := ltv.New()
		if in.ProgramInfo != "" {
			public.Add(announce.MetadataTypeProgramInfo, []byte(in.ProgramInfo))
		}
		req.PublicMetadata = public.RawBytes()
	}

	qualities, metadata, err := subgroupMetadata(in.Subgroups)
	if err != nil {
		return req, err
	}
	req.SubgroupQuality = qualities
	req.SubgroupMetadata = metadata

	return req, nil
}

// subgroupMetadata builds one quality preference and one LTV metadata blob
// per requested subgroup. An empty request yields a single MEDIA subgroup.
func subgroupMetadata(subs []subgroupRequest) ([]uint8, [][]byte, error) {
	if len(subs) == 0 {
		subs = []subgroupRequest{{}}
	}

	qualities := make([]uint8, 0, len(subs))
	metadata := make([][]byte, 0, len(subs))
	for i, sub := range subs {
		quality := broadcast.QualityStandard
		switch sub.Quality {
		case "", "standard":
		case "high":
			quality = broadcast.QualityHigh
		default:
			return nil, nil, fmt.Errorf("subgroup %d: unknown quality %q", i, sub.Quality)
		}

		contextType := announce.ContextMedia
		if sub.Context != "" {
			ctx, ok := audioContexts[sub.Context]
			if !ok {
				return nil, nil, fmt.Errorf("subgroup %d: unknown audio context %q", i, sub.Context)
			}
			contextType = ctx
		}

		md := ltv.New().AddUint16(announce.MetadataTypeStreamingAudioContext, uint16(contextType))
		if sub.ProgramInfo != "" {
			md.Add(announce.MetadataTypeProgramInfo, []byte(sub.ProgramInfo))
		}
		if sub.Language != "" {
			if len(sub.Language) != 3 {
				return nil, nil, fmt.Errorf("subgroup %d: language must be a three-letter ISO 639-3 code", i)
			}
			md.Add(announce.MetadataTypeLanguage, []byte(strings.ToLower(sub.Language)))
		}

		qualities = append(qualities, quality)
		metadata = append(metadata, md.RawBytes())
	}

	return qualities, metadata, nil
}

func broadcastSummary(meta broadcast.BroadcastMetadata) map[string]interface{} {
	return map[string]interface{}{
		"broadcast_id": meta.BroadcastID.String(),
		"name":         meta.Name,
		"state":        meta.State.String(),
		"public":       meta.IsPublic,
		"encrypted":    meta.Encrypted,
	}
}

func broadcastDetail(meta broadcast.BroadcastMetadata) map[string]interface{} {
	subgroups := make([]map[string]interface{}, 0, len(meta.Announcement.Subgroups))
	for i := range meta.Announcement.Subgroups {
		sub := &meta.Announcement.Subgroups[i]
		subgroups = append(subgroups, map[string]interface{}{
			"codec":   sub.Codec.String(),
			"num_bis": sub.NumBis(),
		})
	}

	detail := broadcastSummary(meta)
	detail["advertising_sid"] = meta.AdvertisingSID
	detail["pa_interval"] = meta.PaInterval
	detail["address"] = meta.Addr.String()
	detail["address_type"] = meta.AddrType
	detail["presentation_delay_us"] = meta.Announcement.PresentationDelayUs
	detail["subgroups"] = subgroups
	return detail
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	states := h.manager.States()
	streaming := 0
	for _, state := range states {
		if state == broadcast.StateStreaming {
			streaming++
		}
	}

	components := map[string]interface{}{
		"broadcast_manager": map[string]interface{}{
			"status":     "running",
			"broadcasts": len(states),
			"streaming":  streaming,
		},
	}
	if h.source != nil {
		stats := h.source.GetStatistics()
		status := "stopped"
		if stats.Running {
			status = "running"
		}
		components["audio_source"] = map[string]interface{}{
			"status":           status,
			"packets_received": stats.PacketsReceived,
			"packets_dropped":  stats.PacketsDropped,
			"frames_delivered": stats.FramesDelivered,
		}
	}
	if h.notifier != nil {
		stats := h.notifier.GetStats()
		components["notifier"] = map[string]interface{}{
			"status":  "running",
			"sent":    stats.Sent,
			"failed":  stats.Failed,
			"queued":  stats.Queued,
			"dropped": stats.Dropped,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "broadcast-audio-service",
			"version": "1.0.0",
		},
		"components": components,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address":          h.config.Server.Address,
			"shutdown_timeout": h.config.Server.ShutdownTimeout,
		},
		"audio": map[string]interface{}{
			"listen_address":    h.config.Audio.ListenAddress,
			"read_buffer_bytes": h.config.Audio.ReadBufferBytes,
			"queue_size":        h.config.Audio.QueueSize,
			"buffer_max_ms":     h.config.Audio.BufferMaxMs,
			"silence_threshold": h.config.Audio.SilenceThreshold,
			"silence_hold":      h.config.Audio.SilenceHold,
			"capture_dir":       h.config.Audio.CaptureDir,
		},
		"broadcast": map[string]interface{}{
			"preset":              h.config.Broadcast.Preset,
			"streaming_phy":       h.config.Broadcast.StreamingPhy,
			"pa_interval_min":     h.config.Broadcast.PaIntervalMin,
			"pa_interval_max":     h.config.Broadcast.PaIntervalMax,
			"completion_delay_ms": h.config.Broadcast.CompletionDelayMs,
		},
		"notify": map[string]interface{}{
			"timeout":     h.config.Notify.Timeout,
			"max_retries": h.config.Notify.MaxRetries,
			"queue_size":  h.config.Notify.QueueSize,
			// Note: webhook URL is intentionally omitted, it may embed credentials
			"webhook_configured": h.config.Notify.WebhookURL != "",
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	states := h.manager.States()
	streaming := 0
	byID := make(map[string]string, len(states))
	for id, state := range states {
		if state == broadcast.StateStreaming {
			streaming++
		}
		byID[id.String()] = state.String()
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"broadcasts": map[string]interface{}{
			"total":     len(states),
			"streaming": streaming,
			"states":    byID,
		},
	}
	if h.source != nil {
		stats["audio_source"] = h.source.GetStatistics()
	}
	if h.notifier != nil {
		stats["notifier"] = h.notifier.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Broadcast Audio Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                                "API documentation",
			"GET /health":                          "Service health check",
			"GET /api/v1/broadcasts":               "List all broadcasts",
			"POST /api/v1/broadcasts":              "Create a broadcast",
			"GET /api/v1/broadcasts/{id}":          "Get detailed broadcast information",
			"PUT /api/v1/broadcasts/{id}":          "Update broadcast metadata",
			"DELETE /api/v1/broadcasts/{id}":       "Destroy a broadcast",
			"POST /api/v1/broadcasts/{id}/start":   "Start streaming",
			"POST /api/v1/broadcasts/{id}/stop":    "Stop streaming and disable the announcement",
			"POST /api/v1/broadcasts/{id}/suspend": "Suspend streaming, keeping the announcement",
			"GET /config":                          "Get service configuration",
			"GET /stats":                           "Get service statistics",
			"GET /metrics":                         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
