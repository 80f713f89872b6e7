// Package web exposes the HTTP control surface and the websocket feeds.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vdetect/streamguard/internal/hub"
	"github.com/vdetect/streamguard/internal/inference"
	"github.com/vdetect/streamguard/internal/notify"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/internal/store"
	"github.com/vdetect/streamguard/internal/stream"
)

// Config defines the runtime configuration for the web server.
type Config struct {
	Addr           string
	AllowedOrigin  string
	StreamInterval time.Duration // per-client frame cadence on /stream/{id}
}

// DefaultConfig returns the defaults used by cmd/server.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8003",
		AllowedOrigin:  "http://localhost:3000",
		StreamInterval: 40 * time.Millisecond, // 25 fps
	}
}

// Server serves the control API, /ws and /stream/{id}.
type Server struct {
	cfg       Config
	sets      *settings.Store
	registry  *stream.Registry
	hub       *hub.Hub
	engine    *notify.Engine
	store     *store.Store // optional
	telegram  *notify.Telegram
	startTime time.Time
}

// NewServer wires a server over the core components.
func NewServer(cfg Config, sets *settings.Store, registry *stream.Registry, h *hub.Hub, engine *notify.Engine, st *store.Store, telegram *notify.Telegram) *Server {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = DefaultConfig().StreamInterval
	}
	return &Server{
		cfg:       cfg,
		sets:      sets,
		registry:  registry,
		hub:       h,
		engine:    engine,
		store:     st,
		telegram:  telegram,
		startTime: time.Now(),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("POST /api/streams", s.handleAddStream)
	mux.HandleFunc("DELETE /api/streams/{id}", s.handleRemoveStream)
	mux.HandleFunc("POST /api/streams/{id}/start", s.handleStartStream)
	mux.HandleFunc("POST /api/streams/{id}/stop", s.handleStopStream)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/detections", s.handleDetections)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/settings/telegram", s.handleGetTelegramSettings)
	mux.HandleFunc("POST /api/settings/telegram", s.handleUpdateTelegramSettings)
	mux.HandleFunc("POST /api/settings/telegram/test", s.handleTestTelegram)

	mux.HandleFunc("GET /api/detections/history", s.handleDetectionHistory)
	mux.HandleFunc("POST /api/detections/{id}/acknowledge", s.handleAcknowledgeDetection)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
	mux.HandleFunc("GET /api/statistics", s.handleStatistics)
	mux.HandleFunc("POST /api/cleanup", s.handleCleanup)

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/stream/{id}", s.handleStreamWS)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"message": "Stream Violence Detection API",
		"version": "1.0.0",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.Count(),
		"streams":     s.registry.Count(),
	})
}

type addStreamRequest struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.ListStatus())
}

func (s *Server) handleAddStream(w http.ResponseWriter, r *http.Request) {
	var req addStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "id and url are required")
		return
	}
	if s.registry.Count() >= s.sets.Snapshot().MaxStreams {
		writeError(w, http.StatusBadRequest, "stream limit reached")
		return
	}
	if err := s.registry.Add(req.ID, req.URL, req.Name); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.recordEvent("stream_add", fmt.Sprintf("Stream %s added", req.ID))
	writeJSON(w, map[string]any{"message": fmt.Sprintf("Stream %s added successfully", req.ID)})
}

func (s *Server) handleRemoveStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Remove(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.recordEvent("stream_remove", fmt.Sprintf("Stream %s removed", id))
	writeJSON(w, map[string]any{"message": fmt.Sprintf("Stream %s removed successfully", id)})
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Start(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.recordEvent("stream_start", fmt.Sprintf("Detection started for %s", id))
	writeJSON(w, map[string]any{"message": fmt.Sprintf("Detection started for %s", id)})
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Stop(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.recordEvent("stream_stop", fmt.Sprintf("Detection stopped for %s", id))
	writeJSON(w, map[string]any{"message": fmt.Sprintf("Detection stopped for %s", id)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sets.Snapshot()
	backend := inference.NewClient(snap.InferenceURL, snap.ModelName, snap.ModelVersion)
	writeJSON(w, map[string]any{
		"inference_backend": backend.IsHealthy(),
		"active_streams":    s.registry.ActiveCount(),
		"total_streams":     s.registry.Count(),
		"open_episodes":     s.engine.OpenEpisodes(),
		"subscribers":       s.hub.Count(),
		"uptime":            time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	results := s.registry.DrainResults()
	if len(results) > limit {
		results = results[:limit]
	}
	writeJSON(w, results)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sets.Snapshot())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "malformed settings payload")
		return
	}
	if err := s.sets.Update(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "Settings updated successfully"})
}

func (s *Server) handleGetTelegramSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sets.Snapshot().Telegram)
}

func (s *Server) handleUpdateTelegramSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Telegram
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "malformed telegram settings payload")
		return
	}
	if err := s.sets.UpdateTelegram(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "Telegram settings updated successfully"})
}

func (s *Server) handleTestTelegram(w http.ResponseWriter, r *http.Request) {
	if s.telegram == nil {
		writeError(w, http.StatusServiceUnavailable, "Telegram transport not ready")
		return
	}
	if err := s.telegram.TestConnection(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = s.telegram.Send(fmt.Sprintf("Telegram connection test successful\nTime: %s",
		time.Now().Format("2006-01-02 15:04:05")), "")
	writeJSON(w, map[string]any{"message": "Telegram connection test successful"})
}

func (s *Server) handleDetectionHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not available")
		return
	}
	filter := store.DetectionFilter{
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
		StreamID: r.URL.Query().Get("stream_id"),
	}
	if v := r.URL.Query().Get("is_violence"); v != "" {
		b := v == "true"
		filter.IsViolence = &b
	}

	rows, err := s.store.Detections(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"detections": rows})
}

func (s *Server) handleAcknowledgeDetection(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not available")
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid detection id")
		return
	}
	ok, err := s.store.AcknowledgeDetection(uint(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Detection not found")
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "Detection acknowledged"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not available")
		return
	}
	filter := store.AlertFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
		Type:   r.URL.Query().Get("alert_type"),
	}
	if v := r.URL.Query().Get("acknowledged"); v != "" {
		b := v == "true"
		filter.Acknowledged = &b
	}

	rows, err := s.store.Alerts(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"alerts": rows})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not available")
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	by := r.URL.Query().Get("acknowledged_by")
	if by == "" {
		by = "system"
	}
	ok, err := s.store.AcknowledgeAlert(uint(id), by)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "Alert acknowledged"})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not available")
		return
	}
	stats, err := s.store.GetStatistics(queryInt(r, "days", 7))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not available")
		return
	}
	days := queryInt(r, "days", 30)
	result, err := s.store.Cleanup(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Cleaned up data older than %d days", days),
		"deleted": result,
	})
}

func (s *Server) recordEvent(eventType, message string) {
	if s.store == nil {
		return
	}
	_ = s.store.SaveSystemEvent(eventType, message, "")
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONWithStatus(w, map[string]any{"error": message}, status)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
