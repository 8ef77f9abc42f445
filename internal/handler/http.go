package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/grip-leaderboard/internal/leaderboard"
	"github.com/grip-leaderboard/internal/service"
	"github.com/grip-leaderboard/internal/submission"
	"github.com/grip-leaderboard/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresher runs a poll on demand
type Refresher interface {
	RunOnce(ctx context.Context) []domain.LogEntry
}

// Ranking serves strength rankings from a shared store
type Ranking interface {
	GetTopN(ctx context.Context, queryID string, dataset domain.Dataset, n int) ([]domain.LogEntry, error)
	Rebuild(ctx context.Context, queryID string, entries []domain.LogEntry) error
}

// Counter reports how many entries a store holds for a query id
type Counter interface {
	Name() string
	CountEntries(ctx context.Context, queryID string) (int64, error)
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck interface {
	Name() string
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service   *service.LeaderboardService
	builder   *submission.Builder
	refresher Refresher
	hub       *websocket.Hub
	gatherer  prometheus.Gatherer
	ranking   Ranking
	checks    []ReadinessCheck
	counters  []Counter
	logger    *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	service *service.LeaderboardService,
	builder *submission.Builder,
	refresher Refresher,
	hub *websocket.Hub,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:   service,
		builder:   builder,
		refresher: refresher,
		hub:       hub,
		gatherer:  gatherer,
		logger:    logger,
	}
}

// SetRanking serves /leaderboard/top from ranking instead of the in-memory log
func (h *Handler) SetRanking(ranking Ranking) {
	h.ranking = ranking
}

// AddReadinessCheck adds a dependency checked by /ready
func (h *Handler) AddReadinessCheck(check ReadinessCheck) {
	h.checks = append(h.checks, check)
}

// AddCounter adds a store whose entry count is reported by /leaderboard/status
func (h *Handler) AddCounter(counter Counter) {
	h.counters = append(h.counters, counter)
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LeaderboardResponse is the body of a leaderboard view
type LeaderboardResponse struct {
	QueryID string             `json:"query_id"`
	Dataset domain.Dataset     `json:"dataset"`
	SortBy  domain.SortField   `json:"sort"`
	Order   domain.SortOrder   `json:"order"`
	Count   int                `json:"count"`
	Entries []domain.LogEntry  `json:"entries"`
	Status  *domain.PollStatus `json:"status,omitempty"`
}

// StatusResponse is the poll status together with the entry count of each
// store that answered
type StatusResponse struct {
	domain.PollStatus
	Stored map[string]int64 `json:"stored,omitempty"`
}

// EncodeRequest is the body of an encode request
type EncodeRequest struct {
	domain.Form
	From string `json:"from,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", h.GetLeaderboard)
			r.Get("/top", h.GetTop)
			r.Get("/status", h.GetStatus)
			r.Post("/refresh", h.Refresh)
		})

		r.Post("/submissions/encode", h.Encode)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.service.QueryID(), h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"total_connections": h.hub.GetTotalConnections(),
		"subscribers":       h.hub.GetSubscriberCount(h.service.QueryID()),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", check.Name(), "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Data:    map[string]string{"status": "not ready", "dependency": check.Name()},
				Error:   err.Error(),
			})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetLeaderboard returns a filtered and sorted view of the leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	view, err := parseView(r, h.service.DefaultView())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entries := h.service.Entries(view)
	status := h.service.Status()
	h.writeSuccess(w, LeaderboardResponse{
		QueryID: h.service.QueryID(),
		Dataset: view.Dataset,
		SortBy:  view.SortBy,
		Order:   view.Order,
		Count:   len(entries),
		Entries: entries,
		Status:  &status,
	})
}

// GetTop returns the strongest entries of a dataset
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	defaults := leaderboard.View{
		Dataset: domain.DatasetAll,
		SortBy:  domain.SortByStrength,
		Order:   domain.SortOrderDesc,
		Limit:   10,
	}
	view, err := parseView(r, defaults)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	view.SortBy, view.Order = domain.SortByStrength, domain.SortOrderDesc
	if view.Limit == 0 {
		view.Limit = defaults.Limit
	}
	dataset, limit := view.Dataset, view.Limit

	entries := []domain.LogEntry(nil)
	if h.ranking != nil {
		ranked, err := h.ranking.GetTopN(r.Context(), h.service.QueryID(), dataset, limit)
		if err != nil {
			h.logger.Warn("failed to read ranking, using in-memory log", "error", err)
		} else {
			entries = ranked
		}
	}
	if entries == nil {
		entries = h.service.Entries(view)
	}

	h.writeSuccess(w, LeaderboardResponse{
		QueryID: h.service.QueryID(),
		Dataset: dataset,
		SortBy:  view.SortBy,
		Order:   view.Order,
		Count:   len(entries),
		Entries: entries,
	})
}

// GetStatus returns the outcome of the most recent poll
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{PollStatus: h.service.Status()}
	if len(h.counters) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp.Stored = make(map[string]int64, len(h.counters))
		for _, counter := range h.counters {
			count, err := counter.CountEntries(ctx, h.service.QueryID())
			if err != nil {
				h.logger.Warn("failed to count stored entries", "store", counter.Name(), "error", err)
				continue
			}
			resp.Stored[counter.Name()] = count
		}
	}
	h.writeSuccess(w, resp)
}

// RebuildRanking replaces the shared ranking with the contents of the
// in-memory log
func (h *Handler) RebuildRanking(w http.ResponseWriter, r *http.Request) {
	if h.ranking == nil {
		h.writeError(w, http.StatusServiceUnavailable, errNoRanking)
		return
	}

	entries := h.service.AllEntries()
	if err := h.ranking.Rebuild(r.Context(), h.service.QueryID(), entries); err != nil {
		h.logger.Error("failed to rebuild ranking", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.logger.Info("rebuilt ranking", "query_id", h.service.QueryID(), "entries", len(entries))
	h.writeSuccess(w, map[string]int{"entries": len(entries)})
}

// Refresh runs a poll immediately
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	added := h.refresher.RunOnce(r.Context())
	h.writeSuccess(w, map[string]any{
		"added":  len(added),
		"status": h.service.Status(),
	})
}

// Encode validates a submission form and returns its payload together with
// the wallet message and CLI command that submit it
func (h *Handler) Encode(w http.ResponseWriter, r *http.Request) {
	var req EncodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	payload, err := h.builder.Build(req.Form, req.From)
	if err != nil {
		if domain.IsValidationError(err) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("failed to encode submission", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, payload)
}

var (
	errInvalidView = errors.New("invalid leaderboard view")
	errNoRanking   = errors.New("no ranking store configured")
)

// parseView reads the dataset, sort, order and limit query parameters
func parseView(r *http.Request, defaults leaderboard.View) (leaderboard.View, error) {
	q := r.URL.Query()
	view := defaults

	if v := q.Get("dataset"); v != "" {
		dataset := domain.Dataset(v)
		if !dataset.Valid() {
			return view, errInvalidView
		}
		view.Dataset = dataset
	}

	if v := q.Get("sort"); v != "" {
		field := domain.SortField(v)
		if !field.Valid() {
			return view, errInvalidView
		}
		view.SortBy = field
	}

	if v := q.Get("order"); v != "" {
		order := domain.SortOrder(v)
		if order != domain.SortOrderAsc && order != domain.SortOrderDesc {
			return view, errInvalidView
		}
		view.Order = order
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return view, errInvalidView
		}
		view.Limit = limit
	}

	return view, nil
}
