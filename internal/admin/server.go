package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/emperorhan/cca-indexer/internal/pipeline"
	"github.com/emperorhan/cca-indexer/internal/store"
)

const (
	syncPath        = "/api/sync"
	statsPath       = "/api/stats"
	leaderboardPath = "/api/leaderboard"
	reconcilePath   = "/api/reconcile"
	healthPath      = "/healthz"

	secretParam = "secret"
	resetParam  = "reset"
	fromParam   = "from"
	toParam     = "to"
)

// Syncer runs one sync invocation. *pipeline.Pipeline satisfies it.
type Syncer interface {
	Sync(ctx context.Context, req pipeline.SyncRequest) (*pipeline.Summary, error)
}

// HealthProvider reports the scheduler's health. *pipeline.Health satisfies it.
type HealthProvider interface {
	Snapshot() pipeline.HealthSnapshot
}

// Server exposes the sync trigger and the read endpoints.
type Server struct {
	syncer  Syncer
	secret  []byte
	health  HealthProvider
	stats   store.StatsRepository
	wallets store.WalletRepository
	recon   Reconciler
	logger  *slog.Logger
}

type ServerOption func(*Server)

func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

// WithDashboardRepos enables /api/stats and /api/leaderboard.
func WithDashboardRepos(stats store.StatsRepository, wallets store.WalletRepository) ServerOption {
	return func(s *Server) {
		s.stats = stats
		s.wallets = wallets
	}
}

func NewServer(syncer Syncer, secret string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		syncer: syncer,
		secret: []byte(secret),
		logger: logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+syncPath, s.instrument(syncPath, s.handleSync))
	mux.Handle("GET "+statsPath, s.instrument(statsPath, s.handleStats))
	mux.Handle("GET "+leaderboardPath, s.instrument(leaderboardPath, s.handleLeaderboard))
	mux.Handle("GET "+reconcilePath, s.instrument(reconcilePath, s.handleReconcile))
	mux.Handle("GET "+healthPath, s.instrument(healthPath, s.handleHealth))
	return mux
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(sw, r)
		metrics.AdminRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.statusCode)).Inc()
	})
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.secret) == 0 {
		return false
	}
	got := []byte(r.URL.Query().Get(secretParam))
	return subtle.ConstantTimeCompare(got, s.secret) == 1
}

// handleSync authenticates, parses the optional reset block and runs one
// sync. The run is detached from the client connection so a dropped request
// cannot interrupt a ledger write; the pipeline's own timeout bounds it.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req pipeline.SyncRequest
	if raw := strings.TrimSpace(r.URL.Query().Get(resetParam)); raw != "" {
		block, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || block < 0 {
			writeError(w, http.StatusBadRequest, "reset must be a non-negative block number")
			return
		}
		req.ResetTo = &block
	}

	summary, err := s.syncer.Sync(context.WithoutCancel(r.Context()), req)
	switch {
	case errors.Is(err, pipeline.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil && summary != nil:
		writeJSON(w, http.StatusInternalServerError, summary)
	case err != nil:
		s.logger.Error("sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats not available")
		return
	}
	stats, err := s.stats.Get(r.Context())
	if err != nil {
		s.logger.Error("load stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "no stats computed yet")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	snap := s.health.Snapshot()
	status := http.StatusOK
	if snap.Status == string(pipeline.HealthStatusUnhealthy) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}
