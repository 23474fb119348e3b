// internal/api/handler.go
package api

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
	"github.com/jackc/pgx/v5"

	"github-star-crawler/internal/model"
	"github-star-crawler/internal/store"
)

// Querier is the read surface the API serves. Implemented by *store.Store.
type Querier interface {
	TopRepositories(ctx context.Context, limit int) ([]store.TopRepository, error)
	LatestRun(ctx context.Context) (model.CrawlRun, error)
	StatsSummary(ctx context.Context) (store.Summary, error)
}

// BudgetReader exposes the crawl engine's current rate-budget headroom for
// the health endpoint.
type BudgetReader interface {
	Remaining() int
}

// Handler is the container for API dependencies.
type Handler struct {
	db     Querier
	budget BudgetReader
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Querier, budget BudgetReader, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		budget: budget,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos/top", h.getTopRepositories)
		r.Get("/runs/latest", h.getLatestRun)
		r.Get("/stats/summary", h.getStatsSummary)
	})

	return r
}

// healthCheck reports liveness plus the crawl engine's remaining API points.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"rate_remaining": h.budget.Remaining(),
	})
}

// getTopRepositories returns the most-starred repositories from the latest
// snapshot view.
// GET /v1/repos/top?limit=N
func (h *Handler) getTopRepositories(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "10" // Default limit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	repos, err := h.db.TopRepositories(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to get top repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repos)
}

// getLatestRun returns the most recent crawl run outcome.
// GET /v1/runs/latest
func (h *Handler) getLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.db.LatestRun(r.Context())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "No crawl run has been recorded yet")
			return
		}
		h.logger.Error("Failed to get latest run", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, run)
}

// getStatsSummary returns database-wide aggregates.
// GET /v1/stats/summary
func (h *Handler) getStatsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.db.StatsSummary(r.Context())
	if err != nil {
		h.logger.Error("Failed to get stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
