// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-star-crawler/internal/model"
	"github-star-crawler/internal/store"
)

// MockQuerier is a mock of the Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) TopRepositories(ctx context.Context, limit int) ([]store.TopRepository, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]store.TopRepository), args.Error(1)
}

func (m *MockQuerier) LatestRun(ctx context.Context) (model.CrawlRun, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.CrawlRun), args.Error(1)
}

func (m *MockQuerier) StatsSummary(ctx context.Context) (store.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(store.Summary), args.Error(1)
}

type stubBudget struct{ remaining int }

func (s *stubBudget) Remaining() int { return s.remaining }

func newTestRouter(q Querier) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRouter(q, &stubBudget{remaining: 4200}, logger)
}

func TestHandler_HealthCheck(t *testing.T) {
	router := newTestRouter(new(MockQuerier))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(4200), body["rate_remaining"])
}

func TestHandler_GetTopRepositories(t *testing.T) {
	t.Run("returns ranked repositories", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("TopRepositories", mock.Anything, 2).Return([]store.TopRepository{
			{RepoID: 1, FullName: "a/a", StarCount: 100},
			{RepoID: 2, FullName: "b/b", StarCount: 50},
		}, nil).Once()
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/repos/top?limit=2", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var repos []store.TopRepository
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
		require.Len(t, repos, 2)
		assert.Equal(t, "a/a", repos[0].FullName)
		mockQ.AssertExpectations(t)
	})

	t.Run("defaults the limit to ten", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("TopRepositories", mock.Anything, 10).Return([]store.TopRepository{}, nil).Once()
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/repos/top", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		mockQ.AssertExpectations(t)
	})

	t.Run("rejects an out-of-range limit", func(t *testing.T) {
		mockQ := new(MockQuerier)
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/repos/top?limit=500", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mockQ.AssertNotCalled(t, "TopRepositories")
	})
}

func TestHandler_GetLatestRun(t *testing.T) {
	t.Run("returns the latest run", func(t *testing.T) {
		completed := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
		mockQ := new(MockQuerier)
		mockQ.On("LatestRun", mock.Anything).Return(model.CrawlRun{
			ID:             7,
			Status:         model.RunStatusCompleted,
			ReposProcessed: 250,
			CompletedAt:    &completed,
		}, nil).Once()
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var run model.CrawlRun
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, int64(7), run.ID)
		assert.Equal(t, 250, run.ReposProcessed)
	})

	t.Run("returns 404 before any run exists", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("LatestRun", mock.Anything).Return(model.CrawlRun{}, pgx.ErrNoRows).Once()
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_GetStatsSummary(t *testing.T) {
	t.Run("returns aggregates", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("StatsSummary", mock.Anything).Return(store.Summary{
			TotalRepositories: 1000,
			TotalSnapshots:    3000,
			AverageStars:      42,
			MaxStars:          9001,
		}, nil).Once()
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/stats/summary", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var sum store.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
		assert.Equal(t, int64(9001), sum.MaxStars)
	})

	t.Run("maps store failures to 500", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("StatsSummary", mock.Anything).Return(store.Summary{}, errors.New("connection lost")).Once()
		router := newTestRouter(mockQ)

		req := httptest.NewRequest(http.MethodGet, "/v1/stats/summary", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
