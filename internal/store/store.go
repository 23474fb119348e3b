// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-star-crawler/internal/model"
)

const upsertRepositorySQL = `
	INSERT INTO repositories
		(repo_id, full_name, owner_login, repo_name, description,
		 html_url, created_at, is_fork, is_archived, language,
		 last_crawled_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	ON CONFLICT (repo_id)
	DO UPDATE SET
		full_name = EXCLUDED.full_name,
		owner_login = EXCLUDED.owner_login,
		repo_name = EXCLUDED.repo_name,
		description = EXCLUDED.description,
		html_url = EXCLUDED.html_url,
		is_fork = EXCLUDED.is_fork,
		is_archived = EXCLUDED.is_archived,
		language = EXCLUDED.language,
		last_crawled_at = EXCLUDED.last_crawled_at,
		updated_at = now()`

const insertSnapshotSQL = `
	INSERT INTO repo_statistics
		(repo_id, crawled_at, star_count, fork_count, watcher_count, open_issues_count)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (repo_id, crawled_at) DO NOTHING`

// Store is the Postgres persistence layer: minimal-row idempotent writes on
// the crawl path, plus the read queries the HTTP API serves.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on an established connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// WriteBatch persists one crawl page atomically: repository metadata is
// upserted wholesale keyed by repo_id, snapshots are appended. Either every
// row of the batch commits or none do, and repeating the identical batch
// never adds rows (ON CONFLICT on both statements), which is what lets the
// retry layer re-drive a failed write safely.
func (s *Store) WriteBatch(ctx context.Context, repos []model.Repository, snaps []model.StatsSnapshot) error {
	if len(repos) == 0 && len(snaps) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch write: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed.

	batch := &pgx.Batch{}
	for _, r := range repos {
		batch.Queue(upsertRepositorySQL,
			r.RepoID, r.FullName, r.Owner, r.Name, r.Description,
			r.URL, r.RepoCreatedAt, r.IsFork, r.IsArchived, r.Language,
			r.LastCrawledAt)
	}
	for _, sn := range snaps {
		batch.Queue(insertSnapshotSQL,
			sn.RepoID, sn.CrawledAt, sn.StarCount, sn.ForkCount,
			sn.WatcherCount, sn.OpenIssueCount)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch write statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch write: %w", err)
	}

	s.logger.Debug("Batch written", "repositories", len(repos), "snapshots", len(snaps))
	return nil
}

// RefreshLatestStats rebuilds the read-optimized latest_repo_stats
// projection in one linear pass over the append-only history. An explicit
// delete-and-refill keeps the pattern portable instead of relying on a
// database materialized view.
func (s *Store) RefreshLatestStats(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM latest_repo_stats`); err != nil {
		return fmt.Errorf("clear latest stats: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO latest_repo_stats
			(repo_id, crawled_at, star_count, fork_count, watcher_count, open_issues_count)
		SELECT DISTINCT ON (repo_id)
			repo_id, crawled_at, star_count, fork_count, watcher_count, open_issues_count
		FROM repo_statistics
		ORDER BY repo_id, crawled_at DESC`); err != nil {
		return fmt.Errorf("rebuild latest stats: %w", err)
	}

	return tx.Commit(ctx)
}

// RecordRunOutcome persists a terminal crawl run and fills in its
// database-assigned id.
func (s *Store) RecordRunOutcome(ctx context.Context, run *model.CrawlRun) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO crawl_runs
			(started_at, completed_at, repos_processed, repos_failed, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		run.StartedAt, run.CompletedAt, run.ReposProcessed, run.ReposFailed,
		string(run.Status), nullableString(run.ErrorMessage),
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("record run outcome: %w", err)
	}
	return nil
}

// TopRepository is one row of the star-ranked read view.
type TopRepository struct {
	RepoID         int64     `json:"repo_id"`
	FullName       string    `json:"full_name"`
	Owner          string    `json:"owner_login"`
	Language       *string   `json:"language,omitempty"`
	StarCount      int       `json:"star_count"`
	ForkCount      int       `json:"fork_count"`
	WatcherCount   int       `json:"watcher_count"`
	OpenIssueCount int       `json:"open_issues_count"`
	CrawledAt      time.Time `json:"crawled_at"`
}

// TopRepositories returns the most-starred repositories from the latest
// snapshot view. The view is only as fresh as the last refresh.
func (s *Store) TopRepositories(ctx context.Context, limit int) ([]TopRepository, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.repo_id, r.full_name, r.owner_login, r.language,
		       l.star_count, l.fork_count, l.watcher_count, l.open_issues_count, l.crawled_at
		FROM repositories r
		JOIN latest_repo_stats l ON r.repo_id = l.repo_id
		ORDER BY l.star_count DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top repositories: %w", err)
	}
	defer rows.Close()

	var out []TopRepository
	for rows.Next() {
		var t TopRepository
		if err := rows.Scan(&t.RepoID, &t.FullName, &t.Owner, &t.Language,
			&t.StarCount, &t.ForkCount, &t.WatcherCount, &t.OpenIssueCount, &t.CrawledAt); err != nil {
			return nil, fmt.Errorf("scan top repository: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestRun returns the most recently recorded crawl run. pgx.ErrNoRows is
// propagated when no run has been recorded yet.
func (s *Store) LatestRun(ctx context.Context) (model.CrawlRun, error) {
	var (
		run      model.CrawlRun
		status   string
		errorMsg *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, started_at, completed_at, repos_processed, repos_failed, status, error_message
		FROM crawl_runs
		ORDER BY id DESC
		LIMIT 1`).Scan(&run.ID, &run.StartedAt, &run.CompletedAt,
		&run.ReposProcessed, &run.ReposFailed, &status, &errorMsg)
	if err != nil {
		return model.CrawlRun{}, err
	}
	run.Status = model.RunStatus(status)
	if errorMsg != nil {
		run.ErrorMessage = *errorMsg
	}
	return run, nil
}

// Summary aggregates the database contents for the stats endpoint.
type Summary struct {
	TotalRepositories int64 `json:"total_repositories"`
	TotalSnapshots    int64 `json:"total_snapshots"`
	AverageStars      int64 `json:"average_stars"`
	MaxStars          int64 `json:"max_stars"`
}

// StatsSummary computes database-wide aggregates from the latest view.
func (s *Store) StatsSummary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM repositories),
			(SELECT count(*) FROM repo_statistics),
			(SELECT COALESCE(avg(star_count), 0)::bigint FROM latest_repo_stats),
			(SELECT COALESCE(max(star_count), 0) FROM latest_repo_stats)`,
	).Scan(&sum.TotalRepositories, &sum.TotalSnapshots, &sum.AverageStars, &sum.MaxStars)
	if err != nil {
		return Summary{}, fmt.Errorf("query stats summary: %w", err)
	}
	return sum, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
