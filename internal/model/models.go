// internal/model/models.go
package model

import "time"

// Repository represents the static-ish metadata of a GitHub repository.
// RepoID is GitHub's databaseId: it is stable across renames, so every crawl
// replaces the row wholesale keyed by it.
type Repository struct {
	RepoID        int64     `json:"repo_id"`
	FullName      string    `json:"full_name"`
	Owner         string    `json:"owner_login"`
	Name          string    `json:"repo_name"`
	Description   *string   `json:"description,omitempty"`
	URL           string    `json:"html_url"`
	RepoCreatedAt time.Time `json:"created_at"`
	IsFork        bool      `json:"is_fork"`
	IsArchived    bool      `json:"is_archived"`
	Language      *string   `json:"language,omitempty"`
	LastCrawledAt time.Time `json:"last_crawled_at"`
}

// StatsSnapshot is one immutable point-in-time measurement of a repository's
// popularity metrics. (RepoID, CrawledAt) is unique; rows are append-only.
type StatsSnapshot struct {
	RepoID         int64     `json:"repo_id"`
	CrawledAt      time.Time `json:"crawled_at"`
	StarCount      int       `json:"star_count"`
	ForkCount      int       `json:"fork_count"`
	WatcherCount   int       `json:"watcher_count"`
	OpenIssueCount int       `json:"open_issues_count"`
}

// RunStatus is the terminal-state machine of a crawl run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CrawlRun records one execution of the crawl orchestrator. ID is assigned
// by the database when the outcome is recorded. Only the orchestrator
// mutates a run, and never after it reaches a terminal status.
type CrawlRun struct {
	ID             int64      `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ReposProcessed int        `json:"repos_processed"`
	ReposFailed    int        `json:"repos_failed"`
	Status         RunStatus  `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// NewCrawlRun starts a run in the running state.
func NewCrawlRun(now time.Time) *CrawlRun {
	return &CrawlRun{
		StartedAt: now,
		Status:    RunStatusRunning,
	}
}

// Complete transitions the run to its successful terminal state.
func (r *CrawlRun) Complete(now time.Time) {
	r.Status = RunStatusCompleted
	r.CompletedAt = &now
}

// Fail transitions the run to its failed terminal state with a summary.
func (r *CrawlRun) Fail(now time.Time, reason string) {
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	r.ErrorMessage = reason
}

// Terminal reports whether the run has finished, successfully or not.
func (r *CrawlRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
