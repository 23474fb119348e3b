// internal/mapper/mapper.go
package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	crawlerrors "github-star-crawler/internal/errors"
	"github-star-crawler/internal/model"
)

// rawRepository is the node shape returned by the repository search query.
// Counts decode through json.Number so one malformed field rejects only its
// own record, never the page it arrived on.
type rawRepository struct {
	DatabaseID    *int64  `json:"databaseId"`
	NameWithOwner string  `json:"nameWithOwner"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	URL             string  `json:"url"`
	CreatedAt       string  `json:"createdAt"`
	IsFork          bool    `json:"isFork"`
	IsArchived      bool    `json:"isArchived"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	StargazerCount json.Number `json:"stargazerCount"`
	ForkCount      json.Number `json:"forkCount"`
	Watchers       struct {
		TotalCount json.Number `json:"totalCount"`
	} `json:"watchers"`
	Issues struct {
		TotalCount json.Number `json:"totalCount"`
	} `json:"issues"`
}

// ToDomain converts one raw search node into the repository metadata record
// and its point-in-time statistics snapshot. It is pure: the same input and
// observation time always produce the same pair. Malformed required fields
// (missing identity, non-numeric counts) return a RecordMapping error so the
// caller skips the record and continues with the rest of the batch.
// observedAt is assigned once per page by the caller, so every snapshot of a
// page shares one timestamp.
func ToDomain(raw json.RawMessage, observedAt time.Time) (model.Repository, model.StatsSnapshot, error) {
	var node rawRepository
	if err := json.Unmarshal(raw, &node); err != nil {
		return model.Repository{}, model.StatsSnapshot{}, &crawlerrors.RecordMapping{Reason: fmt.Sprintf("undecodable record: %v", err)}
	}

	if node.DatabaseID == nil || *node.DatabaseID == 0 {
		return model.Repository{}, model.StatsSnapshot{}, &crawlerrors.RecordMapping{Reason: "missing databaseId"}
	}

	stars, err := countField(node.StargazerCount, "stargazerCount")
	if err != nil {
		return model.Repository{}, model.StatsSnapshot{}, err
	}
	forks, err := countField(node.ForkCount, "forkCount")
	if err != nil {
		return model.Repository{}, model.StatsSnapshot{}, err
	}
	watchers, err := countField(node.Watchers.TotalCount, "watchers.totalCount")
	if err != nil {
		return model.Repository{}, model.StatsSnapshot{}, err
	}
	openIssues, err := countField(node.Issues.TotalCount, "issues.totalCount")
	if err != nil {
		return model.Repository{}, model.StatsSnapshot{}, err
	}

	var createdAt time.Time
	if node.CreatedAt != "" {
		createdAt, err = time.Parse(time.RFC3339, node.CreatedAt)
		if err != nil {
			return model.Repository{}, model.StatsSnapshot{}, &crawlerrors.RecordMapping{Reason: fmt.Sprintf("invalid createdAt %q", node.CreatedAt)}
		}
	}

	repo := model.Repository{
		RepoID:        *node.DatabaseID,
		FullName:      node.NameWithOwner,
		Owner:         node.Owner.Login,
		Name:          node.Name,
		Description:   node.Description,
		URL:           node.URL,
		RepoCreatedAt: createdAt,
		IsFork:        node.IsFork,
		IsArchived:    node.IsArchived,
		LastCrawledAt: observedAt,
	}
	if node.PrimaryLanguage != nil && node.PrimaryLanguage.Name != "" {
		lang := node.PrimaryLanguage.Name
		repo.Language = &lang
	}

	snap := model.StatsSnapshot{
		RepoID:         *node.DatabaseID,
		CrawledAt:      observedAt,
		StarCount:      stars,
		ForkCount:      forks,
		WatcherCount:   watchers,
		OpenIssueCount: openIssues,
	}

	return repo, snap, nil
}

// countField reads a metric, defaulting an absent value to zero and
// rejecting anything non-numeric.
func countField(n json.Number, field string) (int, error) {
	if n == "" {
		return 0, nil
	}
	v, err := n.Int64()
	if err != nil {
		return 0, &crawlerrors.RecordMapping{Reason: fmt.Sprintf("non-numeric %s %q", field, n.String())}
	}
	return int(v), nil
}
