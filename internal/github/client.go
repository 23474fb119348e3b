// internal/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	crawlerrors "github-star-crawler/internal/errors"
)

const (
	// DefaultGraphQLURL is the production GitHub GraphQL endpoint.
	DefaultGraphQLURL = "https://api.github.com/graphql"

	// maxBatchSize is GitHub's ceiling for `first` on a search connection.
	maxBatchSize = 100
)

// searchQuery pages through the repository search connection and reads the
// point budget back from the same response, so every successful call
// refreshes the tracker with ground truth.
const searchQuery = `query($first: Int!, $after: String) {
	search(query: "stars:>1", type: REPOSITORY, first: $first, after: $after) {
		pageInfo {
			hasNextPage
			endCursor
		}
		nodes {
			... on Repository {
				databaseId
				nameWithOwner
				owner { login }
				name
				description
				url
				createdAt
				isFork
				isArchived
				primaryLanguage { name }
				stargazerCount
				forkCount
				watchers { totalCount }
				issues(states: OPEN) { totalCount }
			}
		}
	}
	rateLimit {
		remaining
		resetAt
	}
}`

// RateInfo is the point-budget signal extracted from a response.
type RateInfo struct {
	Remaining int
	ResetAt   time.Time
}

// BatchPage is one parsed page of the remote sequence. Records are kept as
// raw node payloads so a single malformed record is contained to itself when
// the mapper decodes it.
type BatchPage struct {
	Records    []json.RawMessage
	NextCursor *string
	Rate       RateInfo
}

// Client is the anti-corruption layer in front of the GitHub GraphQL API.
// It translates one page request into one HTTP call and classifies every
// failure; it never retries.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates and configures a new Client instance. The provided token
// is used to create an authenticated http.Client.
func NewClient(token, baseURL string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = 30 * time.Second

	if baseURL == "" {
		baseURL = DefaultGraphQLURL
	}

	return &Client{
		httpClient: tc,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// graphqlRequest is the JSON body sent to the GraphQL endpoint.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type searchResponse struct {
	Data struct {
		Search struct {
			PageInfo struct {
				HasNextPage bool    `json:"hasNextPage"`
				EndCursor   *string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []json.RawMessage `json:"nodes"`
		} `json:"search"`
		RateLimit *struct {
			Remaining int       `json:"remaining"`
			ResetAt   time.Time `json:"resetAt"`
		} `json:"rateLimit"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// FetchBatch requests up to batchSize repositories starting after cursor
// (nil cursor means the start of the sequence). batchSize is clamped to the
// API maximum. Failures are raised typed: network and 5xx errors as
// Transient, budget exhaustion as RateLimited, auth and shape errors as
// Fatal.
func (c *Client) FetchBatch(ctx context.Context, cursor *string, batchSize int) (*BatchPage, error) {
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	variables := map[string]any{"first": batchSize}
	if cursor != nil {
		variables["after"] = *cursor
	}

	body, err := json.Marshal(graphqlRequest{Query: searchQuery, Variables: variables})
	if err != nil {
		return nil, &crawlerrors.Fatal{Err: fmt.Errorf("marshal query: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &crawlerrors.Fatal{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Fetching repository page", "batch_size", batchSize, "has_cursor", cursor != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &crawlerrors.Transient{Err: fmt.Errorf("graphql request: %w", err)}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &crawlerrors.Transient{Err: fmt.Errorf("decode response: %w", err)}
	}

	if err := classifyGraphQLErrors(parsed.Errors); err != nil {
		return nil, err
	}

	page := &BatchPage{Records: parsed.Data.Search.Nodes}
	if parsed.Data.Search.PageInfo.HasNextPage {
		page.NextCursor = parsed.Data.Search.PageInfo.EndCursor
	}
	if rl := parsed.Data.RateLimit; rl != nil {
		page.Rate = RateInfo{Remaining: rl.Remaining, ResetAt: rl.ResetAt}
	}

	return page, nil
}

// classifyStatus maps a non-200 HTTP response onto the failure taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &crawlerrors.Fatal{Err: fmt.Errorf("authentication failed: status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0",
		resp.StatusCode == http.StatusTooManyRequests:
		return &crawlerrors.RateLimited{
			Reset: resetFromHeader(resp),
			Err:   fmt.Errorf("rate limit exceeded: status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return &crawlerrors.Transient{Err: fmt.Errorf("server error: status %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &crawlerrors.Fatal{Err: fmt.Errorf("request rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
}

// classifyGraphQLErrors maps an in-payload errors array onto the taxonomy.
// GitHub reports budget exhaustion as a RATE_LIMITED error type on an
// otherwise 200 response.
func classifyGraphQLErrors(errs []graphqlError) error {
	if len(errs) == 0 {
		return nil
	}
	for _, e := range errs {
		if e.Type == "RATE_LIMITED" {
			return &crawlerrors.RateLimited{Err: fmt.Errorf("graphql: %s", e.Message)}
		}
	}
	return &crawlerrors.Fatal{Err: fmt.Errorf("graphql: %s", errs[0].Message)}
}

// resetFromHeader reads the X-RateLimit-Reset unix timestamp if present.
func resetFromHeader(resp *http.Response) time.Time {
	raw := resp.Header.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
