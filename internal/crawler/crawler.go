// internal/crawler/crawler.go
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	crawlerrors "github-star-crawler/internal/errors"
	"github-star-crawler/internal/github"
	"github-star-crawler/internal/mapper"
	"github-star-crawler/internal/model"
	"github-star-crawler/internal/ratelimit"
	"github-star-crawler/internal/retry"
)

// BatchFetcher is the paginated remote query surface the orchestrator
// drives. Implemented by *github.Client.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, cursor *string, batchSize int) (*github.BatchPage, error)
}

// Store is the persistence contract the orchestrator consumes. WriteBatch
// must be atomic and idempotent on repeated identical input.
type Store interface {
	WriteBatch(ctx context.Context, repos []model.Repository, snaps []model.StatsSnapshot) error
	RefreshLatestStats(ctx context.Context) error
	RecordRunOutcome(ctx context.Context, run *model.CrawlRun) error
}

// Options are the crawl tuning knobs, validated by the config layer.
type Options struct {
	TargetCount int
	Concurrency int
	BatchSize   int
	RateReserve int
}

// Crawler orchestrates paginated retrieval: it gates every request on the
// rate budget, drives fetches through the retry policy, maps raw records,
// and hands page batches to the store in cursor order.
type Crawler struct {
	fetcher BatchFetcher
	store   Store
	budget  *ratelimit.Budget
	retrier *retry.Policy
	logger  *slog.Logger
	opts    Options
}

// New creates a Crawler instance.
func New(fetcher BatchFetcher, store Store, budget *ratelimit.Budget, retrier *retry.Policy, logger *slog.Logger, opts Options) *Crawler {
	return &Crawler{
		fetcher: fetcher,
		store:   store,
		budget:  budget,
		retrier: retrier,
		logger:  logger,
		opts:    opts,
	}
}

// pageBatch is one fetched-and-mapped page queued for writing. The cursor is
// the one that produced the page: it becomes the committed resume point once
// the write succeeds.
type pageBatch struct {
	repos  []model.Repository
	snaps  []model.StatsSnapshot
	cursor *string
}

// Run executes one crawl. Fetches chain on the opaque search cursor, so they
// issue sequentially but run ahead of writes through a pipeline bounded by
// the concurrency knob; writes commit in page order, and the processed count
// only advances when a page's write has committed. The returned run is
// always terminal; a non-nil error accompanies a failed run.
func (c *Crawler) Run(ctx context.Context) (*model.CrawlRun, error) {
	run := model.NewCrawlRun(time.Now().UTC())
	c.logger.Info("Starting crawl run",
		"target", c.opts.TargetCount, "batch_size", c.opts.BatchSize, "concurrency", c.opts.Concurrency)

	if c.opts.TargetCount <= 0 {
		run.Complete(time.Now().UTC())
		c.finishRun(ctx, run)
		return run, nil
	}

	var (
		processed int // written records; owned by the write loop
		failed    int // mapping skips; owned by the fetch loop
	)

	pages := make(chan pageBatch, c.opts.Concurrency)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pages)
		n, err := c.fetchLoop(gctx, pages)
		failed = n
		return err
	})

	g.Go(func() error {
		n, err := c.writeLoop(gctx, pages)
		processed = n
		return err
	})

	err := g.Wait()
	now := time.Now().UTC()
	run.ReposProcessed = processed
	run.ReposFailed = failed

	if err != nil {
		run.Fail(now, err.Error())
		c.logger.Error("Crawl run failed", "error", err, "processed", processed, "failed", failed)
	} else {
		run.Complete(now)
		c.logger.Info("Crawl run completed",
			"processed", processed, "failed", failed, "duration", now.Sub(run.StartedAt).String())
	}

	c.finishRun(ctx, run)
	return run, err
}

// fetchLoop drives pagination until the target is reached or the remote
// sequence is exhausted. It returns the count of per-record mapping skips.
func (c *Crawler) fetchLoop(ctx context.Context, pages chan<- pageBatch) (int, error) {
	var (
		cursor  *string
		mapped  int
		skipped int
	)

	for mapped < c.opts.TargetCount {
		if err := c.awaitBudget(ctx); err != nil {
			return skipped, err
		}

		want := c.opts.BatchSize
		if remaining := c.opts.TargetCount - mapped; remaining < want {
			want = remaining
		}

		var page *github.BatchPage
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			p, err := c.fetcher.FetchBatch(ctx, cursor, want)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return skipped, err
		}

		c.budget.Observe(page.Rate.Remaining, page.Rate.ResetAt)

		if len(page.Records) == 0 {
			c.logger.Info("Remote sequence exhausted", "mapped", mapped)
			return skipped, nil
		}

		observedAt := time.Now().UTC()
		batch := pageBatch{cursor: cursor}
		for _, raw := range page.Records {
			repo, snap, err := mapper.ToDomain(raw, observedAt)
			if err != nil {
				skipped++
				c.logger.Warn("Skipping malformed record", "reason", err.Error())
				continue
			}
			batch.repos = append(batch.repos, repo)
			batch.snaps = append(batch.snaps, snap)
		}
		mapped += len(batch.repos)

		select {
		case pages <- batch:
		case <-ctx.Done():
			return skipped, &crawlerrors.Fatal{Err: ctx.Err()}
		}

		c.logger.Info("Page fetched", "mapped", mapped, "target", c.opts.TargetCount,
			"rate_remaining", page.Rate.Remaining)

		if page.NextCursor == nil {
			c.logger.Info("Remote sequence exhausted", "mapped", mapped)
			return skipped, nil
		}
		cursor = page.NextCursor
	}

	return skipped, nil
}

// writeLoop commits page batches in the order they were fetched. The
// processed count, run outcome and resume point all advance only after a
// write commits, so a failure never records progress for an unwritten page.
// Batches already queued when the fetch side stops are still written.
func (c *Crawler) writeLoop(ctx context.Context, pages <-chan pageBatch) (int, error) {
	processed := 0
	for batch := range pages {
		if err := c.store.WriteBatch(ctx, batch.repos, batch.snaps); err != nil {
			return processed, &crawlerrors.Fatal{Err: fmt.Errorf("batch write: %w", err)}
		}
		processed += len(batch.repos)
	}
	return processed, nil
}

// awaitBudget suspends the dispatcher while the point budget is at or below
// the reserve threshold.
func (c *Crawler) awaitBudget(ctx context.Context) error {
	for !c.budget.CanProceed(c.opts.RateReserve) {
		wait := c.budget.WaitDuration()
		if wait <= 0 {
			// Reset time already passed; the next response will refresh it.
			return nil
		}
		c.logger.Warn("Rate budget low, pausing dispatch",
			"remaining", c.budget.Remaining(), "reserve", c.opts.RateReserve, "wait", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &crawlerrors.Fatal{Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return nil
}

// finishRun records the terminal run and refreshes the latest-stats view.
// Both are best-effort: the crawl's own outcome is already decided, and the
// parent context may be cancelled, so a detached bounded context is used.
func (c *Crawler) finishRun(ctx context.Context, run *model.CrawlRun) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := c.store.RecordRunOutcome(finishCtx, run); err != nil {
		c.logger.Error("Failed to record run outcome", "error", err)
	}
	if run.ReposProcessed > 0 {
		if err := c.store.RefreshLatestStats(finishCtx); err != nil {
			c.logger.Error("Failed to refresh latest stats view", "error", err)
		}
	}
}

// Start runs crawls on a fixed interval until the context is cancelled. The
// first run starts immediately.
func (c *Crawler) Start(ctx context.Context, interval time.Duration) {
	c.logger.Info("Starting crawl loop", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := c.Run(ctx); err != nil && ctx.Err() != nil {
		return
	}

	for {
		select {
		case <-ticker.C:
			c.Run(ctx)
		case <-ctx.Done():
			c.logger.Info("Crawl loop shutting down", "reason", ctx.Err())
			return
		}
	}
}
