// Package crawler implements the crawl jobs: neighborhood search,
// per-listing availability calendars and listing detail. Every job
// shares one framing: a crawl log row brackets the run, units fan out
// under the tier's concurrency cap, and per-unit failures are tallied
// without aborting the job.
package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyeonbin/stayscan/internal/airbnb"
	"github.com/hyeonbin/stayscan/internal/config"
	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/credentials"
	"github.com/hyeonbin/stayscan/internal/logging"
	"github.com/hyeonbin/stayscan/internal/metrics"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/proxy"
	"github.com/hyeonbin/stayscan/internal/ratelimit"
	"github.com/hyeonbin/stayscan/internal/repository"
)

const (
	dateLayout = "2006-01-02"

	// listingPageSize bounds each batch when walking the listing table.
	listingPageSize = 200
)

// CredentialFunc supplies current API credentials, refreshing them
// when the cached ones have gone stale.
type CredentialFunc func(ctx context.Context) (*credentials.Credentials, error)

// apiClient is the slice of airbnb.Client the jobs depend on.
type apiClient interface {
	Request(ctx context.Context, op string, variables any) (map[string]any, error)
	RunStats() airbnb.RunStats
	Close()
}

// Crawler runs the crawl jobs against one database. A fresh API client
// is built per run so a run's request stats map one-to-one onto its
// crawl log row; the limiter and proxy pool are shared across clients,
// so pacing holds even when jobs overlap.
type Crawler struct {
	db      *sql.DB
	repos   *repository.Repositories
	cfg     *config.Config
	budget  constants.TierBudget
	creds   CredentialFunc
	metrics *metrics.Metrics
	logger  *slog.Logger

	newClient func(creds *credentials.Credentials) apiClient
	now       func() time.Time
}

// New creates a crawler for the given tier budget.
func New(db *sql.DB, repos *repository.Repositories, cfg *config.Config, budget constants.TierBudget, limiter *ratelimit.Limiter, proxies *proxy.Pool, creds CredentialFunc, m *metrics.Metrics, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Crawler{
		db:      db,
		repos:   repos,
		cfg:     cfg,
		budget:  budget,
		creds:   creds,
		metrics: m,
		logger:  logger.With("component", "crawler"),
		now:     time.Now,
	}
	c.newClient = func(cr *credentials.Credentials) apiClient {
		return airbnb.New(cfg.BaseURL, cr, limiter, proxies, m, cfg.HTTPTimeout, logger)
	}
	return c
}

func (c *Crawler) client(ctx context.Context) (apiClient, error) {
	creds, err := c.creds(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	return c.newClient(creds), nil
}

func (c *Crawler) startLog(ctx context.Context, jobType models.JobType) (*models.CrawlLog, error) {
	entry := &models.CrawlLog{
		ID:        ulid.Make().String(),
		JobType:   jobType,
		StartedAt: c.now().UTC(),
		Status:    models.JobStatusRunning,
	}
	if err := c.repos.CrawlLog.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create crawl log: %w", err)
	}
	return entry, nil
}

// finishLog writes the terminal crawl log row. Counters are unit
// counters; blocked comes from the client's run stats. The write uses
// a detached context so a canceled job still records its outcome.
func (c *Crawler) finishLog(ctx context.Context, entry *models.CrawlLog, client apiClient, total, success, failed int, errMsg string) {
	now := c.now().UTC()
	entry.FinishedAt = &now
	entry.TotalRequests = total
	entry.SuccessfulRequests = success
	entry.FailedRequests = failed
	if client != nil {
		entry.BlockedRequests = client.RunStats().Blocked
	}
	switch {
	case errMsg != "":
		entry.Status = models.JobStatusFailed
		entry.ErrorMessage = errMsg
	case failed > 0 || success < total:
		entry.Status = models.JobStatusPartial
	default:
		entry.Status = models.JobStatusSuccess
	}

	if err := c.repos.CrawlLog.Finish(context.WithoutCancel(ctx), entry); err != nil {
		logging.FromContext(ctx, c.logger).Error("failed to finish crawl log", "error", err)
	}
	c.metrics.JobsTotal.WithLabelValues(string(entry.JobType), string(entry.Status)).Inc()
	c.metrics.JobDuration.WithLabelValues(string(entry.JobType)).Observe(now.Sub(entry.StartedAt).Seconds())
}

// forEachUnit feeds unit indexes to a bounded pool of workers and
// returns the success and failure tallies. A canceled context stops
// the feed; units already handed out still finish.
func (c *Crawler) forEachUnit(ctx context.Context, n int, fn func(ctx context.Context, i int) error) (success, failed int) {
	workers := c.budget.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	units := make(chan int)
	var done, bad atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range units {
				if err := fn(ctx, i); err != nil {
					bad.Add(1)
					continue
				}
				done.Add(1)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case units <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(units)
	wg.Wait()

	return int(done.Load()), int(bad.Load())
}

// allListings walks the whole listing table in id order.
func (c *Crawler) allListings(ctx context.Context) ([]*models.Listing, error) {
	var all []*models.Listing
	for offset := 0; ; offset += listingPageSize {
		page, err := c.repos.Listing.List(ctx, listingPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listingPageSize {
			return all, nil
		}
	}
}
