// Package main is the entry point for the stayscan crawler. One process
// owns everything: credential discovery, the scheduled crawl jobs, the
// nightly aggregation and the optional read-only status API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyeonbin/stayscan/internal/analysis"
	"github.com/hyeonbin/stayscan/internal/browser"
	"github.com/hyeonbin/stayscan/internal/config"
	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/crawler"
	"github.com/hyeonbin/stayscan/internal/credentials"
	"github.com/hyeonbin/stayscan/internal/database"
	"github.com/hyeonbin/stayscan/internal/http/handlers"
	"github.com/hyeonbin/stayscan/internal/logging"
	"github.com/hyeonbin/stayscan/internal/metrics"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/proxy"
	"github.com/hyeonbin/stayscan/internal/ratelimit"
	"github.com/hyeonbin/stayscan/internal/repository"
	"github.com/hyeonbin/stayscan/internal/scheduler"
	"github.com/hyeonbin/stayscan/internal/stations"
	"github.com/hyeonbin/stayscan/internal/version"
)

func main() {
	var (
		initDB     = flag.Bool("init", false, "Seed stations from the station seed file, print status and exit")
		showStatus = flag.Bool("status", false, "Print crawl progress and exit")
		once       = flag.String("once", "", "Run one job now and exit: search, calendar, detail or all")
		extractKey = flag.Bool("extract-key", false, "Force credential discovery and exit")
		visible    = flag.Bool("visible", false, "Run the discovery browser with a visible window")
		showVer    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version.Get().String())
		return
	}

	// Initialize logger with TTY detection and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting stayscan",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Resolve the tier budget before anything that paces on it
	budget, err := constants.BudgetFor(cfg.Tier)
	if err != nil {
		logger.Error("invalid crawl tier", "tier", cfg.Tier, "error", err)
		os.Exit(1)
	}

	proxyURLs, err := proxy.LoadURLs(cfg.ProxyList, cfg.ProxyFile)
	if err != nil {
		logger.Error("failed to load proxy list", "file", cfg.ProxyFile, "error", err)
		os.Exit(1)
	}
	if budget.ProxyRequired && len(proxyURLs) == 0 {
		logger.Warn("tier expects proxies but none are configured, crawling direct",
			"tier", budget.Name, "proxy_file", cfg.ProxyFile)
	}

	limiter := ratelimit.New(budget, logger)
	proxies := proxy.New(proxyURLs, budget.RotateAfter, logger)
	store := credentials.NewStore(cfg.CredentialFile, logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	if *initDB {
		inserted, err := stations.Seed(context.Background(), repos.Station, cfg.StationSeedFile, logger)
		if err != nil {
			logger.Error("station seeding failed", "file", cfg.StationSeedFile, "error", err)
			os.Exit(1)
		}
		logger.Info("stations seeded", "inserted", inserted)
		if err := printStatus(cfg, budget, repos, limiter, proxies, store); err != nil {
			logger.Error("failed to print status", "error", err)
			os.Exit(1)
		}
		return
	}

	if *showStatus {
		if err := printStatus(cfg, budget, repos, limiter, proxies, store); err != nil {
			logger.Error("failed to print status", "error", err)
			os.Exit(1)
		}
		return
	}

	// Credential discovery: fast HTML/JS scrape first, full browser second
	fast := credentials.NewExtractor(cfg.BaseURL, cfg.ExtractTimeout, logger)
	slow := browser.NewExtractor(cfg.BaseURL, cfg.BrowserBin, !*visible, cfg.ExtractTimeout, logger)
	credFn := func(ctx context.Context) (*credentials.Credentials, error) {
		return credentials.Resolve(ctx, store, fast, slow, false, logger)
	}

	if *extractKey {
		creds, err := credentials.Resolve(context.Background(), store, fast, slow, true, logger)
		if err != nil {
			logger.Error("credential discovery failed", "error", err)
			os.Exit(1)
		}
		logger.Info("credentials discovered",
			"api_key_length", len(creds.APIKey),
			"hashes", len(creds.Hashes),
			"complete", creds.Complete(),
		)
		return
	}

	c := crawler.New(db, repos, cfg, budget, limiter, proxies, credFn, m, logger)
	agg := analysis.New(repos, m, logger)

	// A killed process leaves its crawl log rows running; reconcile them
	// before starting new work.
	staleCount, err := repos.CrawlLog.MarkStaleRunningFailed(context.Background(), 1*time.Hour)
	if err != nil {
		logger.Warn("failed to clean up stale crawl logs", "error", err)
	} else if staleCount > 0 {
		logger.Info("cleaned up stale crawl logs", "count", staleCount)
	}

	if *once != "" {
		if err := runOnce(context.Background(), *once, budget, c, agg, logger); err != nil {
			logger.Error("run failed", "job", *once, "error", err)
			os.Exit(1)
		}
		return
	}

	// Scheduler mode
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(budget, scheduler.Jobs{
		Search:      func(ctx context.Context) error { _, err := c.RunSearch(ctx); return err },
		Calendar:    func(ctx context.Context) error { _, err := c.RunCalendar(ctx); return err },
		Detail:      func(ctx context.Context) error { _, err := c.RunDetail(ctx); return err },
		Aggregation: func(ctx context.Context) error { _, err := agg.RunDaily(ctx, 1); return err },
	}, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	var server *http.Server
	if cfg.StatusEnabled && cfg.StatusAddr != "" {
		server = statusServer(cfg, budget, time.Now(), db, repos, limiter, proxies, store, agg)
		go func() {
			logger.Info("status API listening", "addr", cfg.StatusAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server error", "error", err)
			}
		}()
	}

	// Block until asked to stop
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan

	logger.Info("shutting down", "signal", sig.String())
	cancel()
	sched.Stop()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
	}

	logger.Info("stopped")
}

// runOnce fires one job (or the whole pipeline) immediately, outside the
// schedule. The tier budget still paces every request. Explicitly named
// jobs run even when the tier would not schedule them; "all" honors the
// tier's calendar and detail switches.
func runOnce(ctx context.Context, job string, budget constants.TierBudget, c *crawler.Crawler, agg *analysis.Aggregator, logger *slog.Logger) error {
	run := func(name string, fn func(context.Context) (*models.CrawlLog, error)) error {
		entry, err := fn(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if entry.Status == models.JobStatusFailed {
			return fmt.Errorf("%s finished failed: %s", name, entry.ErrorMessage)
		}
		logger.Info("run complete",
			"job", name,
			"status", entry.Status,
			"total", entry.TotalRequests,
			"success", entry.SuccessfulRequests,
			"failed", entry.FailedRequests,
			"blocked", entry.BlockedRequests,
		)
		return nil
	}
	aggregate := func(ctx context.Context) (*models.CrawlLog, error) {
		return agg.RunDaily(ctx, 1)
	}

	switch job {
	case "search":
		return run("search", c.RunSearch)
	case "calendar":
		if err := run("calendar", c.RunCalendar); err != nil {
			return err
		}
		return run("aggregation", aggregate)
	case "detail":
		return run("detail", c.RunDetail)
	case "all":
		if err := run("search", c.RunSearch); err != nil {
			return err
		}
		if budget.CalendarEnabled {
			if err := run("calendar", c.RunCalendar); err != nil {
				return err
			}
		}
		if budget.DetailEnabled {
			if err := run("detail", c.RunDetail); err != nil {
				return err
			}
		}
		return run("aggregation", aggregate)
	default:
		return fmt.Errorf("unknown job %q (want search, calendar, detail or all)", job)
	}
}

// printStatus writes a human-readable snapshot of the crawl database and
// the configured budget to stdout.
func printStatus(cfg *config.Config, budget constants.TierBudget, repos *repository.Repositories, limiter *ratelimit.Limiter, proxies *proxy.Pool, store *credentials.Store) error {
	ctx := context.Background()

	stationCount, err := repos.Station.Count(ctx)
	if err != nil {
		return err
	}
	listingCount, err := repos.Listing.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("tier %s: priorities %v, search every %s, concurrency %d, caps %d/hour %d/day\n",
		budget.Name,
		budget.StationPriorities,
		(time.Duration(budget.SearchIntervalMinutes) * time.Minute).String(),
		budget.Concurrency,
		budget.MaxRequestsPerHour,
		budget.MaxRequestsPerDay,
	)
	fmt.Printf("database %s: %s stations, %s listings\n",
		cfg.DatabasePath,
		humanize.Comma(int64(stationCount)),
		humanize.Comma(int64(listingCount)),
	)

	creds, err := store.Load()
	if err != nil {
		return err
	}
	switch {
	case creds == nil:
		fmt.Println("credentials: none cached")
	case creds.Complete():
		fmt.Printf("credentials: cached %s, complete\n", humanize.Time(creds.CachedAt))
	default:
		fmt.Printf("credentials: cached %s, %d operation hashes\n",
			humanize.Time(creds.CachedAt), len(creds.Hashes))
	}

	ls := limiter.Stats()
	fmt.Printf("limiter: multiplier %.2f, circuit %s\n", ls.Multiplier, ls.Circuit)
	ps := proxies.Stats()
	fmt.Printf("proxies: %d configured, %d available\n", ps.Total, ps.Available)

	fmt.Println()
	for _, jobType := range []models.JobType{
		models.JobTypeSearch,
		models.JobTypeCalendar,
		models.JobTypeDetail,
		models.JobTypeAggregation,
	} {
		entry, err := repos.CrawlLog.LastByType(ctx, jobType)
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Printf("%-12s never ran\n", jobType)
			continue
		}
		line := fmt.Sprintf("%-12s %-8s %s, %d/%d requests ok",
			entry.JobType,
			entry.Status,
			humanize.Time(entry.StartedAt),
			entry.SuccessfulRequests,
			entry.TotalRequests,
		)
		if entry.ErrorMessage != "" {
			line += ", " + entry.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

// statusServer assembles the read-only status API: huma operations on a
// chi router, plus /healthz and /metrics outside the documented surface.
func statusServer(
	cfg *config.Config,
	budget constants.TierBudget,
	startedAt time.Time,
	db *sql.DB,
	repos *repository.Repositories,
	limiter *ratelimit.Limiter,
	proxies *proxy.Pool,
	store *credentials.Store,
	agg *analysis.Aggregator,
) *http.Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.StatusCORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(httprate.LimitByIP(cfg.StatusRPS, time.Second))
	router.Use(middleware.Throttle(50))

	// Main API with OpenAPI docs
	humaConfig := huma.DefaultConfig("Stayscan Status API", version.Get().Short())
	humaConfig.Info.Description = "Read-only view of crawl progress: stations, listings, calendar observations and job history."
	api := humachi.New(router, humaConfig)

	// Config for the liveness probe (no docs needed)
	hiddenConfig := huma.DefaultConfig("Stayscan Status API", version.Get().Short())
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	huma.Get(hiddenAPI, "/healthz", handlers.NewHealthzHandler(db).Healthz)

	statusHandler := handlers.NewStatusHandler(budget, startedAt, limiter, proxies, store, repos)
	huma.Get(api, "/api/v1/status", statusHandler.GetStatus)

	stationsHandler := handlers.NewStationsHandler(repos.Station, repos.DailyStat)
	huma.Get(api, "/api/v1/stations", stationsHandler.ListStations)
	huma.Get(api, "/api/v1/stations/{id}/stats", stationsHandler.GetStationStats)

	crawlLogsHandler := handlers.NewCrawlLogsHandler(repos.CrawlLog)
	huma.Get(api, "/api/v1/crawl-logs", crawlLogsHandler.ListCrawlLogs)

	listingsHandler := handlers.NewListingsHandler(repos.Listing, repos.CalendarSnapshot, agg)
	huma.Get(api, "/api/v1/listings", listingsHandler.ListListings)
	huma.Get(api, "/api/v1/listings/{id}/calendar", listingsHandler.GetListingCalendar)
	huma.Get(api, "/api/v1/listings/{id}/calendar/{date}", listingsHandler.GetListingDateHistory)

	router.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
