package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/credentials"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/proxy"
	"github.com/hyeonbin/stayscan/internal/ratelimit"
	"github.com/hyeonbin/stayscan/internal/repository"
	"github.com/hyeonbin/stayscan/internal/version"
)

// LimiterStats is the rate limiter surface the status endpoint needs.
type LimiterStats interface {
	Stats() ratelimit.Stats
}

// ProxyStats is the proxy pool surface the status endpoint needs.
type ProxyStats interface {
	Stats() proxy.Stats
}

// CredentialSource is the credential cache surface the status endpoint
// needs. Load returns nil without error when no usable cache exists.
type CredentialSource interface {
	Load() (*credentials.Credentials, error)
}

// StatusHandler handles the process status endpoint.
type StatusHandler struct {
	budget    constants.TierBudget
	startedAt time.Time
	limiter   LimiterStats
	proxies   ProxyStats
	creds     CredentialSource
	stations  repository.StationRepository
	listings  repository.ListingRepository
	logs      repository.CrawlLogRepository
	now       func() time.Time
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(
	budget constants.TierBudget,
	startedAt time.Time,
	limiter LimiterStats,
	proxies ProxyStats,
	creds CredentialSource,
	repos *repository.Repositories,
) *StatusHandler {
	return &StatusHandler{
		budget:    budget,
		startedAt: startedAt,
		limiter:   limiter,
		proxies:   proxies,
		creds:     creds,
		stations:  repos.Station,
		listings:  repos.Listing,
		logs:      repos.CrawlLog,
		now:       time.Now,
	}
}

// CredentialOutput describes the credential cache in the status response.
type CredentialOutput struct {
	Cached     bool   `json:"cached" doc:"Whether a usable credential cache exists"`
	Complete   bool   `json:"complete" doc:"Whether the cache holds the API key and all operation hashes"`
	CachedAt   string `json:"cached_at,omitempty" doc:"When the credentials were captured"`
	AgeSeconds int64  `json:"age_seconds,omitempty" doc:"Age of the cache in seconds"`
}

// GetStatusOutput represents the status response.
type GetStatusOutput struct {
	Body struct {
		Status        string           `json:"status"`
		Version       version.Info     `json:"version"`
		Tier          string           `json:"tier" doc:"Active request budget tier"`
		StartedAt     string           `json:"started_at"`
		UptimeSeconds int64            `json:"uptime_seconds"`
		Stations      int              `json:"stations" doc:"Seeded station count"`
		Listings      int              `json:"listings" doc:"Discovered listing count"`
		RateLimiter   ratelimit.Stats  `json:"rate_limiter"`
		Proxies       proxy.Stats      `json:"proxies"`
		Credential    CredentialOutput `json:"credential"`
		LastRuns      []CrawlLogOutput `json:"last_runs" doc:"Most recent run of each job type"`
	}
}

// GetStatus returns the process state: build info, tier budget, pacing
// counters, proxy health, credential cache age and the last run of each
// job type.
func (h *StatusHandler) GetStatus(ctx context.Context, input *struct{}) (*GetStatusOutput, error) {
	stationCount, err := h.stations.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count stations: " + err.Error())
	}
	listingCount, err := h.listings.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count listings: " + err.Error())
	}

	output := &GetStatusOutput{}
	output.Body.Status = "ok"
	output.Body.Version = version.Get()
	output.Body.Tier = h.budget.Name
	output.Body.StartedAt = h.startedAt.UTC().Format(time.RFC3339)
	output.Body.UptimeSeconds = int64(h.now().Sub(h.startedAt).Seconds())
	output.Body.Stations = stationCount
	output.Body.Listings = listingCount
	if h.limiter != nil {
		output.Body.RateLimiter = h.limiter.Stats()
	}
	if h.proxies != nil {
		output.Body.Proxies = h.proxies.Stats()
	}
	output.Body.Credential = h.credentialOutput()

	for _, jobType := range []models.JobType{
		models.JobTypeSearch,
		models.JobTypeCalendar,
		models.JobTypeDetail,
		models.JobTypeAggregation,
	} {
		entry, err := h.logs.LastByType(ctx, jobType)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load last runs: " + err.Error())
		}
		if entry == nil {
			continue
		}
		output.Body.LastRuns = append(output.Body.LastRuns, crawlLogToOutput(entry))
	}

	return output, nil
}

func (h *StatusHandler) credentialOutput() CredentialOutput {
	if h.creds == nil {
		return CredentialOutput{}
	}
	creds, err := h.creds.Load()
	if err != nil || creds == nil {
		return CredentialOutput{}
	}
	return CredentialOutput{
		Cached:     true,
		Complete:   creds.Complete(),
		CachedAt:   creds.CachedAt.UTC().Format(time.RFC3339),
		AgeSeconds: int64(h.now().Sub(creds.CachedAt).Seconds()),
	}
}
