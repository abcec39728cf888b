// Package airbnb is the façade over the upstream persisted-query API.
// Every crawl request funnels through Client.Request, which paces the
// call, picks a proxy, classifies the response and retries.
package airbnb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/credentials"
	"github.com/hyeonbin/stayscan/internal/metrics"
	"github.com/hyeonbin/stayscan/internal/protection"
	"github.com/hyeonbin/stayscan/internal/proxy"
	"github.com/hyeonbin/stayscan/internal/ratelimit"
)

// ErrExhausted wraps the last attempt error when every retry failed.
var ErrExhausted = errors.New("request attempts exhausted")

type persistedQuery struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

type requestExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

// RunStats tallies the requests this client issued. Jobs create one
// client per run, so the tallies map directly onto a crawl log row.
type RunStats struct {
	Requests int `json:"requests"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Blocked  int `json:"blocked"`
}

// Stats combines the limiter and proxy pool snapshots for the status API.
type Stats struct {
	RateLimiter ratelimit.Stats `json:"rate_limiter"`
	Proxies     proxy.Stats     `json:"proxies"`
}

// Client issues GET requests against the persisted-query endpoint.
// Safe for concurrent use; the limiter serializes admissions globally.
type Client struct {
	baseURL string
	creds   *credentials.Credentials
	limiter *ratelimit.Limiter
	proxies *proxy.Pool
	metrics *metrics.Metrics
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	clients  map[string]*http.Client
	runStats RunStats
}

// New creates a client over shared limiter and proxy pool. A zero
// timeout defaults to 30 seconds.
func New(baseURL string, creds *credentials.Credentials, limiter *ratelimit.Limiter, pool *proxy.Pool, m *metrics.Metrics, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		limiter: limiter,
		proxies: pool,
		metrics: m,
		timeout: timeout,
		logger:  logger.With("component", "airbnb"),
		clients: make(map[string]*http.Client),
	}
}

// Request performs a persisted-query GET for the operation and returns
// the decoded response. Blocks and JSON failures count as failed
// attempts; exhaustion returns ErrExhausted wrapping the last error.
func (c *Client) Request(ctx context.Context, op string, variables any) (map[string]any, error) {
	hash := c.creds.Hashes[op]
	if hash == "" {
		return nil, fmt.Errorf("no operation hash for %s", op)
	}
	requestURL, err := c.operationURL(op, hash, variables)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var result map[string]any
	err = retry.Do(
		func() error {
			decoded, err := c.attempt(ctx, op, requestURL)
			if err != nil {
				return err
			}
			result = decoded
			return nil
		},
		retry.Attempts(constants.MaxRequestAttempts),
		retry.LastErrorOnly(true),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(0),
		retry.Context(ctx),
	)
	if err != nil {
		c.logger.Error("request failed",
			"operation", op,
			"attempts", constants.MaxRequestAttempts,
			"error", err)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrExhausted, err)
	}
	return result, nil
}

// attempt runs one paced request cycle: limiter, proxy, GET, classify,
// decode, report.
func (c *Client) attempt(ctx context.Context, op, requestURL string) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.runStats.Requests++
	c.mu.Unlock()

	proxyURL, err := c.proxies.Get()
	if err != nil {
		// Every endpoint is cooling down. Going direct beats stalling
		// the whole job.
		c.logger.Warn("all proxies cooling down, using direct connection")
		proxyURL = ""
	}

	httpClient, err := c.clientFor(proxyURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := httpClient.Do(req)
	if err != nil {
		c.reportFailure(op)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.reportFailure(op)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if block := protection.Detect(resp.StatusCode, body); block.IsBlock() {
		c.reportBlock(op, block, proxyURL)
		return nil, fmt.Errorf("blocked upstream: %s (status %d)", block, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.reportFailure(op)
		return nil, fmt.Errorf("invalid JSON response (status %d): %w", resp.StatusCode, err)
	}

	c.reportSuccess(op, proxyURL)
	return decoded, nil
}

// operationURL assembles the persisted-query GET URL with variables and
// extensions as JSON-encoded query parameters.
func (c *Client) operationURL(op, hash string, variables any) (string, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("failed to marshal variables: %w", err)
	}
	ext, err := json.Marshal(requestExtensions{
		PersistedQuery: persistedQuery{Version: 1, Sha256Hash: hash},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal extensions: %w", err)
	}

	q := url.Values{}
	q.Set("operationName", op)
	q.Set("locale", constants.Locale)
	q.Set("currency", constants.Currency)
	q.Set("variables", string(vars))
	q.Set("extensions", string(ext))
	return c.baseURL + constants.APIPathPrefix + op + "?" + q.Encode(), nil
}

// setHeaders writes the header set of the Korean-locale web client. The
// user agent rotates per request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", constants.UserAgents[rand.IntN(len(constants.UserAgents))])
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Airbnb-API-Key", c.creds.APIKey)
	req.Header.Set("X-Airbnb-Currency", constants.Currency)
	req.Header.Set("X-Airbnb-Locale", constants.Locale)
	req.Header.Set("Referer", c.baseURL+constants.SearchLandingPath)
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
}

// clientFor returns the cached HTTP client for a proxy URL, creating it
// on first use. The empty URL is the direct-connection client.
func (c *Client) clientFor(proxyURL string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[proxyURL]; ok {
		return client, nil
	}

	transport := &http.Transport{ForceAttemptHTTP2: true}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	client := &http.Client{Timeout: c.timeout, Transport: transport}
	c.clients[proxyURL] = client
	return client, nil
}

func (c *Client) reportSuccess(op, proxyURL string) {
	c.limiter.ReportSuccess()
	if proxyURL != "" {
		c.proxies.ReportSuccess()
	}
	c.metrics.RequestsTotal.WithLabelValues(op, metrics.OutcomeSuccess).Inc()

	c.mu.Lock()
	c.runStats.Success++
	c.mu.Unlock()
	c.updateGauges()
}

func (c *Client) reportFailure(op string) {
	c.limiter.ReportFailure(protection.BlockNone)
	c.metrics.RequestsTotal.WithLabelValues(op, metrics.OutcomeFailed).Inc()

	c.mu.Lock()
	c.runStats.Failed++
	c.mu.Unlock()
	c.updateGauges()
}

func (c *Client) reportBlock(op string, block protection.BlockType, proxyURL string) {
	c.limiter.ReportFailure(block)
	if proxyURL != "" {
		c.proxies.ReportBlocked()
	}
	c.metrics.BlocksTotal.WithLabelValues(block.String()).Inc()
	c.metrics.RequestsTotal.WithLabelValues(op, metrics.OutcomeBlocked).Inc()

	c.mu.Lock()
	c.runStats.Failed++
	c.runStats.Blocked++
	c.mu.Unlock()
	c.updateGauges()
}

func (c *Client) updateGauges() {
	limiter := c.limiter.Stats()
	c.metrics.RateLimitMultiplier.Set(limiter.Multiplier)
	switch limiter.Circuit {
	case ratelimit.CircuitOpen:
		c.metrics.CircuitState.Set(metrics.CircuitGaugeOpen)
	case ratelimit.CircuitHalfOpen:
		c.metrics.CircuitState.Set(metrics.CircuitGaugeHalfOpen)
	default:
		c.metrics.CircuitState.Set(metrics.CircuitGaugeClosed)
	}
	c.metrics.ProxiesAvailable.Set(float64(c.proxies.Stats().Available))
}

// RunStats returns this client's own request tallies.
func (c *Client) RunStats() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runStats
}

// Stats returns the shared limiter and proxy pool snapshots.
func (c *Client) Stats() Stats {
	return Stats{
		RateLimiter: c.limiter.Stats(),
		Proxies:     c.proxies.Stats(),
	}
}

// Close releases idle connections on every per-proxy client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.CloseIdleConnections()
	}
}
