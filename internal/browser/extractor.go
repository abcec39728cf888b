// Package browser drives a stealth Chromium session that captures the
// upstream API key and operation hashes off the site's own XHR
// traffic. It is the fallback for when HTML mining finds no key.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/credentials"
)

// webdriverScript hides the automation flag before any site script
// runs; stealth.Page covers the rest.
const webdriverScript = `Object.defineProperty(navigator, 'webdriver', { get: () => false });`

// Extractor watches outgoing /api/v3/ requests for the API key header
// and persisted-query extensions.
type Extractor struct {
	baseURL   string
	bin       string
	headless  bool
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

// NewExtractor creates the browser-driven extractor. bin may be empty
// to let the launcher resolve a managed Chromium.
func NewExtractor(baseURL, bin string, headless bool, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		baseURL:   strings.TrimRight(baseURL, "/"),
		bin:       bin,
		headless:  headless,
		timeout:   timeout,
		userAgent: constants.UserAgents[rand.IntN(len(constants.UserAgents))],
		logger:    logger.With("component", "browser"),
	}
}

// Extract navigates the search page, scrolls to induce XHR, and visits
// a listing page until the key and hashes are captured or the timeout
// lapses. Partial results are returned alongside ErrNoAPIKey.
func (e *Extractor) Extract(ctx context.Context) (*credentials.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	l := launcher.New()
	if e.bin != "" {
		l = l.Bin(e.bin)
	}
	l = l.
		Headless(e.headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("window-size", "1920,1080").
		Set("lang", "ko-KR,ko")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}
	if _, err := page.EvalOnNewDocument(webdriverScript); err != nil {
		return nil, fmt.Errorf("failed to inject stealth script: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      e.userAgent,
		AcceptLanguage: "ko-KR,ko;q=0.9,en;q=0.8",
	}); err != nil {
		return nil, fmt.Errorf("failed to set user agent: %w", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: "Asia/Seoul"}).Call(page); err != nil {
		e.logger.Debug("timezone override failed", "error", err)
	}

	var mu sync.Mutex
	captured := &credentials.Credentials{Hashes: map[string]string{}}
	wait := page.EachEvent(func(ev *proto.NetworkRequestWillBeSent) bool {
		mu.Lock()
		defer mu.Unlock()
		e.capture(captured, ev)
		return captured.Complete()
	})
	go wait()

	snapshot := func() *credentials.Credentials {
		mu.Lock()
		defer mu.Unlock()
		out := &credentials.Credentials{APIKey: captured.APIKey, Hashes: map[string]string{}}
		for op, h := range captured.Hashes {
			out.Hashes[op] = h
		}
		return out
	}
	complete := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return captured.Complete()
	}

	landingURL := e.baseURL + constants.SearchLandingPath
	e.logger.Info("navigating search page", "url", landingURL, "headless", e.headless)
	if err := page.Navigate(landingURL); err != nil {
		return snapshot(), fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		e.logger.Warn("page load wait failed", "error", err)
	}
	ctxSleep(ctx, 3*time.Second)

	// The search page fires StaysSearch on its own; scrolling triggers
	// more result batches when the first burst was not captured.
	for i := 0; i < 3 && !complete() && ctx.Err() == nil; i++ {
		if _, err := page.Eval(`() => window.scrollBy(0, 800)`); err != nil {
			break
		}
		ctxSleep(ctx, 2*time.Second)
	}

	// Bootstrap JSON carries the key even when no XHR fired yet.
	if snap := snapshot(); snap.APIKey == "" && ctx.Err() == nil {
		if key := e.mineKeyFromPage(page); key != "" {
			mu.Lock()
			if captured.APIKey == "" {
				captured.APIKey = key
			}
			mu.Unlock()
		}
	}

	// Calendar and PDP operations only fire from a listing page.
	if !complete() && ctx.Err() == nil {
		e.visitListing(page)
	}

	result := snapshot()
	if result.APIKey == "" {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		e.logger.Error("browser path found no api key", "hashes", len(result.Hashes))
		return result, credentials.ErrNoAPIKey
	}
	e.logger.Info("browser extraction complete", "hashes", len(result.Hashes), "complete", result.Complete())
	return result, nil
}

// capture records the key header and the persisted-query hash of one
// outgoing request. Callers hold the mutex.
func (e *Extractor) capture(creds *credentials.Credentials, ev *proto.NetworkRequestWillBeSent) {
	requestURL := ev.Request.URL
	if !strings.Contains(requestURL, constants.APIPathPrefix) {
		return
	}

	if creds.APIKey == "" {
		for header, value := range ev.Request.Headers {
			if strings.EqualFold(header, "x-airbnb-api-key") {
				if key := value.Str(); key != "" {
					creds.APIKey = key
					e.logger.Info("captured api key from request")
				}
				break
			}
		}
	}

	parsed, err := url.Parse(requestURL)
	if err != nil {
		return
	}
	query := parsed.Query()
	op := query.Get("operationName")
	ext := query.Get("extensions")
	if op == "" || ext == "" || creds.Hashes[op] != "" {
		return
	}
	var extensions struct {
		PersistedQuery struct {
			Sha256Hash string `json:"sha256Hash"`
		} `json:"persistedQuery"`
	}
	if err := json.Unmarshal([]byte(ext), &extensions); err != nil {
		return
	}
	if h := extensions.PersistedQuery.Sha256Hash; h != "" {
		creds.Hashes[op] = h
		e.logger.Info("captured operation hash", "operation", op)
	}
}

// mineKeyFromPage scrapes the bootstrap JSON rendered into the page.
func (e *Extractor) mineKeyFromPage(page *rod.Page) string {
	res, err := page.Eval(`() => {
		const nextData = document.getElementById('__NEXT_DATA__');
		if (nextData) {
			const m = nextData.textContent.match(/"key":"([a-z0-9]{32,})"/);
			if (m) return m[1];
		}
		const html = document.documentElement.innerHTML;
		const m = html.match(/"api_config":\{"key":"([a-z0-9]{32,})"/);
		return m ? m[1] : '';
	}`)
	if err != nil {
		e.logger.Debug("page key mining failed", "error", err)
		return ""
	}
	return res.Value.Str()
}

// visitListing opens the first listing link so the PDP and calendar
// operations fire.
func (e *Extractor) visitListing(page *rod.Page) {
	res, err := page.Eval(`() => {
		const links = document.querySelectorAll('a[href*="/rooms/"]');
		for (const link of links) {
			const href = link.getAttribute('href');
			if (href && /\/rooms\/\d+/.test(href)) return href;
		}
		return '';
	}`)
	if err != nil || res.Value.Str() == "" {
		e.logger.Debug("no listing link found on search page")
		return
	}
	href := res.Value.Str()
	if !strings.HasPrefix(href, "http") {
		href = e.baseURL + href
	}

	e.logger.Info("visiting listing page", "url", href)
	if err := page.Navigate(href); err != nil {
		e.logger.Warn("listing navigation failed", "error", err)
		return
	}
	if err := page.WaitLoad(); err != nil {
		e.logger.Debug("listing load wait failed", "error", err)
	}
	ctxSleep(page.GetContext(), 3*time.Second)
}

func ctxSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
