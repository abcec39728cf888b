package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/hyeonbin/stayscan/internal/constants"
)

// ErrNoAPIKey is returned when neither the page nor any scanned bundle
// yielded an API key. Partial hashes may still accompany it.
var ErrNoAPIKey = errors.New("api key not found in page or bundles")

// API key mining patterns, tried in order; first match wins.
var apiKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"key"\s*:\s*"([a-z0-9]{32,})"`),
	regexp.MustCompile(`"api_key"\s*:\s*"([a-z0-9]{32,})"`),
	regexp.MustCompile(`"AIRBNB_API_KEY"\s*:\s*"([a-z0-9]{32,})"`),
	regexp.MustCompile(`x-airbnb-api-key['"]?\s*[:=]\s*['"]?([a-z0-9]{32,})`),
}

// hashPatterns maps each required operation to its mining patterns:
// the webpack registration form (name/operationId) and the persisted
// query form in both directions, bounded by a proximity window.
var hashPatterns = buildHashPatterns()

func buildHashPatterns() map[string][]*regexp.Regexp {
	m := make(map[string][]*regexp.Regexp, len(constants.RequiredOperations))
	for _, op := range constants.RequiredOperations {
		q := regexp.QuoteMeta(op)
		w := fmt.Sprintf("{0,%d}", constants.HashProximityWindow)
		m[op] = []*regexp.Regexp{
			regexp.MustCompile(`(?s)name\s*:\s*['"]` + q + `['"].` + w + `?operationId\s*:\s*['"]([0-9a-f]{64})['"]`),
			regexp.MustCompile(`(?s)"` + q + `".` + w + `?"sha256Hash"\s*:\s*"([0-9a-f]{64})"`),
			regexp.MustCompile(`(?s)"sha256Hash"\s*:\s*"([0-9a-f]{64})".` + w + `?"` + q + `"`),
		}
	}
	return m
}

// Listing page discovery: numeric /rooms/ link, base64 id token
// ("RGVtYW5kU3RheUxpc3Rpbmc6" decodes to "DemandStayListing:"), or a
// bare propertyId field.
var (
	roomsLinkPattern    = regexp.MustCompile(`/rooms/(\d+)`)
	stayTokenPattern    = regexp.MustCompile(`RGVtYW5kU3RheUxpc3Rpbmc6[A-Za-z0-9+/=]+`)
	propertyIDPattern   = regexp.MustCompile(`"propertyId"\s*:\s*"?(\d+)"?`)
	lazyBundlePattern   = regexp.MustCompile(`[\w@~./-]*(?:RoomCalendar|AvailabilityCalendar|PdpPlatformRoute)[\w@~.-]*\.js`)
	scriptURLAllowedExt = ".js"
)

// Extractor mines the API key and operation hashes out of the
// upstream's HTML and script bundles without a browser.
type Extractor struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExtractor creates the fast-path extractor. baseURL is the
// upstream origin, e.g. https://www.airbnb.co.kr.
func NewExtractor(baseURL string, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: constants.UserAgents[rand.IntN(len(constants.UserAgents))],
		timeout:   timeout,
		logger:    logger.With("component", "extractor"),
	}
}

// Extract runs the fast path: landing page, its bundles, a listing
// page fallback, then lazily referenced calendar/PDP bundles. It
// returns whatever it found; ErrNoAPIKey signals the caller to fall
// back to the browser path.
func (e *Extractor) Extract(ctx context.Context) (*Credentials, error) {
	creds := &Credentials{Hashes: map[string]string{}}
	landingURL := e.baseURL + constants.SearchLandingPath

	e.logger.Info("scanning landing page", "url", landingURL)
	landing, scripts, err := e.fetchPage(landingURL)
	if err != nil {
		return creds, fmt.Errorf("failed to fetch landing page: %w", err)
	}
	e.scanText(creds, string(landing))

	var lazyRefs []string
	budget := constants.MaxBundleFetches
	lazyRefs = e.scanBundles(ctx, creds, scripts, &budget, lazyRefs)

	if !creds.Complete() && ctx.Err() == nil {
		listingURL := e.listingURL(string(landing))
		e.logger.Info("scanning listing page", "url", listingURL)
		body, listingScripts, err := e.fetchPage(listingURL)
		if err != nil {
			e.logger.Warn("listing page fetch failed", "error", err)
		} else {
			e.scanText(creds, string(body))
			lazyRefs = e.scanBundles(ctx, creds, listingScripts, &budget, lazyRefs)
		}
	}

	if !creds.Complete() && ctx.Err() == nil {
		e.scanLazyBundles(ctx, creds, lazyRefs)
	}

	if err := ctx.Err(); err != nil {
		return creds, err
	}
	if creds.APIKey == "" {
		e.logger.Error("fast path found no api key", "hashes", len(creds.Hashes))
		return creds, ErrNoAPIKey
	}
	e.logger.Info("fast path complete", "hashes", len(creds.Hashes), "complete", creds.Complete())
	return creds, nil
}

// scanBundles fetches script bundles under the shared budget, scanning
// each and gathering lazy bundle references for step six.
func (e *Extractor) scanBundles(ctx context.Context, creds *Credentials, scripts []string, budget *int, lazyRefs []string) []string {
	for _, src := range scripts {
		if creds.Complete() || *budget <= 0 || ctx.Err() != nil {
			break
		}
		if !strings.Contains(src, scriptURLAllowedExt) {
			continue
		}
		body, err := e.fetchBody(src)
		if err != nil {
			e.logger.Debug("bundle fetch failed", "url", src, "error", err)
			continue
		}
		*budget--
		text := string(body)
		e.scanText(creds, text)
		lazyRefs = appendLazyRefs(lazyRefs, src, text)
	}
	return lazyRefs
}

func (e *Extractor) scanLazyBundles(ctx context.Context, creds *Credentials, refs []string) {
	fetched := 0
	for _, ref := range refs {
		if creds.Complete() || fetched >= constants.MaxLazyBundleFetches || ctx.Err() != nil {
			return
		}
		body, err := e.fetchBody(ref)
		if err != nil {
			e.logger.Debug("lazy bundle fetch failed", "url", ref, "error", err)
			continue
		}
		fetched++
		e.scanText(creds, string(body))
	}
}

// scanText applies the key and hash patterns to one document, filling
// only the fields still missing.
func (e *Extractor) scanText(creds *Credentials, text string) {
	if creds.APIKey == "" {
		for _, p := range apiKeyPatterns {
			if m := p.FindStringSubmatch(text); m != nil {
				creds.APIKey = m[1]
				e.logger.Info("found api key", "key", maskKey(creds.APIKey))
				break
			}
		}
	}
	for _, op := range constants.RequiredOperations {
		if creds.Hashes[op] != "" {
			continue
		}
		for _, p := range hashPatterns[op] {
			if m := p.FindStringSubmatch(text); m != nil {
				creds.Hashes[op] = m[1]
				e.logger.Info("found operation hash", "operation", op)
				break
			}
		}
	}
}

// listingURL picks a listing detail page out of the landing HTML,
// falling back to a known listing when nothing parses.
func (e *Extractor) listingURL(landing string) string {
	if m := roomsLinkPattern.FindStringSubmatch(landing); m != nil {
		return e.baseURL + "/rooms/" + m[1]
	}
	if m := stayTokenPattern.FindString(landing); m != "" {
		if id := decodeStayToken(m); id != "" {
			return e.baseURL + "/rooms/" + id
		}
	}
	if m := propertyIDPattern.FindStringSubmatch(landing); m != nil {
		return e.baseURL + "/rooms/" + m[1]
	}
	return e.baseURL + constants.FallbackListingPath
}

// fetchPage GETs an HTML document, returning the body and the absolute
// URLs of its script tags.
func (e *Extractor) fetchPage(u string) ([]byte, []string, error) {
	var body []byte
	var scripts []string
	c := e.newCollector()
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnHTML("script[src]", func(h *colly.HTMLElement) {
		if src := h.Request.AbsoluteURL(h.Attr("src")); src != "" {
			scripts = append(scripts, src)
		}
	})
	if err := c.Visit(u); err != nil {
		return nil, nil, err
	}
	return body, scripts, nil
}

func (e *Extractor) fetchBody(u string) ([]byte, error) {
	var body []byte
	c := e.newCollector()
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	if err := c.Visit(u); err != nil {
		return nil, err
	}
	return body, nil
}

func (e *Extractor) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(e.userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(e.timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")
	})
	return c
}

// appendLazyRefs resolves calendar/PDP bundle references found in text
// against the document they appeared in.
func appendLazyRefs(refs []string, docURL, text string) []string {
	base, err := url.Parse(docURL)
	if err != nil {
		return refs
	}
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r] = true
	}
	for _, m := range lazyBundlePattern.FindAllString(text, -1) {
		ref, err := url.Parse(m)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref).String()
		if !seen[resolved] {
			seen[resolved] = true
			refs = append(refs, resolved)
		}
	}
	return refs
}

func decodeStayToken(token string) string {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ""
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func maskKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
