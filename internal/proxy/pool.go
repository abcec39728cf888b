// Package proxy rotates outbound requests across a pool of proxy
// endpoints. An empty pool is a valid configuration and means every
// request goes out on a direct connection.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrAllCoolingDown is returned by Get when every proxy in a non-empty
// pool is inside its block cooldown. Callers may treat it as advisory
// and proceed direct.
var ErrAllCoolingDown = errors.New("all proxies cooling down")

// blockCooldown is how long a blocked proxy sits out before passive
// restore makes it eligible again.
const blockCooldown = 300 * time.Second

// state tracks one proxy endpoint. Cooldown expiry restores health
// lazily, on the next availability check.
type state struct {
	url           string
	windowCount   int
	totalRequests int
	blockedCount  int
	lastUsed      time.Time
	cooldownUntil time.Time
	healthy       bool
}

func (s *state) available(now time.Time) bool {
	if now.After(s.cooldownUntil) {
		s.healthy = true
	}
	return s.healthy
}

// Stat is the exported view of one proxy. The URL is withheld because
// entries commonly embed credentials.
type Stat struct {
	Index    int  `json:"index"`
	Requests int  `json:"requests"`
	Blocked  int  `json:"blocked"`
	Healthy  bool `json:"healthy"`
}

// Stats summarizes the pool.
type Stats struct {
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Proxies   []Stat `json:"proxies,omitempty"`
}

// Pool hands out proxy URLs round-robin, rotating after a fixed number
// of requests per endpoint and cooling blocked endpoints down. Safe
// for concurrent use.
type Pool struct {
	logger      *slog.Logger
	rotateAfter int

	mu     sync.Mutex
	states []*state
	cursor int

	now func() time.Time
}

// New creates a pool over the given URLs. rotateAfter is the
// per-endpoint request count before the cursor advances; zero or
// negative disables count-based rotation.
func New(urls []string, rotateAfter int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:      logger.With("component", "proxy"),
		rotateAfter: rotateAfter,
		now:         time.Now,
	}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		p.states = append(p.states, &state{url: u, healthy: true})
	}
	if len(p.states) > 0 {
		p.logger.Info("proxy pool initialized", "proxies", len(p.states), "rotate_after", rotateAfter)
	}
	return p
}

// LoadURLs merges proxy URLs from a config list and a text file. The
// file holds one URL per line; blank lines and # comments are skipped.
// A missing file is not an error.
func LoadURLs(entries []string, path string) ([]string, error) {
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			urls = append(urls, e)
		}
	}

	if path == "" {
		return urls, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return urls, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}

// HasProxies reports whether the pool holds any endpoints.
func (p *Pool) HasProxies() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states) > 0
}

// Get returns the next proxy URL, or "" for a direct connection when
// the pool is empty. When every endpoint is cooling down it returns
// ("", ErrAllCoolingDown).
func (p *Pool) Get() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.states) == 0 {
		return "", nil
	}

	for attempts := 0; attempts < len(p.states); {
		st := p.states[p.cursor]

		if st.available(p.now()) {
			if p.rotateAfter > 0 && st.windowCount >= p.rotateAfter {
				st.windowCount = 0
				p.advance()
				continue
			}
			st.windowCount++
			st.totalRequests++
			st.lastUsed = p.now()
			return st.url, nil
		}

		p.advance()
		attempts++
	}

	p.logger.Error("no available proxies", "total", len(p.states))
	return "", ErrAllCoolingDown
}

// ReportSuccess clears the health flag on the proxy at the cursor.
func (p *Pool) ReportSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.states) == 0 {
		return
	}
	p.states[p.cursor].healthy = true
}

// ReportBlocked marks the proxy at the cursor blocked, starts its
// cooldown and advances the cursor. The endpoint stays in the pool;
// cooldown expiry reintroduces it.
func (p *Pool) ReportBlocked() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.states) == 0 {
		return
	}
	st := p.states[p.cursor]
	st.blockedCount++
	st.cooldownUntil = p.now().Add(blockCooldown)
	st.healthy = false
	p.logger.Warn("proxy blocked",
		"proxy", shorten(st.url),
		"total_blocks", st.blockedCount,
		"cooldown", blockCooldown)
	p.advance()
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.states)}
	now := p.now()
	for i, st := range p.states {
		if st.available(now) {
			s.Available++
		}
		s.Proxies = append(s.Proxies, Stat{
			Index:    i,
			Requests: st.totalRequests,
			Blocked:  st.blockedCount,
			Healthy:  st.healthy,
		})
	}
	return s
}

func (p *Pool) advance() {
	if len(p.states) > 0 {
		p.cursor = (p.cursor + 1) % len(p.states)
	}
}

// shorten trims a proxy URL for logging so credentials in the
// user:pass@host form do not land in full in the logs.
func shorten(url string) string {
	if len(url) <= 30 {
		return url
	}
	return url[:30] + "..."
}
