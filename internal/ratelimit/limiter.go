// Package ratelimit paces every outbound request against the upstream.
// A Limiter combines three mechanisms: a jittered base delay scaled by
// an adaptive multiplier, hourly and daily request windows, and a
// circuit breaker that halts traffic after a run of failures.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/protection"
)

// CircuitState is the breaker position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Breaker and multiplier tuning.
const (
	// circuitThreshold is the consecutive-failure run that opens the circuit.
	circuitThreshold = 5
	// circuitOpenWindow is how long an open circuit refuses traffic.
	circuitOpenWindow = 300 * time.Second
	// halfOpenProbes is the number of successes required to close a
	// half-open circuit again.
	halfOpenProbes = 2

	multiplierFloor = 1.0
	multiplierCeil  = 10.0
	multiplierDecay = 0.9

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// escalationFactor maps a block type to the multiplier growth it causes.
// Captcha pages demand the longest off-time, plain rate limits the shortest.
func escalationFactor(block protection.BlockType) float64 {
	switch block {
	case protection.BlockRateLimit:
		return 2.0
	case protection.BlockForbidden:
		return 3.0
	case protection.BlockCaptcha:
		return 4.0
	default:
		return 1.5
	}
}

// Stats is a point-in-time view of the limiter, safe to serialize.
type Stats struct {
	TotalRequests       int          `json:"total_requests"`
	SuccessfulRequests  int          `json:"successful_requests"`
	FailedRequests      int          `json:"failed_requests"`
	BlockedRequests     int          `json:"blocked_requests"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	HourlyCount         int          `json:"hourly_count"`
	DailyCount          int          `json:"daily_count"`
	Multiplier          float64      `json:"multiplier"` // rounded to 2 decimals
	Circuit             CircuitState `json:"circuit"`
	CircuitOpenUntil    *time.Time   `json:"circuit_open_until,omitempty"`
}

// Limiter is the single pacing point shared by all jobs. Wait admits
// callers one at a time; ReportSuccess and ReportFailure feed outcomes
// back without blocking.
type Limiter struct {
	budget constants.TierBudget
	logger *slog.Logger

	// gate serializes admissions so the inter-request delay is global
	// even when jobs overlap.
	gate sync.Mutex

	// mu guards all fields below.
	mu                  sync.Mutex
	multiplier          float64
	total               int
	success             int
	failed              int
	blocked             int
	consecutiveFailures int
	hourCount           int
	dayCount            int
	hourStart           time.Time
	dayStart            time.Time
	circuit             CircuitState
	openUntil           time.Time
	halfOpenRemaining   int

	// Injectable for tests.
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	randFloat func() float64
}

// New creates a limiter for the given budget.
func New(budget constants.TierBudget, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Limiter{
		budget:     budget,
		logger:     logger.With("component", "ratelimit"),
		multiplier: multiplierFloor,
		hourStart:  now,
		dayStart:   now,
		circuit:    CircuitClosed,
		now:        time.Now,
		sleep:      sleepContext,
		randFloat:  rand.Float64,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait suspends the caller until the next request is admissible. The
// order of checks: circuit, window resets, hourly cap, daily cap,
// jittered delay. Returns early only when ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.gate.Lock()
	defer l.gate.Unlock()

	if err := l.waitCircuit(ctx); err != nil {
		return err
	}

	l.resetElapsedWindows()

	if err := l.waitCap(ctx, &l.hourCount, &l.hourStart, hourWindow, l.budget.MaxRequestsPerHour, "hourly"); err != nil {
		return err
	}
	if err := l.waitCap(ctx, &l.dayCount, &l.dayStart, dayWindow, l.budget.MaxRequestsPerDay, "daily"); err != nil {
		return err
	}

	if err := l.sleep(ctx, l.nextDelay()); err != nil {
		return err
	}

	l.mu.Lock()
	l.total++
	l.hourCount++
	l.dayCount++
	l.mu.Unlock()
	return nil
}

// waitCircuit sleeps out an open circuit and arms the half-open probes.
func (l *Limiter) waitCircuit(ctx context.Context) error {
	l.mu.Lock()
	remaining := time.Duration(0)
	if l.circuit == CircuitOpen {
		remaining = l.openUntil.Sub(l.now())
	}
	l.mu.Unlock()

	if remaining <= 0 {
		// An expired open circuit still transitions through half-open.
		l.mu.Lock()
		if l.circuit == CircuitOpen {
			l.circuit = CircuitHalfOpen
			l.halfOpenRemaining = halfOpenProbes
			l.logger.Info("circuit half-open", "probes", halfOpenProbes)
		}
		l.mu.Unlock()
		return nil
	}

	l.logger.Warn("circuit open, suspending", "remaining", remaining.Round(time.Second))
	if err := l.sleep(ctx, remaining); err != nil {
		return err
	}

	l.mu.Lock()
	l.circuit = CircuitHalfOpen
	l.halfOpenRemaining = halfOpenProbes
	l.mu.Unlock()
	l.logger.Info("circuit half-open", "probes", halfOpenProbes)
	return nil
}

// resetElapsedWindows zeroes any window whose span has fully elapsed.
func (l *Limiter) resetElapsedWindows() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.hourStart) >= hourWindow {
		l.hourCount = 0
		l.hourStart = now
	}
	if now.Sub(l.dayStart) >= dayWindow {
		l.dayCount = 0
		l.dayStart = now
	}
}

// waitCap sleeps out the remainder of a window whose cap is reached,
// then resets it.
func (l *Limiter) waitCap(ctx context.Context, count *int, start *time.Time, window time.Duration, limit int, label string) error {
	l.mu.Lock()
	remaining := time.Duration(0)
	if limit > 0 && *count >= limit {
		remaining = window - l.now().Sub(*start)
	}
	l.mu.Unlock()

	if remaining <= 0 {
		if limit > 0 {
			l.mu.Lock()
			if *count >= limit {
				*count = 0
				*start = l.now()
			}
			l.mu.Unlock()
		}
		return nil
	}

	l.logger.Warn("request cap reached, suspending",
		"window", label,
		"cap", limit,
		"remaining", remaining.Round(time.Second))
	if err := l.sleep(ctx, remaining); err != nil {
		return err
	}

	l.mu.Lock()
	*count = 0
	*start = l.now()
	l.mu.Unlock()
	return nil
}

// nextDelay computes the jittered, multiplier-scaled inter-request delay.
func (l *Limiter) nextDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	jitter := l.budget.JitterLow + l.randFloat()*(l.budget.JitterHigh-l.budget.JitterLow)
	seconds := (l.budget.DelayBase + jitter) * l.multiplier
	return time.Duration(seconds * float64(time.Second))
}

// ReportSuccess records a successful request. The multiplier decays
// toward its floor and a half-open circuit moves toward closed.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.success++
	l.consecutiveFailures = 0

	if l.multiplier > multiplierFloor {
		l.multiplier = math.Max(multiplierFloor, l.multiplier*multiplierDecay)
	}

	if l.circuit == CircuitHalfOpen {
		l.halfOpenRemaining--
		if l.halfOpenRemaining <= 0 {
			l.circuit = CircuitClosed
			l.logger.Info("circuit closed")
		}
	}
}

// ReportFailure records a failed request. Recognized blocks escalate
// the multiplier by a type-specific factor; a run of failures opens
// the circuit.
func (l *Limiter) ReportFailure(block protection.BlockType) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failed++
	l.consecutiveFailures++

	if block.IsBlock() {
		l.blocked++
		before := l.multiplier
		l.multiplier = math.Min(multiplierCeil, l.multiplier*escalationFactor(block))
		l.logger.Warn("block detected",
			"type", block.String(),
			"multiplier", math.Round(l.multiplier*100)/100,
			"previous", math.Round(before*100)/100)
	}

	if l.consecutiveFailures >= circuitThreshold {
		l.circuit = CircuitOpen
		l.openUntil = l.now().Add(circuitOpenWindow)
		l.consecutiveFailures = 0
		l.logger.Warn("circuit opened",
			"threshold", circuitThreshold,
			"open_for", circuitOpenWindow)
	}
}

// Stats returns a snapshot of the limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		TotalRequests:       l.total,
		SuccessfulRequests:  l.success,
		FailedRequests:      l.failed,
		BlockedRequests:     l.blocked,
		ConsecutiveFailures: l.consecutiveFailures,
		HourlyCount:         l.hourCount,
		DailyCount:          l.dayCount,
		Multiplier:          math.Round(l.multiplier*100) / 100,
		Circuit:             l.circuit,
	}
	if l.circuit == CircuitOpen {
		until := l.openUntil
		s.CircuitOpenUntil = &until
	}
	return s
}

// Multiplier returns the current adaptive multiplier rounded to two
// decimals.
func (l *Limiter) Multiplier() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return math.Round(l.multiplier*100) / 100
}
