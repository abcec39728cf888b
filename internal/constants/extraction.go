// Package constants defines centralized configuration for extraction operations.
package constants

import "time"

// Credential extraction configuration.
const (
	// CredentialMaxAge is how long a cached API key and hash set stay
	// valid before the extractor runs again.
	CredentialMaxAge = 72 * time.Hour

	// MaxBundleFetches caps how many script bundles the fast path
	// downloads from a single page before giving up.
	MaxBundleFetches = 40

	// MaxLazyBundleFetches caps how many lazily-loaded calendar/PDP
	// bundles are fetched from the asyncRequire manifest.
	MaxLazyBundleFetches = 20

	// HashProximityWindow is the max distance (in bytes) between an
	// operation name and its sha256Hash inside a bundle for the pair
	// to be considered related.
	HashProximityWindow = 300

	// FallbackListingPath is visited when no /rooms/ link can be mined
	// from the search page. Any live listing works; this one is a
	// long-standing Seoul listing.
	FallbackListingPath = "/rooms/50620715"
)

// HTTP client retry configuration.
const (
	// MaxRequestAttempts is the number of tries per logical API request.
	// Each attempt re-enters the rate limiter, so blocked attempts are
	// naturally spaced by the escalated delay.
	MaxRequestAttempts = 3
)
