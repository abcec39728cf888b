// Package protection classifies upstream responses as soft blocks.
// The upstream never says "you are blocked" outright; it answers with
// throttle statuses, captcha interstitials, or hollow skeleton pages.
package protection

import (
	"net/http"
	"strings"
)

// BlockType identifies the kind of block detected in a response.
type BlockType string

const (
	BlockNone        BlockType = "none"
	BlockRateLimit   BlockType = "rate_limit"
	BlockForbidden   BlockType = "forbidden"
	BlockCaptcha     BlockType = "captcha"
	BlockSkeleton    BlockType = "skeleton"
	BlockServerError BlockType = "server_error"
)

const (
	// bodyScanWindow bounds how much of the body is inspected for
	// block markers. Challenge pages announce themselves early.
	bodyScanWindow = 5000

	// skeletonMaxLen is the body size under which a 200 response is
	// treated as a hollow page rather than real content.
	skeletonMaxLen = 100
)

// Marker strings are matched case-insensitively against the scan window.
var (
	captchaMarkers = []string{
		"captcha",
		"recaptcha",
		"hcaptcha",
		"challenge-platform",
	}

	forbiddenMarkers = []string{
		"pardon our interruption",
		"access denied",
	}
)

// Detect maps a response to a block type. It is a total function: any
// (status, body) pair yields a classification and it never fails.
func Detect(statusCode int, body []byte) BlockType {
	switch statusCode {
	case http.StatusTooManyRequests: // 429
		return BlockRateLimit
	case http.StatusForbidden: // 403
		return BlockForbidden
	case http.StatusServiceUnavailable: // 503
		return BlockServerError
	}

	// Body inspection applies only to nominal responses. Other statuses
	// (404, 500, redirects) are plain errors, not blocks.
	if statusCode != http.StatusOK {
		return BlockNone
	}

	window := body
	if len(window) > bodyScanWindow {
		window = window[:bodyScanWindow]
	}
	text := strings.ToLower(string(window))

	for _, marker := range captchaMarkers {
		if strings.Contains(text, marker) {
			return BlockCaptcha
		}
	}

	for _, marker := range forbiddenMarkers {
		if strings.Contains(text, marker) {
			return BlockForbidden
		}
	}

	if len(body) < skeletonMaxLen && !strings.Contains(text, "error") {
		return BlockSkeleton
	}

	return BlockNone
}

// IsBlock reports whether the classification should count as a failure.
func (b BlockType) IsBlock() bool {
	return b != BlockNone && b != ""
}

// String returns the block type label used in logs and metrics.
func (b BlockType) String() string {
	if b == "" {
		return string(BlockNone)
	}
	return string(b)
}
