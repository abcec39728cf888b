package credentials

import (
	"context"
	"errors"
	"log/slog"
)

// Discoverer produces credentials from the upstream site. The fast
// extractor and the browser extractor both satisfy it.
type Discoverer interface {
	Extract(ctx context.Context) (*Credentials, error)
}

// ErrNoCredentials means every discovery path came back without an API
// key; crawl jobs must refuse to run.
var ErrNoCredentials = errors.New("no credentials available")

// Resolve returns usable credentials: the cached record when fresh and
// complete, otherwise whatever discovery assembles. Partial results
// from earlier runs are carried forward, the slow path runs only when
// the fast path produced no API key, and any result with a key is
// persisted.
func Resolve(ctx context.Context, store *Store, fast, slow Discoverer, force bool, logger *slog.Logger) (*Credentials, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "credentials")

	merged := &Credentials{Hashes: map[string]string{}}
	if !force {
		cached, err := store.Load()
		if err != nil {
			return nil, err
		}
		if cached != nil {
			if cached.Complete() {
				return cached, nil
			}
			merge(merged, cached)
			logger.Info("cached credentials incomplete, re-running discovery", "hashes", len(cached.Hashes))
		}
	}

	fastCreds, err := fast.Extract(ctx)
	if fastCreds != nil {
		merge(merged, fastCreds)
	}
	if err != nil && !errors.Is(err, ErrNoAPIKey) {
		logger.Warn("fast extraction failed", "error", err)
	}

	if merged.APIKey == "" && slow != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Info("falling back to browser extraction")
		slowCreds, err := slow.Extract(ctx)
		if err != nil {
			logger.Warn("browser extraction failed", "error", err)
		}
		if slowCreds != nil {
			merge(merged, slowCreds)
		}
	}

	if merged.APIKey == "" {
		return nil, ErrNoCredentials
	}
	if err := store.Save(merged); err != nil {
		logger.Warn("failed to persist credentials", "error", err)
	}
	return merged, nil
}

// merge fills dst from src without overwriting values dst already has.
func merge(dst, src *Credentials) {
	if dst.APIKey == "" {
		dst.APIKey = src.APIKey
	}
	for op, h := range src.Hashes {
		if dst.Hashes[op] == "" && h != "" {
			dst.Hashes[op] = h
		}
	}
}
