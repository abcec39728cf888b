// Package credentials persists and discovers the upstream API key and
// the persisted-query hashes the GraphQL endpoints require. Discovery
// has a cheap HTML/bundle-mining path and a browser-driven fallback;
// results are cached on disk for 72 hours.
package credentials

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hyeonbin/stayscan/internal/constants"
)

// Credentials is an API key plus operation-name → sha256 hash mapping.
type Credentials struct {
	APIKey   string
	Hashes   map[string]string
	CachedAt time.Time
}

// Complete reports whether the key and every required operation hash
// are present.
func (c *Credentials) Complete() bool {
	if c == nil || c.APIKey == "" {
		return false
	}
	for _, op := range constants.RequiredOperations {
		if c.Hashes[op] == "" {
			return false
		}
	}
	return true
}

// credentialFile is the on-disk JSON shape. cached_at is seconds since
// epoch as a float, matching the historical format.
type credentialFile struct {
	APIKey   string            `json:"api_key"`
	Hashes   map[string]string `json:"hashes"`
	CachedAt float64           `json:"cached_at"`
}

// Store reads and writes the credential cache file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a credential store backed by the file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "credentials"),
		now:    time.Now,
	}
}

// Load returns the cached credentials, or nil when the file is
// missing, unreadable, holds no API key, or is older than 72 hours.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("credential file is not valid JSON, ignoring", "path", s.path, "error", err)
		return nil, nil
	}
	if f.APIKey == "" {
		return nil, nil
	}

	sec, frac := math.Modf(f.CachedAt)
	cachedAt := time.Unix(int64(sec), int64(frac*1e9))
	age := s.now().Sub(cachedAt)
	if age > constants.CredentialMaxAge {
		s.logger.Info("credential cache expired", "age_hours", age.Hours())
		return nil, nil
	}

	hashes := f.Hashes
	if hashes == nil {
		hashes = map[string]string{}
	}
	s.logger.Info("loaded cached credentials", "age_hours", age.Hours(), "hashes", len(hashes))
	return &Credentials{APIKey: f.APIKey, Hashes: hashes, CachedAt: cachedAt}, nil
}

// Save writes the credentials atomically (temp file + rename),
// stamping the current wall-clock time.
func (s *Store) Save(creds *Credentials) error {
	now := s.now()
	f := credentialFile{
		APIKey:   creds.APIKey,
		Hashes:   creds.Hashes,
		CachedAt: float64(now.UnixNano()) / 1e9,
	}
	if f.Hashes == nil {
		f.Hashes = map[string]string{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create credential directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	creds.CachedAt = now
	s.logger.Info("saved credentials", "path", s.path, "hashes", len(f.Hashes))
	return nil
}
