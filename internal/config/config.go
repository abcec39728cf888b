// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Crawl tier ("A", "B" or "C"). Determines the pacing budget.
	Tier string

	// Airbnb upstream
	BaseURL     string        // e.g. "https://www.airbnb.co.kr"
	HTTPTimeout time.Duration // per-request timeout for API calls

	// Database
	DatabasePath string

	// Credential extraction
	CredentialFile string        // JSON cache for the API key and operation hashes
	ExtractTimeout time.Duration // budget for a full extraction run
	BrowserBin     string        // Chrome/Chromium binary for the browser fallback

	// Station seeding
	StationSeedFile string

	// Proxies. PROXY_LIST wins over PROXY_FILE when both are set.
	ProxyList []string
	ProxyFile string

	// Search job
	SearchMaxPages    int
	CheckinOffsetDays int     // days from "today" to the synthetic check-in
	StayNights        int     // nights between check-in and check-out
	SearchRadiusKm    float64 // half-side of the bounding box around a station

	// Calendar job
	CalendarMonths int

	// Status API
	StatusEnabled     bool
	StatusAddr        string
	StatusCORSOrigins []string
	StatusRPS         int // per-IP requests per second on the status API
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Tier: getEnv("CRAWL_TIER", "A"),

		BaseURL:     getEnv("AIRBNB_BASE_URL", "https://www.airbnb.co.kr"),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		DatabasePath: getEnv("DATABASE_PATH", "data/stayscan.db"),

		CredentialFile: getEnv("CREDENTIAL_FILE", ".api_credentials.json"),
		ExtractTimeout: getEnvDuration("EXTRACT_TIMEOUT", 90*time.Second),
		BrowserBin:     getEnvWithFallback("CHROME_PATH", "ROD_BROWSER_BIN", ""),

		StationSeedFile: getEnv("STATION_SEED_FILE", "data/stations_seoul.json"),

		ProxyList: getEnvSlice("PROXY_LIST", nil),
		ProxyFile: getEnv("PROXY_FILE", "proxies.txt"),

		SearchMaxPages:    getEnvInt("SEARCH_MAX_PAGES", 5),
		CheckinOffsetDays: getEnvInt("SEARCH_CHECKIN_OFFSET_DAYS", 1),
		StayNights:        getEnvInt("SEARCH_STAY_NIGHTS", 1),
		SearchRadiusKm:    getEnvFloat("SEARCH_RADIUS_KM", 3.0),

		CalendarMonths: getEnvInt("CALENDAR_MONTHS", 3),

		StatusEnabled:     getEnvBool("STATUS_ENABLED", true),
		StatusAddr:        getEnv("STATUS_ADDR", ":8090"),
		StatusCORSOrigins: getEnvSlice("STATUS_CORS_ORIGINS", []string{"*"}),
		StatusRPS:         getEnvInt("STATUS_RPS", 10),
	}

	// Normalize and validate tier up front so a typo fails at boot,
	// not mid-crawl.
	cfg.Tier = strings.ToUpper(strings.TrimSpace(cfg.Tier))
	switch cfg.Tier {
	case "A", "B", "C":
	default:
		return nil, fmt.Errorf("CRAWL_TIER must be A, B or C, got %q", cfg.Tier)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.SearchMaxPages < 1 {
		return nil, fmt.Errorf("SEARCH_MAX_PAGES must be >= 1, got %d", cfg.SearchMaxPages)
	}
	if cfg.CalendarMonths < 1 || cfg.CalendarMonths > 12 {
		return nil, fmt.Errorf("CALENDAR_MONTHS must be between 1 and 12, got %d", cfg.CalendarMonths)
	}
	if cfg.SearchRadiusKm <= 0 {
		return nil, fmt.Errorf("SEARCH_RADIUS_KM must be positive, got %v", cfg.SearchRadiusKm)
	}

	return cfg, nil
}

// HasStaticProxies returns true if proxies were supplied directly via env.
func (c *Config) HasStaticProxies() bool {
	return len(c.ProxyList) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}
