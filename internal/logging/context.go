package logging

import (
	"context"
	"log/slog"
)

// ContextKey is the type used for logging-related context values.
type ContextKey string

const (
	// JobIDKey carries the crawl log ID of the currently running job.
	JobIDKey ContextKey = "log_job_id"
	// StationIDKey carries the station being crawled.
	StationIDKey ContextKey = "log_station_id"
)

// WithJobID returns a context carrying the crawl job ID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithStationID returns a context carrying the station ID.
func WithStationID(ctx context.Context, stationID string) context.Context {
	return context.WithValue(ctx, StationIDKey, stationID)
}

// GetJobID extracts the crawl job ID from the context, or "" if unset.
func GetJobID(ctx context.Context) string {
	if v, ok := ctx.Value(JobIDKey).(string); ok {
		return v
	}
	return ""
}

// GetStationID extracts the station ID from the context, or "" if unset.
func GetStationID(ctx context.Context) string {
	if v, ok := ctx.Value(StationIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the logger enriched with any job/station IDs present
// in the context. Returns the logger unchanged when neither is set.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if jobID := GetJobID(ctx); jobID != "" {
		logger = logger.With("job_id", jobID)
	}
	if stationID := GetStationID(ctx); stationID != "" {
		logger = logger.With("station_id", stationID)
	}
	return logger
}
