// Package analysis rolls calendar observation history up into daily
// per-station aggregates and classifies booking transitions.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/logging"
	"github.com/hyeonbin/stayscan/internal/metrics"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

const dateLayout = "2006-01-02"

// statRoomTypes are the aggregation buckets; "" covers all room types.
var statRoomTypes = []string{
	constants.RoomTypeEntireHome,
	constants.RoomTypePrivateRoom,
	constants.RoomTypeSharedRoom,
	constants.RoomTypeHotel,
	"",
}

// Aggregator computes daily per-station stats from the newest calendar
// observation of each (listing, date).
type Aggregator struct {
	repos   *repository.Repositories
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an aggregator over the given repositories.
func New(repos *repository.Repositories, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		repos:   repos,
		metrics: m,
		logger:  logger.With("component", "aggregator"),
		now:     time.Now,
	}
}

// RunDaily rolls up the last daysBack days ending yesterday. Each
// station-date pair is one unit; a failed unit is tallied and the rest
// still run.
func (a *Aggregator) RunDaily(ctx context.Context, daysBack int) (*models.CrawlLog, error) {
	if daysBack < 1 {
		daysBack = 1
	}

	entry := &models.CrawlLog{
		ID:        ulid.Make().String(),
		JobType:   models.JobTypeAggregation,
		StartedAt: a.now().UTC(),
		Status:    models.JobStatusRunning,
	}
	if err := a.repos.CrawlLog.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create crawl log: %w", err)
	}
	ctx = logging.WithJobID(ctx, entry.ID)
	logger := logging.FromContext(ctx, a.logger)

	stations, err := a.repos.Station.List(ctx)
	if err != nil {
		a.finish(ctx, entry, 0, 0, 0, err.Error())
		return entry, fmt.Errorf("failed to list stations: %w", err)
	}

	today := a.now().UTC()
	total := len(stations) * daysBack
	var success, failed, rows int
	for i := 1; i <= daysBack; i++ {
		date := today.AddDate(0, 0, -i).Format(dateLayout)

		latest, err := a.latestByListing(ctx, date)
		if err != nil {
			logger.Error("failed to load calendar observations", "date", date, "error", err)
			failed += len(stations)
			continue
		}

		for _, station := range stations {
			n, err := a.aggregateStation(ctx, station, date, latest)
			if err != nil {
				logger.Error("station aggregation failed",
					"station_id", station.ID, "date", date, "error", err)
				failed++
				continue
			}
			rows += n
			success++
		}
	}

	logger.Info("aggregation finished",
		"days", daysBack, "stations", len(stations), "rows", rows, "failed", failed)
	a.finish(ctx, entry, total, success, failed, "")
	return entry, nil
}

// latestByListing maps listing id to its newest observation of date.
func (a *Aggregator) latestByListing(ctx context.Context, date string) (map[string]*models.CalendarSnapshot, error) {
	snaps, err := a.repos.CalendarSnapshot.LatestForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(snaps, func(s *models.CalendarSnapshot) string { return s.ListingID }), nil
}

// aggregateStation writes one daily_stats row per non-empty room type
// bucket and returns the count written.
func (a *Aggregator) aggregateStation(ctx context.Context, station *models.Station, date string, latest map[string]*models.CalendarSnapshot) (int, error) {
	listings, err := a.repos.Listing.ListByStation(ctx, station.ID)
	if err != nil {
		return 0, err
	}

	rows := 0
	for _, roomType := range statRoomTypes {
		bucket := listings
		if roomType != "" {
			bucket = lo.Filter(listings, func(l *models.Listing, _ int) bool {
				return l.RoomType == roomType
			})
		}
		if len(bucket) == 0 {
			continue
		}

		if err := a.repos.DailyStat.Upsert(ctx, a.bucketStat(station.ID, date, roomType, bucket, latest)); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}

// bucketStat computes one aggregate row from the newest observations of
// the bucket's listings. Booked means the newest observation shows the
// date unavailable; a zero price is treated as unknown.
func (a *Aggregator) bucketStat(stationID, date, roomType string, bucket []*models.Listing, latest map[string]*models.CalendarSnapshot) *models.DailyStat {
	booked := 0
	var prices []float64
	for _, l := range bucket {
		snap, ok := latest[l.ID]
		if !ok || snap.Available {
			continue
		}
		booked++
		if snap.Price != nil && *snap.Price > 0 {
			prices = append(prices, *snap.Price)
		}
	}

	stat := &models.DailyStat{
		ID:               ulid.Make().String(),
		StationID:        stationID,
		Date:             date,
		RoomType:         roomType,
		TotalListings:    len(bucket),
		BookedCount:      booked,
		BookingRate:      float64(booked) / float64(len(bucket)),
		EstimatedRevenue: lo.ToPtr(lo.Sum(prices)),
		CreatedAt:        a.now().UTC(),
	}
	if len(prices) > 0 {
		stat.AvgDailyPrice = lo.ToPtr(lo.Mean(prices))
	}
	return stat
}

// ListingBookingRate returns the share of observed dates in [from, to]
// whose newest observation shows the listing unavailable. Dates never
// observed stay out of the denominator.
func (a *Aggregator) ListingBookingRate(ctx context.Context, listingID, from, to string) (float64, error) {
	snaps, err := a.repos.CalendarSnapshot.LatestRange(ctx, listingID, from, to)
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	booked := lo.CountBy(snaps, func(s *models.CalendarSnapshot) bool { return !s.Available })
	return float64(booked) / float64(len(snaps)), nil
}

// ClassifyBooking interprets the observation history of one
// (listing, date), oldest first. A date seen available and later
// unavailable was booked; one never seen available may be host-blocked
// or just unobserved, so it stays unknown.
func ClassifyBooking(history []*models.CalendarSnapshot) models.BookingClass {
	if len(history) == 0 {
		return models.BookingClassUnknown
	}
	latest := history[len(history)-1]
	if latest.Available {
		return models.BookingClassOpen
	}
	for _, snap := range history[:len(history)-1] {
		if snap.Available {
			return models.BookingClassBooked
		}
	}
	return models.BookingClassUnknown
}

// finish writes the terminal log row on a detached context so a
// canceled run still records its outcome.
func (a *Aggregator) finish(ctx context.Context, entry *models.CrawlLog, total, success, failed int, errMsg string) {
	now := a.now().UTC()
	entry.FinishedAt = &now
	entry.TotalRequests = total
	entry.SuccessfulRequests = success
	entry.FailedRequests = failed
	switch {
	case errMsg != "":
		entry.Status = models.JobStatusFailed
		entry.ErrorMessage = errMsg
	case failed > 0 || success < total:
		entry.Status = models.JobStatusPartial
	default:
		entry.Status = models.JobStatusSuccess
	}

	if err := a.repos.CrawlLog.Finish(context.WithoutCancel(ctx), entry); err != nil {
		logging.FromContext(ctx, a.logger).Error("failed to finish crawl log", "error", err)
	}
	a.metrics.JobsTotal.WithLabelValues(string(entry.JobType), string(entry.Status)).Inc()
	a.metrics.JobDuration.WithLabelValues(string(entry.JobType)).Observe(now.Sub(entry.StartedAt).Seconds())
}
