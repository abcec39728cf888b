// Package repository defines repository interfaces for data access.
// All implementations are SQLite-backed; IDs are ULIDs assigned by the
// caller, timestamps are stored as RFC3339 strings and dates as
// YYYY-MM-DD strings.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories bind to it so a set can run inside one transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StationRepository defines methods for station data access.
type StationRepository interface {
	// Create inserts a station, ignoring duplicates on (name, line).
	// Returns true when a row was actually inserted.
	Create(ctx context.Context, station *models.Station) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Station, error)
	List(ctx context.Context) ([]*models.Station, error)
	// ListByPriorities returns stations whose priority is in the given
	// set, ordered by priority then name.
	ListByPriorities(ctx context.Context, priorities []int) ([]*models.Station, error)
	Count(ctx context.Context) (int, error)
}

// ListingRepository defines methods for listing data access.
type ListingRepository interface {
	Create(ctx context.Context, listing *models.Listing) error
	GetByID(ctx context.Context, id string) (*models.Listing, error)
	GetByUpstreamID(ctx context.Context, upstreamID string) (*models.Listing, error)
	// TouchSeen bumps last_seen and, when price is non-nil, base_price.
	TouchSeen(ctx context.Context, id string, seenAt time.Time, price *float64) error
	// UpdateDetails overwrites only the non-nil/non-empty detail fields
	// and bumps last_seen. Identity and first_seen never change.
	UpdateDetails(ctx context.Context, listing *models.Listing) error
	// List returns listings ordered by id (ULIDs, so insertion order).
	List(ctx context.Context, limit, offset int) ([]*models.Listing, error)
	ListByStation(ctx context.Context, stationID string) ([]*models.Listing, error)
	Count(ctx context.Context) (int, error)
}

// SearchSnapshotRepository defines methods for search snapshot access.
// The table is append-only.
type SearchSnapshotRepository interface {
	Create(ctx context.Context, snap *models.SearchSnapshot) error
	LatestByStation(ctx context.Context, stationID string) (*models.SearchSnapshot, error)
	// ListByStation returns the most recent snapshots first.
	ListByStation(ctx context.Context, stationID string, limit int) ([]*models.SearchSnapshot, error)
}

// CalendarSnapshotRepository defines methods for calendar snapshot
// access. The table is append-only; "latest" queries rely on ULID ids
// sorting in insertion order.
type CalendarSnapshotRepository interface {
	CreateBatch(ctx context.Context, snaps []*models.CalendarSnapshot) error
	// LatestForDate returns, for one calendar date, the newest
	// observation of every listing that has one.
	LatestForDate(ctx context.Context, date string) ([]*models.CalendarSnapshot, error)
	// LatestRange returns one row per date in [from, to] for a listing,
	// each the newest observation of that date, ordered by date.
	LatestRange(ctx context.Context, listingID, from, to string) ([]*models.CalendarSnapshot, error)
	// History returns every observation of one (listing, date), oldest
	// first.
	History(ctx context.Context, listingID, date string) ([]*models.CalendarSnapshot, error)
}

// DailyStatRepository defines methods for daily aggregate access.
type DailyStatRepository interface {
	// Upsert inserts or replaces the aggregate for the stat's
	// (station_id, date, room_type) key.
	Upsert(ctx context.Context, stat *models.DailyStat) error
	Get(ctx context.Context, stationID, date, roomType string) (*models.DailyStat, error)
	// ListByStationRange returns stats for one station with date in
	// [from, to], ordered by date then room_type.
	ListByStationRange(ctx context.Context, stationID, from, to string) ([]*models.DailyStat, error)
}

// CrawlLogRepository defines methods for crawl log access.
type CrawlLogRepository interface {
	Create(ctx context.Context, log *models.CrawlLog) error
	// Finish writes the terminal status, counters and finished_at.
	Finish(ctx context.Context, log *models.CrawlLog) error
	ListRecent(ctx context.Context, limit int) ([]*models.CrawlLog, error)
	LastByType(ctx context.Context, jobType models.JobType) (*models.CrawlLog, error)
	// MarkStaleRunningFailed fails running rows started more than maxAge
	// ago. A killed process leaves its row running; this reconciles them
	// at the next boot. Returns the number of rows updated.
	MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Repositories holds all repository implementations.
type Repositories struct {
	Station          StationRepository
	Listing          ListingRepository
	SearchSnapshot   SearchSnapshotRepository
	CalendarSnapshot CalendarSnapshotRepository
	DailyStat        DailyStatRepository
	CrawlLog         CrawlLogRepository
}

// NewRepositories creates all repositories using the given database.
func NewRepositories(db *sql.DB) *Repositories {
	return newRepositories(db)
}

// WithTx returns a repository set bound to tx. Writes made through it
// become visible together when tx commits.
func (r *Repositories) WithTx(tx *sql.Tx) *Repositories {
	return newRepositories(tx)
}

func newRepositories(db DBTX) *Repositories {
	return &Repositories{
		Station:          NewSQLiteStationRepository(db),
		Listing:          NewSQLiteListingRepository(db),
		SearchSnapshot:   NewSQLiteSearchSnapshotRepository(db),
		CalendarSnapshot: NewSQLiteCalendarSnapshotRepository(db),
		DailyStat:        NewSQLiteDailyStatRepository(db),
		CrawlLog:         NewSQLiteCrawlLogRepository(db),
	}
}
