// Package models defines the domain models for the application.
// Stations are seeded once from a JSON file; listings and snapshots are
// produced by the crawl jobs. Snapshot tables are append-only.
package models

import (
	"time"
)

// Station represents a subway station whose neighborhood is observed.
type Station struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Line      string    `json:"line"`
	District  string    `json:"district,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Priority  int       `json:"priority"` // 1 = highest, 3 = lowest
	CreatedAt time.Time `json:"created_at"`
}

// Listing represents a short-term rental unit discovered by the search job.
// Columns other than the upstream id are filled opportunistically: the
// search job provides name/coordinates/price, the detail job fills room
// layout and host fields. Partial updates are legal.
type Listing struct {
	ID               string     `json:"id"`
	UpstreamID       string     `json:"upstream_id"` // numeric id on the upstream site, unique
	Name             string     `json:"name,omitempty"`
	HostID           string     `json:"host_id,omitempty"`
	RoomType         string     `json:"room_type,omitempty"` // entire_home / private_room / shared_room / hotel / unknown
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	NearestStationID *string    `json:"nearest_station_id,omitempty"`
	Bedrooms         *int       `json:"bedrooms,omitempty"`
	Bathrooms        *float64   `json:"bathrooms,omitempty"`
	MaxGuests        *int       `json:"max_guests,omitempty"`
	BasePrice        *float64   `json:"base_price,omitempty"` // nightly price in KRW
	Rating           *float64   `json:"rating,omitempty"`
	ReviewCount      *int       `json:"review_count,omitempty"`
	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         time.Time  `json:"last_seen"`
}

// SearchSnapshot is one observation of a station's search results.
type SearchSnapshot struct {
	ID             string    `json:"id"`
	StationID      string    `json:"station_id"`
	CrawledAt      time.Time `json:"crawled_at"`
	TotalListings  int       `json:"total_listings"`
	AvgPrice       *float64  `json:"avg_price,omitempty"`
	MinPrice       *float64  `json:"min_price,omitempty"`
	MaxPrice       *float64  `json:"max_price,omitempty"`
	MedianPrice    *float64  `json:"median_price,omitempty"`
	AvailableCount int       `json:"available_count"`
	CheckinDate    string    `json:"checkin_date"`  // YYYY-MM-DD
	CheckoutDate   string    `json:"checkout_date"` // YYYY-MM-DD
	ContentDigest  string    `json:"content_digest,omitempty"` // 16-hex, duplicate detection
}

// CalendarSnapshot is one observation of one listing-date. Rows for the
// same (listing, date) accumulate over time; the newest one wins for
// aggregation, and the history drives the booked-vs-blocked heuristic.
type CalendarSnapshot struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	CrawledAt time.Time `json:"crawled_at"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Available bool      `json:"available"`
	Price     *float64  `json:"price,omitempty"`      // nightly price in KRW
	MinNights *int      `json:"min_nights,omitempty"`
}

// JobType identifies a crawl or aggregation job.
type JobType string

const (
	JobTypeSearch      JobType = "search"
	JobTypeCalendar    JobType = "calendar"
	JobTypeDetail      JobType = "detail"
	JobTypeAggregation JobType = "aggregation"
)

// JobStatus is the status of a job run.
type JobStatus string

const (
	// JobStatusRunning is the transient status between start and finish.
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess means every unit in the job succeeded.
	JobStatusSuccess JobStatus = "success"
	// JobStatusPartial means at least one unit failed but the job ran.
	JobStatusPartial JobStatus = "partial"
	// JobStatusFailed means a job-wide setup error prevented the run.
	JobStatusFailed JobStatus = "failed"
)

// CrawlLog records one job invocation. Request counters are unit
// counters: one station or listing processed counts once regardless of
// paging or retries underneath.
type CrawlLog struct {
	ID                 string     `json:"id"`
	JobType            JobType    `json:"job_type"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Status             JobStatus  `json:"status"`
	TotalRequests      int        `json:"total_requests"`
	SuccessfulRequests int        `json:"successful_requests"`
	FailedRequests     int        `json:"failed_requests"`
	BlockedRequests    int        `json:"blocked_requests"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

// DailyStat is the per-station, per-date, per-room-type aggregate
// derived from calendar snapshots. RoomType "" covers all room types.
type DailyStat struct {
	ID               string    `json:"id"`
	StationID        string    `json:"station_id"`
	Date             string    `json:"date"` // YYYY-MM-DD
	RoomType         string    `json:"room_type,omitempty"`
	TotalListings    int       `json:"total_listings"`
	BookedCount      int       `json:"booked_count"`
	BookingRate      float64   `json:"booking_rate"` // 0..1
	AvgDailyPrice    *float64  `json:"avg_daily_price,omitempty"`
	EstimatedRevenue *float64  `json:"estimated_revenue,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// BookingClass is the aggregation layer's interpretation of a
// (listing, date) observation history.
type BookingClass string

const (
	// BookingClassBooked: latest observation unavailable, an earlier one available.
	BookingClassBooked BookingClass = "booked"
	// BookingClassOpen: latest observation available.
	BookingClassOpen BookingClass = "open"
	// BookingClassUnknown: never observed available (host block or data gap).
	BookingClassUnknown BookingClass = "unknown"
)
