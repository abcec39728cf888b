package analysis

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/database/migrations"
	"github.com/hyeonbin/stayscan/internal/metrics"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

const yesterday = "2026-03-14"

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newTestAggregator(t *testing.T) (*Aggregator, *repository.Repositories) {
	t.Helper()

	repos := repository.NewRepositories(setupTestDB(t))
	a := New(repos, metrics.New(prometheus.NewRegistry()), nil)
	a.now = func() time.Time { return testNow }
	return a, repos
}

func seedStation(t *testing.T, repos *repository.Repositories, name string) *models.Station {
	t.Helper()
	station := &models.Station{
		ID:        ulid.Make().String(),
		Name:      name,
		Line:      "2호선",
		Latitude:  37.4979,
		Longitude: 127.0276,
		Priority:  1,
		CreatedAt: testNow,
	}
	if _, err := repos.Station.Create(context.Background(), station); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return station
}

func seedListing(t *testing.T, repos *repository.Repositories, stationID, upstreamID, roomType string) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:               ulid.Make().String(),
		UpstreamID:       upstreamID,
		Name:             "테스트 숙소",
		RoomType:         roomType,
		NearestStationID: &stationID,
		FirstSeen:        testNow,
		LastSeen:         testNow,
	}
	if err := repos.Listing.Create(context.Background(), listing); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return listing
}

func addSnapshot(t *testing.T, repos *repository.Repositories, listingID, date string, available bool, price *float64) {
	t.Helper()
	snap := &models.CalendarSnapshot{
		ID:        ulid.Make().String(),
		ListingID: listingID,
		CrawledAt: testNow,
		Date:      date,
		Available: available,
		Price:     price,
	}
	if err := repos.CalendarSnapshot.CreateBatch(context.Background(), []*models.CalendarSnapshot{snap}); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestClassifyBooking(t *testing.T) {
	tests := []struct {
		name    string
		history []bool
		want    models.BookingClass
	}{
		{"no history", nil, models.BookingClassUnknown},
		{"single available", []bool{true}, models.BookingClassOpen},
		{"single unavailable", []bool{false}, models.BookingClassUnknown},
		{"booked transition", []bool{true, false}, models.BookingClassBooked},
		{"booked after late opening", []bool{false, true, false}, models.BookingClassBooked},
		{"never available", []bool{false, false}, models.BookingClassUnknown},
		{"reopened", []bool{true, false, true}, models.BookingClassOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var history []*models.CalendarSnapshot
			for _, avail := range tt.history {
				history = append(history, &models.CalendarSnapshot{Available: avail})
			}
			if got := ClassifyBooking(history); got != tt.want {
				t.Errorf("ClassifyBooking(%v) = %s, want %s", tt.history, got, tt.want)
			}
		})
	}
}

func TestListingBookingRate(t *testing.T) {
	a, repos := newTestAggregator(t)
	station := seedStation(t, repos, "강남")
	listing := seedListing(t, repos, station.ID, "100", constants.RoomTypeEntireHome)
	ctx := context.Background()

	// 03-10 flips to unavailable; only the newest row may count.
	addSnapshot(t, repos, listing.ID, "2026-03-10", true, ptr(90000.0))
	addSnapshot(t, repos, listing.ID, "2026-03-10", false, ptr(90000.0))
	addSnapshot(t, repos, listing.ID, "2026-03-11", true, ptr(90000.0))
	addSnapshot(t, repos, listing.ID, "2026-03-12", false, nil)

	rate, err := a.ListingBookingRate(ctx, listing.ID, "2026-03-10", "2026-03-12")
	if err != nil {
		t.Fatalf("ListingBookingRate() error = %v", err)
	}
	if want := 2.0 / 3.0; rate != want {
		t.Errorf("ListingBookingRate() = %v, want %v", rate, want)
	}

	rate, err = a.ListingBookingRate(ctx, listing.ID, "2026-03-20", "2026-03-25")
	if err != nil {
		t.Fatalf("ListingBookingRate() error = %v", err)
	}
	if rate != 0 {
		t.Errorf("ListingBookingRate() with no observations = %v, want 0", rate)
	}
}

func TestRunDaily_WritesStatsPerBucket(t *testing.T) {
	a, repos := newTestAggregator(t)
	station := seedStation(t, repos, "강남")
	ctx := context.Background()

	l1 := seedListing(t, repos, station.ID, "1", constants.RoomTypeEntireHome)
	l2 := seedListing(t, repos, station.ID, "2", constants.RoomTypeEntireHome)
	l3 := seedListing(t, repos, station.ID, "3", constants.RoomTypePrivateRoom)

	addSnapshot(t, repos, l1.ID, yesterday, false, ptr(100000.0))
	addSnapshot(t, repos, l2.ID, yesterday, false, nil)
	addSnapshot(t, repos, l3.ID, yesterday, true, ptr(50000.0))

	entry, err := a.RunDaily(ctx, 1)
	if err != nil {
		t.Fatalf("RunDaily() error = %v", err)
	}
	if entry.JobType != models.JobTypeAggregation {
		t.Errorf("JobType = %s, want aggregation", entry.JobType)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Status = %s, want success", entry.Status)
	}
	if entry.TotalRequests != 1 || entry.SuccessfulRequests != 1 {
		t.Errorf("counters = %d/%d, want 1/1", entry.TotalRequests, entry.SuccessfulRequests)
	}
	if entry.FinishedAt == nil {
		t.Error("FinishedAt = nil, want set")
	}

	entire, err := repos.DailyStat.Get(ctx, station.ID, yesterday, constants.RoomTypeEntireHome)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entire == nil {
		t.Fatal("entire_home stat not written")
	}
	if entire.TotalListings != 2 || entire.BookedCount != 2 {
		t.Errorf("entire_home = %d listings / %d booked, want 2/2", entire.TotalListings, entire.BookedCount)
	}
	if entire.BookingRate != 1.0 {
		t.Errorf("entire_home BookingRate = %v, want 1.0", entire.BookingRate)
	}
	if entire.AvgDailyPrice == nil || *entire.AvgDailyPrice != 100000 {
		t.Errorf("entire_home AvgDailyPrice = %v, want 100000", entire.AvgDailyPrice)
	}
	if entire.EstimatedRevenue == nil || *entire.EstimatedRevenue != 100000 {
		t.Errorf("entire_home EstimatedRevenue = %v, want 100000", entire.EstimatedRevenue)
	}

	private, err := repos.DailyStat.Get(ctx, station.ID, yesterday, constants.RoomTypePrivateRoom)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if private == nil {
		t.Fatal("private_room stat not written")
	}
	if private.BookedCount != 0 || private.BookingRate != 0 {
		t.Errorf("private_room = %d booked rate %v, want 0/0", private.BookedCount, private.BookingRate)
	}
	if private.AvgDailyPrice != nil {
		t.Errorf("private_room AvgDailyPrice = %v, want nil", *private.AvgDailyPrice)
	}
	if private.EstimatedRevenue == nil || *private.EstimatedRevenue != 0 {
		t.Errorf("private_room EstimatedRevenue = %v, want 0", private.EstimatedRevenue)
	}

	all, err := repos.DailyStat.Get(ctx, station.ID, yesterday, "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if all == nil {
		t.Fatal("all-room-types stat not written")
	}
	if all.TotalListings != 3 || all.BookedCount != 2 {
		t.Errorf("all = %d listings / %d booked, want 3/2", all.TotalListings, all.BookedCount)
	}
	if want := 2.0 / 3.0; all.BookingRate != want {
		t.Errorf("all BookingRate = %v, want %v", all.BookingRate, want)
	}

	hotel, err := repos.DailyStat.Get(ctx, station.ID, yesterday, constants.RoomTypeHotel)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hotel != nil {
		t.Error("hotel stat written for empty bucket")
	}
}

func TestRunDaily_LatestObservationWins(t *testing.T) {
	a, repos := newTestAggregator(t)
	station := seedStation(t, repos, "홍대입구")
	listing := seedListing(t, repos, station.ID, "1", constants.RoomTypeEntireHome)
	ctx := context.Background()

	addSnapshot(t, repos, listing.ID, yesterday, false, ptr(80000.0))
	addSnapshot(t, repos, listing.ID, yesterday, true, ptr(80000.0))

	if _, err := a.RunDaily(ctx, 1); err != nil {
		t.Fatalf("RunDaily() error = %v", err)
	}

	stat, err := repos.DailyStat.Get(ctx, station.ID, yesterday, "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stat == nil {
		t.Fatal("stat not written")
	}
	if stat.BookedCount != 0 {
		t.Errorf("BookedCount = %d, want 0 (newest observation is available)", stat.BookedCount)
	}
}

func TestRunDaily_ReaggregationUpdatesInPlace(t *testing.T) {
	a, repos := newTestAggregator(t)
	station := seedStation(t, repos, "강남")
	listing := seedListing(t, repos, station.ID, "1", constants.RoomTypeEntireHome)
	ctx := context.Background()

	addSnapshot(t, repos, listing.ID, yesterday, false, ptr(80000.0))
	if _, err := a.RunDaily(ctx, 1); err != nil {
		t.Fatalf("RunDaily() error = %v", err)
	}
	first, err := repos.DailyStat.Get(ctx, station.ID, yesterday, "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first == nil || first.BookedCount != 1 {
		t.Fatalf("first aggregation = %+v, want 1 booked", first)
	}

	addSnapshot(t, repos, listing.ID, yesterday, true, ptr(80000.0))
	if _, err := a.RunDaily(ctx, 1); err != nil {
		t.Fatalf("RunDaily() error = %v", err)
	}
	second, err := repos.DailyStat.Get(ctx, station.ID, yesterday, "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second == nil {
		t.Fatal("stat gone after re-aggregation")
	}
	if second.BookedCount != 0 {
		t.Errorf("BookedCount = %d, want 0 after re-aggregation", second.BookedCount)
	}
	if second.ID != first.ID {
		t.Errorf("ID changed on re-aggregation: %s -> %s", first.ID, second.ID)
	}
}

func TestRunDaily_DaysBack(t *testing.T) {
	a, repos := newTestAggregator(t)
	station := seedStation(t, repos, "강남")
	listing := seedListing(t, repos, station.ID, "1", constants.RoomTypeEntireHome)
	ctx := context.Background()

	addSnapshot(t, repos, listing.ID, "2026-03-14", false, ptr(90000.0))
	addSnapshot(t, repos, listing.ID, "2026-03-13", false, ptr(70000.0))

	entry, err := a.RunDaily(ctx, 2)
	if err != nil {
		t.Fatalf("RunDaily() error = %v", err)
	}
	if entry.TotalRequests != 2 || entry.SuccessfulRequests != 2 {
		t.Errorf("counters = %d/%d, want 2/2", entry.TotalRequests, entry.SuccessfulRequests)
	}

	for _, date := range []string{"2026-03-14", "2026-03-13"} {
		stat, err := repos.DailyStat.Get(ctx, station.ID, date, "")
		if err != nil {
			t.Fatalf("Get(%s) error = %v", date, err)
		}
		if stat == nil {
			t.Errorf("no stat for %s", date)
			continue
		}
		if stat.BookedCount != 1 {
			t.Errorf("BookedCount for %s = %d, want 1", date, stat.BookedCount)
		}
	}
}

func TestRunDaily_StationWithoutListings(t *testing.T) {
	a, repos := newTestAggregator(t)
	station := seedStation(t, repos, "외딴역")
	ctx := context.Background()

	entry, err := a.RunDaily(ctx, 1)
	if err != nil {
		t.Fatalf("RunDaily() error = %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Status = %s, want success", entry.Status)
	}

	stat, err := repos.DailyStat.Get(ctx, station.ID, yesterday, "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stat != nil {
		t.Error("stat written for station without listings")
	}
}
