package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyeonbin/stayscan/internal/models"
)

func seedListingForCalendar(t *testing.T, repos *Repositories) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	l := &models.Listing{
		ID:         ulid.Make().String(),
		UpstreamID: ulid.Make().String(),
		FirstSeen:  now,
		LastSeen:   now,
	}
	if err := repos.Listing.Create(ctx, l); err != nil {
		t.Fatalf("Create(listing) error = %v", err)
	}
	return l.ID
}

func TestCalendarSnapshotRepository_LatestForDate(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	listingA := seedListingForCalendar(t, repos)
	listingB := seedListingForCalendar(t, repos)

	base := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	batch := []*models.CalendarSnapshot{
		{ID: ulid.Make().String(), ListingID: listingA, CrawledAt: base, Date: "2026-03-15", Available: true, Price: float64Ptr(90000)},
		{ID: ulid.Make().String(), ListingID: listingB, CrawledAt: base, Date: "2026-03-15", Available: true},
	}
	if err := repos.CalendarSnapshot.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	// A later observation flips listing A to unavailable.
	later := []*models.CalendarSnapshot{
		{ID: ulid.Make().String(), ListingID: listingA, CrawledAt: base.Add(24 * time.Hour), Date: "2026-03-15", Available: false, Price: float64Ptr(90000)},
	}
	if err := repos.CalendarSnapshot.CreateBatch(ctx, later); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	got, err := repos.CalendarSnapshot.LatestForDate(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("LatestForDate() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (one row per listing)", len(got))
	}

	byListing := map[string]*models.CalendarSnapshot{}
	for _, s := range got {
		byListing[s.ListingID] = s
	}
	if snap := byListing[listingA]; snap == nil || snap.Available {
		t.Errorf("listing A latest = %+v, want unavailable", snap)
	}
	if snap := byListing[listingB]; snap == nil || !snap.Available {
		t.Errorf("listing B latest = %+v, want available", snap)
	}

	none, err := repos.CalendarSnapshot.LatestForDate(ctx, "2030-01-01")
	if err != nil {
		t.Fatalf("LatestForDate() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("len = %d, want 0 for unobserved date", len(none))
	}
}

func TestCalendarSnapshotRepository_History(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	listingID := seedListingForCalendar(t, repos)
	base := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	for i, available := range []bool{true, true, false} {
		batch := []*models.CalendarSnapshot{{
			ID:        ulid.Make().String(),
			ListingID: listingID,
			CrawledAt: base.Add(time.Duration(i) * 24 * time.Hour),
			Date:      "2026-03-20",
			Available: available,
		}}
		if err := repos.CalendarSnapshot.CreateBatch(ctx, batch); err != nil {
			t.Fatalf("CreateBatch() error = %v", err)
		}
	}
	// Different date, same listing; must not show up.
	other := []*models.CalendarSnapshot{{
		ID:        ulid.Make().String(),
		ListingID: listingID,
		CrawledAt: base,
		Date:      "2026-03-21",
		Available: true,
	}}
	if err := repos.CalendarSnapshot.CreateBatch(ctx, other); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	history, err := repos.CalendarSnapshot.History(ctx, listingID, "2026-03-20")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len = %d, want 3", len(history))
	}
	want := []bool{true, true, false}
	for i, snap := range history {
		if snap.Available != want[i] {
			t.Errorf("history[%d].Available = %v, want %v", i, snap.Available, want[i])
		}
	}
}

func TestCalendarSnapshotRepository_LatestRange(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	listingID := seedListingForCalendar(t, repos)
	base := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	first := []*models.CalendarSnapshot{
		{ID: ulid.Make().String(), ListingID: listingID, CrawledAt: base, Date: "2026-03-10", Available: true},
		{ID: ulid.Make().String(), ListingID: listingID, CrawledAt: base, Date: "2026-03-11", Available: true},
		{ID: ulid.Make().String(), ListingID: listingID, CrawledAt: base, Date: "2026-03-12", Available: false},
	}
	if err := repos.CalendarSnapshot.CreateBatch(ctx, first); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	second := []*models.CalendarSnapshot{
		{ID: ulid.Make().String(), ListingID: listingID, CrawledAt: base.Add(48 * time.Hour), Date: "2026-03-11", Available: false},
	}
	if err := repos.CalendarSnapshot.CreateBatch(ctx, second); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	got, err := repos.CalendarSnapshot.LatestRange(ctx, listingID, "2026-03-10", "2026-03-11")
	if err != nil {
		t.Fatalf("LatestRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Date != "2026-03-10" || !got[0].Available {
		t.Errorf("got[0] = %s/%v, want 2026-03-10 available", got[0].Date, got[0].Available)
	}
	if got[1].Date != "2026-03-11" || got[1].Available {
		t.Errorf("got[1] = %s/%v, want 2026-03-11 unavailable (newest wins)", got[1].Date, got[1].Available)
	}
}

func TestCalendarSnapshotRepository_CreateBatchEmpty(t *testing.T) {
	repos := setupTestRepos(t)
	if err := repos.CalendarSnapshot.CreateBatch(context.Background(), nil); err != nil {
		t.Fatalf("CreateBatch(nil) error = %v", err)
	}
}
