package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// SQLiteCalendarSnapshotRepository implements CalendarSnapshotRepository for SQLite.
type SQLiteCalendarSnapshotRepository struct {
	db DBTX
}

// NewSQLiteCalendarSnapshotRepository creates a new SQLite calendar snapshot repository.
func NewSQLiteCalendarSnapshotRepository(db DBTX) *SQLiteCalendarSnapshotRepository {
	return &SQLiteCalendarSnapshotRepository{db: db}
}

const calendarSnapshotColumns = `id, listing_id, crawled_at, date, available, price, min_nights`

func (r *SQLiteCalendarSnapshotRepository) CreateBatch(ctx context.Context, snaps []*models.CalendarSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	query := `
		INSERT INTO calendar_snapshots (` + calendarSnapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, snap := range snaps {
		_, err := r.db.ExecContext(ctx, query,
			snap.ID,
			snap.ListingID,
			snap.CrawledAt.Format(time.RFC3339),
			snap.Date,
			snap.Available,
			nullFloat(snap.Price),
			nullInt(snap.MinNights),
		)
		if err != nil {
			return fmt.Errorf("failed to create calendar snapshot: %w", err)
		}
	}
	return nil
}

// LatestForDate picks the newest row per listing with MAX(id): ids are
// ULIDs and the table is append-only, so the largest id is the most
// recent observation.
func (r *SQLiteCalendarSnapshotRepository) LatestForDate(ctx context.Context, date string) ([]*models.CalendarSnapshot, error) {
	query := `
		SELECT ` + calendarSnapshotColumns + `
		FROM calendar_snapshots
		WHERE id IN (
			SELECT MAX(id) FROM calendar_snapshots WHERE date = ? GROUP BY listing_id
		)
		ORDER BY listing_id
	`
	rows, err := r.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar snapshots: %w", err)
	}
	defer rows.Close()
	return r.collectSnapshots(rows)
}

func (r *SQLiteCalendarSnapshotRepository) LatestRange(ctx context.Context, listingID, from, to string) ([]*models.CalendarSnapshot, error) {
	query := `
		SELECT ` + calendarSnapshotColumns + `
		FROM calendar_snapshots
		WHERE id IN (
			SELECT MAX(id) FROM calendar_snapshots
			WHERE listing_id = ? AND date >= ? AND date <= ?
			GROUP BY date
		)
		ORDER BY date
	`
	rows, err := r.db.QueryContext(ctx, query, listingID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar snapshots: %w", err)
	}
	defer rows.Close()
	return r.collectSnapshots(rows)
}

func (r *SQLiteCalendarSnapshotRepository) History(ctx context.Context, listingID, date string) ([]*models.CalendarSnapshot, error) {
	query := `
		SELECT ` + calendarSnapshotColumns + `
		FROM calendar_snapshots WHERE listing_id = ? AND date = ? ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, listingID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar snapshot history: %w", err)
	}
	defer rows.Close()
	return r.collectSnapshots(rows)
}

func (r *SQLiteCalendarSnapshotRepository) collectSnapshots(rows *sql.Rows) ([]*models.CalendarSnapshot, error) {
	var snaps []*models.CalendarSnapshot
	for rows.Next() {
		var snap models.CalendarSnapshot
		var crawledAt string
		var price sql.NullFloat64
		var minNights sql.NullInt64

		err := rows.Scan(
			&snap.ID, &snap.ListingID, &crawledAt, &snap.Date, &snap.Available,
			&price, &minNights,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar snapshot: %w", err)
		}
		snap.CrawledAt, _ = time.Parse(time.RFC3339, crawledAt)
		snap.Price = floatPtr(price)
		snap.MinNights = intPtr(minNights)
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}
