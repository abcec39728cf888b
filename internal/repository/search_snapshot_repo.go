package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// SQLiteSearchSnapshotRepository implements SearchSnapshotRepository for SQLite.
type SQLiteSearchSnapshotRepository struct {
	db DBTX
}

// NewSQLiteSearchSnapshotRepository creates a new SQLite search snapshot repository.
func NewSQLiteSearchSnapshotRepository(db DBTX) *SQLiteSearchSnapshotRepository {
	return &SQLiteSearchSnapshotRepository{db: db}
}

const searchSnapshotColumns = `id, station_id, crawled_at, total_listings, avg_price,
		min_price, max_price, median_price, available_count, checkin_date, checkout_date,
		content_digest`

func (r *SQLiteSearchSnapshotRepository) Create(ctx context.Context, snap *models.SearchSnapshot) error {
	query := `
		INSERT INTO search_snapshots (` + searchSnapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		snap.ID,
		snap.StationID,
		snap.CrawledAt.Format(time.RFC3339),
		snap.TotalListings,
		nullFloat(snap.AvgPrice),
		nullFloat(snap.MinPrice),
		nullFloat(snap.MaxPrice),
		nullFloat(snap.MedianPrice),
		snap.AvailableCount,
		nullString(snap.CheckinDate),
		nullString(snap.CheckoutDate),
		nullString(snap.ContentDigest),
	)
	if err != nil {
		return fmt.Errorf("failed to create search snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteSearchSnapshotRepository) LatestByStation(ctx context.Context, stationID string) (*models.SearchSnapshot, error) {
	query := `
		SELECT ` + searchSnapshotColumns + `
		FROM search_snapshots WHERE station_id = ? ORDER BY id DESC LIMIT 1
	`
	return r.scanSnapshot(r.db.QueryRowContext(ctx, query, stationID))
}

func (r *SQLiteSearchSnapshotRepository) ListByStation(ctx context.Context, stationID string, limit int) ([]*models.SearchSnapshot, error) {
	query := `
		SELECT ` + searchSnapshotColumns + `
		FROM search_snapshots WHERE station_id = ? ORDER BY id DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.SearchSnapshot
	for rows.Next() {
		snap, err := r.scanSnapshotFromRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (r *SQLiteSearchSnapshotRepository) scanSnapshot(row *sql.Row) (*models.SearchSnapshot, error) {
	var snap models.SearchSnapshot
	var crawledAt string
	var avgPrice, minPrice, maxPrice, medianPrice sql.NullFloat64
	var checkin, checkout, digest sql.NullString

	err := row.Scan(
		&snap.ID, &snap.StationID, &crawledAt, &snap.TotalListings, &avgPrice,
		&minPrice, &maxPrice, &medianPrice, &snap.AvailableCount, &checkin, &checkout,
		&digest,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan search snapshot: %w", err)
	}

	r.fillSnapshot(&snap, crawledAt, avgPrice, minPrice, maxPrice, medianPrice, checkin, checkout, digest)
	return &snap, nil
}

func (r *SQLiteSearchSnapshotRepository) scanSnapshotFromRows(rows *sql.Rows) (*models.SearchSnapshot, error) {
	var snap models.SearchSnapshot
	var crawledAt string
	var avgPrice, minPrice, maxPrice, medianPrice sql.NullFloat64
	var checkin, checkout, digest sql.NullString

	err := rows.Scan(
		&snap.ID, &snap.StationID, &crawledAt, &snap.TotalListings, &avgPrice,
		&minPrice, &maxPrice, &medianPrice, &snap.AvailableCount, &checkin, &checkout,
		&digest,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan search snapshot: %w", err)
	}

	r.fillSnapshot(&snap, crawledAt, avgPrice, minPrice, maxPrice, medianPrice, checkin, checkout, digest)
	return &snap, nil
}

func (r *SQLiteSearchSnapshotRepository) fillSnapshot(snap *models.SearchSnapshot, crawledAt string,
	avgPrice, minPrice, maxPrice, medianPrice sql.NullFloat64,
	checkin, checkout, digest sql.NullString,
) {
	snap.CrawledAt, _ = time.Parse(time.RFC3339, crawledAt)
	snap.AvgPrice = floatPtr(avgPrice)
	snap.MinPrice = floatPtr(minPrice)
	snap.MaxPrice = floatPtr(maxPrice)
	snap.MedianPrice = floatPtr(medianPrice)
	snap.CheckinDate = checkin.String
	snap.CheckoutDate = checkout.String
	snap.ContentDigest = digest.String
}
