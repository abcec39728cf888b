package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// SQLiteListingRepository implements ListingRepository for SQLite.
type SQLiteListingRepository struct {
	db DBTX
}

// NewSQLiteListingRepository creates a new SQLite listing repository.
func NewSQLiteListingRepository(db DBTX) *SQLiteListingRepository {
	return &SQLiteListingRepository{db: db}
}

const listingColumns = `id, upstream_id, name, host_id, room_type, latitude, longitude,
		nearest_station_id, bedrooms, bathrooms, max_guests, base_price, rating,
		review_count, first_seen, last_seen`

func (r *SQLiteListingRepository) Create(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		listing.ID,
		listing.UpstreamID,
		nullString(listing.Name),
		nullString(listing.HostID),
		nullString(listing.RoomType),
		nullFloat(listing.Latitude),
		nullFloat(listing.Longitude),
		nullStringPtr(listing.NearestStationID),
		nullInt(listing.Bedrooms),
		nullFloat(listing.Bathrooms),
		nullInt(listing.MaxGuests),
		nullFloat(listing.BasePrice),
		nullFloat(listing.Rating),
		nullInt(listing.ReviewCount),
		listing.FirstSeen.Format(time.RFC3339),
		listing.LastSeen.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

func (r *SQLiteListingRepository) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ?`
	return r.scanListing(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteListingRepository) GetByUpstreamID(ctx context.Context, upstreamID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE upstream_id = ?`
	return r.scanListing(r.db.QueryRowContext(ctx, query, upstreamID))
}

func (r *SQLiteListingRepository) TouchSeen(ctx context.Context, id string, seenAt time.Time, price *float64) error {
	query := `
		UPDATE listings SET last_seen = ?, base_price = COALESCE(?, base_price)
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query, seenAt.Format(time.RFC3339), nullFloat(price), id)
	if err != nil {
		return fmt.Errorf("failed to touch listing: %w", err)
	}
	return nil
}

func (r *SQLiteListingRepository) UpdateDetails(ctx context.Context, listing *models.Listing) error {
	// COALESCE keeps the stored value wherever the caller has nothing
	// newer; detail crawls fill fields opportunistically.
	query := `
		UPDATE listings SET
			name = COALESCE(?, name),
			host_id = COALESCE(?, host_id),
			room_type = COALESCE(?, room_type),
			bedrooms = COALESCE(?, bedrooms),
			bathrooms = COALESCE(?, bathrooms),
			max_guests = COALESCE(?, max_guests),
			rating = COALESCE(?, rating),
			review_count = COALESCE(?, review_count),
			last_seen = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		nullString(listing.Name),
		nullString(listing.HostID),
		nullString(listing.RoomType),
		nullInt(listing.Bedrooms),
		nullFloat(listing.Bathrooms),
		nullInt(listing.MaxGuests),
		nullFloat(listing.Rating),
		nullInt(listing.ReviewCount),
		listing.LastSeen.Format(time.RFC3339),
		listing.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update listing details: %w", err)
	}
	return nil
}

func (r *SQLiteListingRepository) List(ctx context.Context, limit, offset int) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()
	return r.collectListings(rows)
}

func (r *SQLiteListingRepository) ListByStation(ctx context.Context, stationID string) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE nearest_station_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()
	return r.collectListings(rows)
}

func (r *SQLiteListingRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return count, nil
}

func (r *SQLiteListingRepository) scanListing(row *sql.Row) (*models.Listing, error) {
	var l models.Listing
	var name, hostID, roomType, nearestStationID sql.NullString
	var latitude, longitude, bathrooms, basePrice, rating sql.NullFloat64
	var bedrooms, maxGuests, reviewCount sql.NullInt64
	var firstSeen, lastSeen string

	err := row.Scan(
		&l.ID, &l.UpstreamID, &name, &hostID, &roomType, &latitude, &longitude,
		&nearestStationID, &bedrooms, &bathrooms, &maxGuests, &basePrice, &rating,
		&reviewCount, &firstSeen, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}

	r.fillListing(&l, name, hostID, roomType, nearestStationID, latitude, longitude,
		bathrooms, basePrice, rating, bedrooms, maxGuests, reviewCount, firstSeen, lastSeen)
	return &l, nil
}

func (r *SQLiteListingRepository) collectListings(rows *sql.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		var l models.Listing
		var name, hostID, roomType, nearestStationID sql.NullString
		var latitude, longitude, bathrooms, basePrice, rating sql.NullFloat64
		var bedrooms, maxGuests, reviewCount sql.NullInt64
		var firstSeen, lastSeen string

		err := rows.Scan(
			&l.ID, &l.UpstreamID, &name, &hostID, &roomType, &latitude, &longitude,
			&nearestStationID, &bedrooms, &bathrooms, &maxGuests, &basePrice, &rating,
			&reviewCount, &firstSeen, &lastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		r.fillListing(&l, name, hostID, roomType, nearestStationID, latitude, longitude,
			bathrooms, basePrice, rating, bedrooms, maxGuests, reviewCount, firstSeen, lastSeen)
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}

func (r *SQLiteListingRepository) fillListing(l *models.Listing,
	name, hostID, roomType, nearestStationID sql.NullString,
	latitude, longitude, bathrooms, basePrice, rating sql.NullFloat64,
	bedrooms, maxGuests, reviewCount sql.NullInt64,
	firstSeen, lastSeen string,
) {
	l.Name = name.String
	l.HostID = hostID.String
	l.RoomType = roomType.String
	l.Latitude = floatPtr(latitude)
	l.Longitude = floatPtr(longitude)
	l.NearestStationID = stringPtr(nearestStationID)
	l.Bedrooms = intPtr(bedrooms)
	l.Bathrooms = floatPtr(bathrooms)
	l.MaxGuests = intPtr(maxGuests)
	l.BasePrice = floatPtr(basePrice)
	l.Rating = floatPtr(rating)
	l.ReviewCount = intPtr(reviewCount)
	l.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	l.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
}

// Helper functions for nullable columns.

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
