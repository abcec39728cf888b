package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// SQLiteDailyStatRepository implements DailyStatRepository for SQLite.
type SQLiteDailyStatRepository struct {
	db DBTX
}

// NewSQLiteDailyStatRepository creates a new SQLite daily stat repository.
func NewSQLiteDailyStatRepository(db DBTX) *SQLiteDailyStatRepository {
	return &SQLiteDailyStatRepository{db: db}
}

const dailyStatColumns = `id, station_id, date, room_type, total_listings, booked_count,
		booking_rate, avg_daily_price, estimated_revenue, created_at`

func (r *SQLiteDailyStatRepository) Upsert(ctx context.Context, stat *models.DailyStat) error {
	// Re-aggregation overwrites the numbers; id and created_at stay
	// from the first insert.
	query := `
		INSERT INTO daily_stats (` + dailyStatColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, date, room_type) DO UPDATE SET
			total_listings = excluded.total_listings,
			booked_count = excluded.booked_count,
			booking_rate = excluded.booking_rate,
			avg_daily_price = excluded.avg_daily_price,
			estimated_revenue = excluded.estimated_revenue
	`
	_, err := r.db.ExecContext(ctx, query,
		stat.ID,
		stat.StationID,
		stat.Date,
		stat.RoomType,
		stat.TotalListings,
		stat.BookedCount,
		stat.BookingRate,
		nullFloat(stat.AvgDailyPrice),
		nullFloat(stat.EstimatedRevenue),
		stat.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stat: %w", err)
	}
	return nil
}

func (r *SQLiteDailyStatRepository) Get(ctx context.Context, stationID, date, roomType string) (*models.DailyStat, error) {
	query := `
		SELECT ` + dailyStatColumns + `
		FROM daily_stats WHERE station_id = ? AND date = ? AND room_type = ?
	`
	row := r.db.QueryRowContext(ctx, query, stationID, date, roomType)

	var stat models.DailyStat
	var avgPrice, revenue sql.NullFloat64
	var createdAt string
	err := row.Scan(
		&stat.ID, &stat.StationID, &stat.Date, &stat.RoomType, &stat.TotalListings,
		&stat.BookedCount, &stat.BookingRate, &avgPrice, &revenue, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan daily stat: %w", err)
	}
	stat.AvgDailyPrice = floatPtr(avgPrice)
	stat.EstimatedRevenue = floatPtr(revenue)
	stat.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &stat, nil
}

func (r *SQLiteDailyStatRepository) ListByStationRange(ctx context.Context, stationID, from, to string) ([]*models.DailyStat, error) {
	query := `
		SELECT ` + dailyStatColumns + `
		FROM daily_stats
		WHERE station_id = ? AND date >= ? AND date <= ?
		ORDER BY date, room_type
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.DailyStat
	for rows.Next() {
		var stat models.DailyStat
		var avgPrice, revenue sql.NullFloat64
		var createdAt string
		err := rows.Scan(
			&stat.ID, &stat.StationID, &stat.Date, &stat.RoomType, &stat.TotalListings,
			&stat.BookedCount, &stat.BookingRate, &avgPrice, &revenue, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stat.AvgDailyPrice = floatPtr(avgPrice)
		stat.EstimatedRevenue = floatPtr(revenue)
		stat.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		stats = append(stats, &stat)
	}
	return stats, rows.Err()
}
