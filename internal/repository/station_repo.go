package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// SQLiteStationRepository implements StationRepository for SQLite.
type SQLiteStationRepository struct {
	db DBTX
}

// NewSQLiteStationRepository creates a new SQLite station repository.
func NewSQLiteStationRepository(db DBTX) *SQLiteStationRepository {
	return &SQLiteStationRepository{db: db}
}

func (r *SQLiteStationRepository) Create(ctx context.Context, station *models.Station) (bool, error) {
	query := `
		INSERT OR IGNORE INTO stations (id, name, line, district, latitude, longitude, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		station.ID,
		station.Name,
		station.Line,
		nullString(station.District),
		station.Latitude,
		station.Longitude,
		station.Priority,
		station.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create station: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create station: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteStationRepository) GetByID(ctx context.Context, id string) (*models.Station, error) {
	query := `
		SELECT id, name, line, district, latitude, longitude, priority, created_at
		FROM stations WHERE id = ?
	`
	return r.scanStation(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteStationRepository) List(ctx context.Context) ([]*models.Station, error) {
	query := `
		SELECT id, name, line, district, latitude, longitude, priority, created_at
		FROM stations ORDER BY priority, name, line
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()
	return r.collectStations(rows)
}

func (r *SQLiteStationRepository) ListByPriorities(ctx context.Context, priorities []int) ([]*models.Station, error) {
	if len(priorities) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(priorities))
	args := make([]any, len(priorities))
	for i, p := range priorities {
		placeholders[i] = "?"
		args[i] = p
	}
	query := fmt.Sprintf(`
		SELECT id, name, line, district, latitude, longitude, priority, created_at
		FROM stations WHERE priority IN (%s) ORDER BY priority, name, line
	`, strings.Join(placeholders, ", "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()
	return r.collectStations(rows)
}

func (r *SQLiteStationRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stations: %w", err)
	}
	return count, nil
}

func (r *SQLiteStationRepository) scanStation(row *sql.Row) (*models.Station, error) {
	var station models.Station
	var district sql.NullString
	var createdAt string

	err := row.Scan(
		&station.ID, &station.Name, &station.Line, &district,
		&station.Latitude, &station.Longitude, &station.Priority, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan station: %w", err)
	}

	station.District = district.String
	station.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &station, nil
}

func (r *SQLiteStationRepository) collectStations(rows *sql.Rows) ([]*models.Station, error) {
	var stations []*models.Station
	for rows.Next() {
		var station models.Station
		var district sql.NullString
		var createdAt string
		err := rows.Scan(
			&station.ID, &station.Name, &station.Line, &district,
			&station.Latitude, &station.Longitude, &station.Priority, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		station.District = district.String
		station.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		stations = append(stations, &station)
	}
	return stations, rows.Err()
}
