// Package stations loads the station seed file into the database.
package stations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

type seedFile struct {
	Stations []seedStation `json:"stations"`
}

type seedStation struct {
	Name     string  `json:"name"`
	Line     string  `json:"line"`
	District string  `json:"district"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Priority int     `json:"priority"`
}

// Load parses a station seed file. Entries must carry a name, a line,
// coordinates and a priority of 1, 2 or 3; duplicates on (name, line)
// within the file collapse to the first occurrence.
func Load(path string) ([]*models.Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read station seed: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse station seed: %w", err)
	}
	if len(seed.Stations) == 0 {
		return nil, fmt.Errorf("station seed %s holds no stations", path)
	}

	for i, s := range seed.Stations {
		if s.Name == "" || s.Line == "" {
			return nil, fmt.Errorf("station seed entry %d: name and line are required", i)
		}
		if s.Lat == 0 || s.Lng == 0 {
			return nil, fmt.Errorf("station seed entry %d (%s): coordinates are required", i, s.Name)
		}
		if s.Priority < 1 || s.Priority > 3 {
			return nil, fmt.Errorf("station seed entry %d (%s): priority %d out of range 1..3", i, s.Name, s.Priority)
		}
	}

	unique := lo.UniqBy(seed.Stations, func(s seedStation) string {
		return s.Name + "|" + s.Line
	})

	now := time.Now().UTC()
	return lo.Map(unique, func(s seedStation, _ int) *models.Station {
		return &models.Station{
			ID:        ulid.Make().String(),
			Name:      s.Name,
			Line:      s.Line,
			District:  s.District,
			Latitude:  s.Lat,
			Longitude: s.Lng,
			Priority:  s.Priority,
			CreatedAt: now,
		}
	}), nil
}

// Seed loads path and inserts its stations, leaving rows already in the
// database untouched. Returns the number actually inserted.
func Seed(ctx context.Context, repo repository.StationRepository, path string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stations, err := Load(path)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, station := range stations {
		ok, err := repo.Create(ctx, station)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed station %s: %w", station.Name, err)
		}
		if ok {
			inserted++
		}
	}

	logger.Info("station seed loaded", "path", path, "stations", len(stations), "inserted", inserted)
	return inserted, nil
}
