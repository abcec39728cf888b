package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

// StationsHandler handles station endpoints.
type StationsHandler struct {
	stations repository.StationRepository
	stats    repository.DailyStatRepository
	now      func() time.Time
}

// NewStationsHandler creates a stations handler.
func NewStationsHandler(stations repository.StationRepository, stats repository.DailyStatRepository) *StationsHandler {
	return &StationsHandler{
		stations: stations,
		stats:    stats,
		now:      time.Now,
	}
}

// StationOutput represents a station in API responses.
type StationOutput struct {
	ID        string  `json:"id" doc:"Station ID"`
	Name      string  `json:"name" doc:"Station name"`
	Line      string  `json:"line" doc:"Subway line"`
	District  string  `json:"district,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Priority  int     `json:"priority" doc:"1 = highest, 3 = lowest"`
	CreatedAt string  `json:"created_at"`
}

// ListStationsOutput represents the station listing response.
type ListStationsOutput struct {
	Body struct {
		Stations []StationOutput `json:"stations"`
	}
}

// ListStations returns every seeded station.
func (h *StationsHandler) ListStations(ctx context.Context, input *struct{}) (*ListStationsOutput, error) {
	stations, err := h.stations.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list stations: " + err.Error())
	}

	output := &ListStationsOutput{}
	for _, station := range stations {
		output.Body.Stations = append(output.Body.Stations, stationToOutput(station))
	}
	return output, nil
}

// DailyStatOutput represents one daily aggregate in API responses.
type DailyStatOutput struct {
	Date             string   `json:"date" doc:"Stat date (YYYY-MM-DD)"`
	RoomType         string   `json:"room_type,omitempty" doc:"Empty covers all room types"`
	TotalListings    int      `json:"total_listings"`
	BookedCount      int      `json:"booked_count"`
	BookingRate      float64  `json:"booking_rate" doc:"booked / total, 0..1"`
	AvgDailyPrice    *float64 `json:"avg_daily_price,omitempty" doc:"Mean nightly price of booked dates, KRW"`
	EstimatedRevenue *float64 `json:"estimated_revenue,omitempty" doc:"Sum of booked nightly prices, KRW"`
	CreatedAt        string   `json:"created_at"`
}

// GetStationStatsInput represents the per-station stats request.
type GetStationStatsInput struct {
	ID   string `path:"id" doc:"Station ID"`
	Days int    `query:"days" default:"7" minimum:"1" maximum:"90" doc:"How many past days to return"`
}

// GetStationStatsOutput represents the per-station stats response.
type GetStationStatsOutput struct {
	Body struct {
		Station StationOutput     `json:"station"`
		From    string            `json:"from" doc:"First date in the window (YYYY-MM-DD)"`
		To      string            `json:"to" doc:"Last date in the window (YYYY-MM-DD)"`
		Stats   []DailyStatOutput `json:"stats"`
	}
}

// GetStationStats returns the daily aggregates of one station for the
// last N days. Aggregates are written per past date, so the window ends
// yesterday.
func (h *StationsHandler) GetStationStats(ctx context.Context, input *GetStationStatsInput) (*GetStationStatsOutput, error) {
	station, err := h.stations.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get station: " + err.Error())
	}
	if station == nil {
		return nil, huma.Error404NotFound("station not found")
	}

	today := h.now().UTC()
	from := today.AddDate(0, 0, -input.Days).Format("2006-01-02")
	to := today.AddDate(0, 0, -1).Format("2006-01-02")

	stats, err := h.stats.ListByStationRange(ctx, station.ID, from, to)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list stats: " + err.Error())
	}

	output := &GetStationStatsOutput{}
	output.Body.Station = stationToOutput(station)
	output.Body.From = from
	output.Body.To = to
	for _, stat := range stats {
		output.Body.Stats = append(output.Body.Stats, DailyStatOutput{
			Date:             stat.Date,
			RoomType:         stat.RoomType,
			TotalListings:    stat.TotalListings,
			BookedCount:      stat.BookedCount,
			BookingRate:      stat.BookingRate,
			AvgDailyPrice:    stat.AvgDailyPrice,
			EstimatedRevenue: stat.EstimatedRevenue,
			CreatedAt:        stat.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return output, nil
}

func stationToOutput(station *models.Station) StationOutput {
	return StationOutput{
		ID:        station.ID,
		Name:      station.Name,
		Line:      station.Line,
		District:  station.District,
		Latitude:  station.Latitude,
		Longitude: station.Longitude,
		Priority:  station.Priority,
		CreatedAt: station.CreatedAt.UTC().Format(time.RFC3339),
	}
}
