package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hyeonbin/stayscan/internal/analysis"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

// BookingRates is the analysis surface the listing endpoints need.
type BookingRates interface {
	ListingBookingRate(ctx context.Context, listingID, from, to string) (float64, error)
}

// ListingsHandler handles listing endpoints.
type ListingsHandler struct {
	listings  repository.ListingRepository
	snapshots repository.CalendarSnapshotRepository
	rates     BookingRates
	now       func() time.Time
}

// NewListingsHandler creates a listings handler.
func NewListingsHandler(listings repository.ListingRepository, snapshots repository.CalendarSnapshotRepository, rates BookingRates) *ListingsHandler {
	return &ListingsHandler{
		listings:  listings,
		snapshots: snapshots,
		rates:     rates,
		now:       time.Now,
	}
}

// ListingOutput represents a listing in API responses.
type ListingOutput struct {
	ID               string   `json:"id" doc:"Listing ID"`
	UpstreamID       string   `json:"upstream_id" doc:"Numeric ID on the upstream site"`
	Name             string   `json:"name,omitempty"`
	HostID           string   `json:"host_id,omitempty"`
	RoomType         string   `json:"room_type,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	NearestStationID *string  `json:"nearest_station_id,omitempty"`
	Bedrooms         *int     `json:"bedrooms,omitempty"`
	Bathrooms        *float64 `json:"bathrooms,omitempty"`
	MaxGuests        *int     `json:"max_guests,omitempty"`
	BasePrice        *float64 `json:"base_price,omitempty" doc:"Nightly price in KRW"`
	Rating           *float64 `json:"rating,omitempty"`
	ReviewCount      *int     `json:"review_count,omitempty"`
	FirstSeen        string   `json:"first_seen"`
	LastSeen         string   `json:"last_seen"`
}

// ListListingsInput represents the listing index request.
type ListListingsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Number of listings to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
}

// ListListingsOutput represents the listing index response.
type ListListingsOutput struct {
	Body struct {
		Listings []ListingOutput `json:"listings"`
	}
}

// ListListings returns discovered listings in discovery order.
func (h *ListingsHandler) ListListings(ctx context.Context, input *ListListingsInput) (*ListListingsOutput, error) {
	listings, err := h.listings.List(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list listings: " + err.Error())
	}

	output := &ListListingsOutput{}
	for _, listing := range listings {
		output.Body.Listings = append(output.Body.Listings, listingToOutput(listing))
	}
	return output, nil
}

// CalendarDateOutput represents the newest observation of one date.
type CalendarDateOutput struct {
	Date      string   `json:"date" doc:"Calendar date (YYYY-MM-DD)"`
	Available bool     `json:"available"`
	Price     *float64 `json:"price,omitempty" doc:"Nightly price in KRW"`
	MinNights *int     `json:"min_nights,omitempty"`
	CrawledAt string   `json:"crawled_at" doc:"When this observation was made"`
}

// GetListingCalendarInput represents the listing calendar request.
type GetListingCalendarInput struct {
	ID   string `path:"id" doc:"Listing ID"`
	Days int    `query:"days" default:"30" minimum:"1" maximum:"365" doc:"How many days ahead to return"`
}

// GetListingCalendarOutput represents the listing calendar response.
type GetListingCalendarOutput struct {
	Body struct {
		Listing     ListingOutput        `json:"listing"`
		From        string               `json:"from" doc:"First date in the window (YYYY-MM-DD)"`
		To          string               `json:"to" doc:"Last date in the window (YYYY-MM-DD)"`
		BookingRate float64              `json:"booking_rate" doc:"Share of observed dates currently unavailable, 0..1"`
		Dates       []CalendarDateOutput `json:"dates"`
	}
}

// GetListingCalendar returns the newest observation of each date in the
// next N days for one listing, plus the booking rate over that window.
func (h *ListingsHandler) GetListingCalendar(ctx context.Context, input *GetListingCalendarInput) (*GetListingCalendarOutput, error) {
	listing, err := h.listings.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get listing: " + err.Error())
	}
	if listing == nil {
		return nil, huma.Error404NotFound("listing not found")
	}

	today := h.now().UTC()
	from := today.Format("2006-01-02")
	to := today.AddDate(0, 0, input.Days-1).Format("2006-01-02")

	snaps, err := h.snapshots.LatestRange(ctx, listing.ID, from, to)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load calendar: " + err.Error())
	}
	rate, err := h.rates.ListingBookingRate(ctx, listing.ID, from, to)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to compute booking rate: " + err.Error())
	}

	output := &GetListingCalendarOutput{}
	output.Body.Listing = listingToOutput(listing)
	output.Body.From = from
	output.Body.To = to
	output.Body.BookingRate = rate
	for _, snap := range snaps {
		output.Body.Dates = append(output.Body.Dates, CalendarDateOutput{
			Date:      snap.Date,
			Available: snap.Available,
			Price:     snap.Price,
			MinNights: snap.MinNights,
			CrawledAt: snap.CrawledAt.UTC().Format(time.RFC3339),
		})
	}
	return output, nil
}

// ObservationOutput represents one raw observation of a listing-date.
type ObservationOutput struct {
	Available bool     `json:"available"`
	Price     *float64 `json:"price,omitempty" doc:"Nightly price in KRW"`
	MinNights *int     `json:"min_nights,omitempty"`
	CrawledAt string   `json:"crawled_at"`
}

// GetListingDateHistoryInput represents the observation history request.
type GetListingDateHistoryInput struct {
	ID   string `path:"id" doc:"Listing ID"`
	Date string `path:"date" doc:"Calendar date (YYYY-MM-DD)"`
}

// GetListingDateHistoryOutput represents the observation history response.
type GetListingDateHistoryOutput struct {
	Body struct {
		ListingID    string              `json:"listing_id"`
		Date         string              `json:"date"`
		Class        string              `json:"class" doc:"booked, open or unknown"`
		Observations []ObservationOutput `json:"observations" doc:"Oldest first"`
	}
}

// GetListingDateHistory returns every observation of one listing-date,
// oldest first, with the booking classification derived from them.
func (h *ListingsHandler) GetListingDateHistory(ctx context.Context, input *GetListingDateHistoryInput) (*GetListingDateHistoryOutput, error) {
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return nil, huma.Error400BadRequest("date must be YYYY-MM-DD")
	}

	listing, err := h.listings.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get listing: " + err.Error())
	}
	if listing == nil {
		return nil, huma.Error404NotFound("listing not found")
	}

	history, err := h.snapshots.History(ctx, listing.ID, input.Date)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load history: " + err.Error())
	}

	output := &GetListingDateHistoryOutput{}
	output.Body.ListingID = listing.ID
	output.Body.Date = input.Date
	output.Body.Class = string(analysis.ClassifyBooking(history))
	for _, snap := range history {
		output.Body.Observations = append(output.Body.Observations, ObservationOutput{
			Available: snap.Available,
			Price:     snap.Price,
			MinNights: snap.MinNights,
			CrawledAt: snap.CrawledAt.UTC().Format(time.RFC3339),
		})
	}
	return output, nil
}

func listingToOutput(listing *models.Listing) ListingOutput {
	return ListingOutput{
		ID:               listing.ID,
		UpstreamID:       listing.UpstreamID,
		Name:             listing.Name,
		HostID:           listing.HostID,
		RoomType:         listing.RoomType,
		Latitude:         listing.Latitude,
		Longitude:        listing.Longitude,
		NearestStationID: listing.NearestStationID,
		Bedrooms:         listing.Bedrooms,
		Bathrooms:        listing.Bathrooms,
		MaxGuests:        listing.MaxGuests,
		BasePrice:        listing.BasePrice,
		Rating:           listing.Rating,
		ReviewCount:      listing.ReviewCount,
		FirstSeen:        listing.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:         listing.LastSeen.UTC().Format(time.RFC3339),
	}
}
