package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/hyeonbin/stayscan/internal/airbnb"
	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/database"
	"github.com/hyeonbin/stayscan/internal/logging"
	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

// parsedListing is one listing mined from a search page.
type parsedListing struct {
	UpstreamID  string
	Name        string
	RoomType    string
	Lat         *float64
	Lng         *float64
	Price       *float64
	Rating      *float64
	ReviewCount *int
	Available   bool
}

// RunSearch crawls search results around every station the tier
// covers and returns the job's crawl log entry. One unit is one
// station; a unit failure never aborts the run.
func (c *Crawler) RunSearch(ctx context.Context) (*models.CrawlLog, error) {
	entry, err := c.startLog(ctx, models.JobTypeSearch)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithJobID(ctx, entry.ID)
	logger := logging.FromContext(ctx, c.logger)

	client, err := c.client(ctx)
	if err != nil {
		c.finishLog(ctx, entry, nil, 0, 0, 0, err.Error())
		return entry, err
	}
	defer client.Close()

	stations, err := c.repos.Station.ListByPriorities(ctx, c.budget.StationPriorities)
	if err != nil {
		c.finishLog(ctx, entry, client, 0, 0, 0, err.Error())
		return entry, err
	}
	if len(stations) == 0 {
		err := fmt.Errorf("no stations seeded for priorities %v", c.budget.StationPriorities)
		c.finishLog(ctx, entry, client, 0, 0, 0, err.Error())
		return entry, err
	}

	checkin := c.now().AddDate(0, 0, c.cfg.CheckinOffsetDays)
	checkout := checkin.AddDate(0, 0, c.cfg.StayNights)

	logger.Info("search job started",
		"stations", len(stations),
		"checkin", checkin.Format(dateLayout),
		"checkout", checkout.Format(dateLayout))

	success, failed := c.forEachUnit(ctx, len(stations), func(ctx context.Context, i int) error {
		station := stations[i]
		ctx = logging.WithStationID(ctx, station.ID)
		if err := c.crawlStation(ctx, client, station, checkin, checkout); err != nil {
			logging.FromContext(ctx, c.logger).Error("station crawl failed",
				"station", station.Name, "line", station.Line, "error", err)
			return err
		}
		return nil
	})

	c.finishLog(ctx, entry, client, len(stations), success, failed, "")
	logger.Info("search job finished",
		"status", entry.Status, "success", success, "failed", failed)
	return entry, nil
}

// crawlStation pages through the search results for one station and
// persists a snapshot plus listing upserts. A page failure after the
// first page keeps what earlier pages yielded.
func (c *Crawler) crawlStation(ctx context.Context, client apiClient, station *models.Station, checkin, checkout time.Time) error {
	logger := logging.FromContext(ctx, c.logger)

	var listings []parsedListing
	cursor := ""
	pages := 0

	for page := 0; page < c.cfg.SearchMaxPages; page++ {
		vars := airbnb.SearchVariables(station.Latitude, station.Longitude, c.cfg.SearchRadiusKm,
			checkin, checkout, constants.DefaultGuests, cursor)
		data, err := client.Request(ctx, constants.OpStaysSearch, vars)
		if err != nil {
			if pages == 0 {
				return err
			}
			logger.Warn("search page failed, keeping earlier pages",
				"station", station.Name, "page", page, "error", err)
			break
		}
		pages++

		pageListings := parseSearchResults(data, logger)
		if len(pageListings) == 0 {
			break
		}
		listings = append(listings, pageListings...)

		cursor = nextPageCursor(data)
		if cursor == "" {
			break
		}
	}

	if err := c.saveSearchResults(ctx, station, listings, checkin, checkout); err != nil {
		return err
	}
	logger.Info("station crawled",
		"station", station.Name, "line", station.Line, "pages", pages, "listings", len(listings))
	return nil
}

func (c *Crawler) saveSearchResults(ctx context.Context, station *models.Station, listings []parsedListing, checkin, checkout time.Time) error {
	now := c.now().UTC()

	snap := &models.SearchSnapshot{
		ID:            ulid.Make().String(),
		StationID:     station.ID,
		CrawledAt:     now,
		TotalListings: len(listings),
		AvailableCount: lo.CountBy(listings, func(l parsedListing) bool {
			return l.Available
		}),
		CheckinDate:   checkin.Format(dateLayout),
		CheckoutDate:  checkout.Format(dateLayout),
		ContentDigest: airbnb.Digest(listings),
	}

	prices := lo.FilterMap(listings, func(l parsedListing, _ int) (float64, bool) {
		if l.Price == nil {
			return 0, false
		}
		return *l.Price, true
	})
	if len(prices) > 0 {
		snap.AvgPrice = lo.ToPtr(lo.Mean(prices))
		snap.MinPrice = lo.ToPtr(lo.Min(prices))
		snap.MaxPrice = lo.ToPtr(lo.Max(prices))
		snap.MedianPrice = lo.ToPtr(median(prices))
	}

	err := database.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		repos := c.repos.WithTx(tx)
		if err := repos.SearchSnapshot.Create(ctx, snap); err != nil {
			return err
		}
		for _, l := range listings {
			if err := upsertListing(ctx, repos, station.ID, l, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save search results for %s: %w", station.Name, err)
	}

	c.metrics.SnapshotsWritten.WithLabelValues("search").Inc()
	c.metrics.ListingsUpserted.Add(float64(len(listings)))
	return nil
}

// upsertListing keys on the upstream id: known listings get last_seen
// and base_price refreshed, new ones are inserted in full.
func upsertListing(ctx context.Context, repos *repository.Repositories, stationID string, l parsedListing, seen time.Time) error {
	existing, err := repos.Listing.GetByUpstreamID(ctx, l.UpstreamID)
	if err != nil {
		return err
	}
	if existing != nil {
		return repos.Listing.TouchSeen(ctx, existing.ID, seen, l.Price)
	}
	return repos.Listing.Create(ctx, &models.Listing{
		ID:               ulid.Make().String(),
		UpstreamID:       l.UpstreamID,
		Name:             l.Name,
		RoomType:         l.RoomType,
		Latitude:         l.Lat,
		Longitude:        l.Lng,
		NearestStationID: &stationID,
		BasePrice:        l.Price,
		Rating:           l.Rating,
		ReviewCount:      l.ReviewCount,
		FirstSeen:        seen,
		LastSeen:         seen,
	})
}

// parseSearchResults mines listings out of one search response. The
// documented result path is tried first; when the path breaks, the
// bounded fallback walk scans the whole document.
func parseSearchResults(data map[string]any, logger *slog.Logger) []parsedListing {
	results, ok := digSlice(data, "data", "presentation", "staysSearch", "results", "searchResults")
	if !ok {
		found := searchFallback(data)
		if len(found) > 0 && logger != nil {
			logger.Info("search fallback parser recovered listings", "count", len(found))
		}
		return found
	}

	listings := make([]parsedListing, 0, len(results))
	for _, raw := range results {
		result, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		l := parseSearchResult(result)
		if l.UpstreamID == "" {
			continue
		}
		listings = append(listings, l)
	}
	return listings
}

func parseSearchResult(result map[string]any) parsedListing {
	l := parsedListing{Available: true}

	demand, _ := digMap(result, "demandStayListing")

	l.UpstreamID = asString(result["propertyId"])
	if l.UpstreamID == "" {
		l.UpstreamID = airbnb.DecodeGlobalID(asString(demand["id"]))
	}
	if l.UpstreamID == "" {
		return parseLegacyResult(result)
	}

	l.Name = localizedName(result["nameLocalized"])
	l.RoomType = normalizeRoomType(asString(demand["roomTypeCategory"]))
	if coord, ok := digMap(demand, "location", "coordinate"); ok {
		if v, ok := asFloat(coord["latitude"]); ok {
			l.Lat = &v
		}
		if v, ok := asFloat(coord["longitude"]); ok {
			l.Lng = &v
		}
	}
	if v, ok := asInt(demand["reviewsCount"]); ok {
		l.ReviewCount = &v
	}

	if line, ok := digMap(result, "structuredDisplayPrice", "primaryLine"); ok {
		l.Price = primaryLinePrice(line)
	}
	if v, ok := airbnb.ParseRating(asString(result["avgRatingLocalized"])); ok {
		l.Rating = &v
	}
	return l
}

// parseLegacyResult reads the pre-2024 result shape, where the fields
// live under a listing sub-object and the price under pricingQuote.
func parseLegacyResult(result map[string]any) parsedListing {
	l := parsedListing{Available: true}

	legacy, ok := digMap(result, "listing")
	if !ok {
		return l
	}
	l.UpstreamID = asString(legacy["id"])
	l.Name = asString(legacy["name"])
	l.RoomType = normalizeRoomType(asString(legacy["roomTypeCategory"]))
	if coord, ok := digMap(legacy, "coordinate"); ok {
		if v, ok := asFloat(coord["latitude"]); ok {
			l.Lat = &v
		}
		if v, ok := asFloat(coord["longitude"]); ok {
			l.Lng = &v
		}
	}
	if v, ok := asFloat(legacy["avgRating"]); ok {
		l.Rating = &v
	}
	if v, ok := asInt(legacy["reviewsCount"]); ok {
		l.ReviewCount = &v
	}
	if quote, ok := digMap(result, "pricingQuote"); ok {
		if v, ok := asFloat(dig(quote, "price", "total", "amount")); ok {
			l.Price = &v
		} else if v, ok := airbnb.ParsePrice(asString(quote["priceString"])); ok {
			l.Price = &v
		}
	}
	return l
}

// searchFallback recognizes listing-shaped objects anywhere in the
// document: anything bearing id, name and either a coordinate
// sub-object or bare lat/lng fields.
func searchFallback(data map[string]any) []parsedListing {
	var found []parsedListing
	walkObjects(data, 0, func(node map[string]any) bool {
		l, ok := fallbackListing(node)
		if !ok {
			return false
		}
		found = append(found, l)
		return true
	})
	return found
}

func fallbackListing(node map[string]any) (parsedListing, bool) {
	_, hasName := node["name"]
	_, hasCoord := node["coordinate"]
	_, hasLat := node["lat"]

	id := asString(node["id"])
	if id == "" || !hasName || (!hasCoord && !hasLat) {
		return parsedListing{}, false
	}

	l := parsedListing{
		UpstreamID: id,
		Name:       asString(node["name"]),
		Available:  true,
	}
	l.RoomType = normalizeRoomType(asString(node["roomTypeCategory"]))
	if l.RoomType == "" {
		l.RoomType = normalizeRoomType(asString(node["room_type"]))
	}
	if coord, ok := digMap(node, "coordinate"); ok {
		if v, ok := asFloat(coord["latitude"]); ok {
			l.Lat = &v
		}
		if v, ok := asFloat(coord["longitude"]); ok {
			l.Lng = &v
		}
	} else {
		if v, ok := asFloat(node["lat"]); ok {
			l.Lat = &v
		}
		if v, ok := asFloat(node["lng"]); ok {
			l.Lng = &v
		}
	}
	if price, ok := digMap(node, "price"); ok {
		if v, ok := asFloat(price["amount"]); ok {
			l.Price = &v
		}
	} else if v, ok := asFloat(node["price"]); ok {
		l.Price = &v
	}
	if v, ok := asFloat(node["avgRating"]); ok {
		l.Rating = &v
	}
	if v, ok := asInt(node["reviewsCount"]); ok {
		l.ReviewCount = &v
	}
	return l, true
}

// primaryLinePrice extracts the nightly price from a primaryLine
// object. The discounted price wins over the regular one, with the
// accessibility label as a last resort.
func primaryLinePrice(line map[string]any) *float64 {
	for _, key := range []string{"discountedPrice", "price", "accessibilityLabel"} {
		if v, ok := airbnb.ParsePrice(asString(line[key])); ok {
			return &v
		}
	}
	return nil
}

func localizedName(v any) string {
	switch name := v.(type) {
	case string:
		return name
	case map[string]any:
		return asString(name["localizedStringWithTranslationPreference"])
	default:
		return ""
	}
}

// normalizeRoomType maps an upstream room type category onto the
// known set. Empty stays empty so partial updates keep stored values.
func normalizeRoomType(category string) string {
	switch category {
	case "":
		return ""
	case constants.RoomTypeEntireHome, constants.RoomTypePrivateRoom,
		constants.RoomTypeSharedRoom, constants.RoomTypeHotel:
		return category
	case "hotel_room":
		return constants.RoomTypeHotel
	default:
		return constants.RoomTypeUnknown
	}
}

func nextPageCursor(data map[string]any) string {
	return asString(dig(data, "data", "presentation", "staysSearch", "results", "paginationInfo", "nextPageCursor"))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
