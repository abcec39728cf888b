package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyeonbin/stayscan/internal/airbnb"
	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/database"
	"github.com/hyeonbin/stayscan/internal/logging"
	"github.com/hyeonbin/stayscan/internal/models"
)

// parsedDay is one calendar day mined from an availability response.
type parsedDay struct {
	Date      string
	Available bool
	Price     *float64
	MinNights *int
}

// RunCalendar crawls the availability calendar of every known listing
// and appends the observations. One unit is one listing.
func (c *Crawler) RunCalendar(ctx context.Context) (*models.CrawlLog, error) {
	entry, err := c.startLog(ctx, models.JobTypeCalendar)
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

	listings, err := c.allListings(ctx)
	if err != nil {
		c.finishLog(ctx, entry, client, 0, 0, 0, err.Error())
		return entry, err
	}
	if len(listings) == 0 {
		c.finishLog(ctx, entry, client, 0, 0, 0, "")
		logger.Info("calendar job skipped, no listings yet")
		return entry, nil
	}

	now := c.now()
	month, year := int(now.Month()), now.Year()

	logger.Info("calendar job started",
		"listings", len(listings), "months", c.cfg.CalendarMonths)

	success, failed := c.forEachUnit(ctx, len(listings), func(ctx context.Context, i int) error {
		listing := listings[i]
		if err := c.crawlListingCalendar(ctx, client, listing, month, year); err != nil {
			logging.FromContext(ctx, c.logger).Error("calendar crawl failed",
				"listing", listing.UpstreamID, "error", err)
			return err
		}
		return nil
	})

	c.finishLog(ctx, entry, client, len(listings), success, failed, "")
	logger.Info("calendar job finished",
		"status", entry.Status, "success", success, "failed", failed)
	return entry, nil
}

func (c *Crawler) crawlListingCalendar(ctx context.Context, client apiClient, listing *models.Listing, month, year int) error {
	vars := airbnb.CalendarVariables(listing.UpstreamID, month, year, c.cfg.CalendarMonths)
	data, err := client.Request(ctx, constants.OpPdpAvailabilityCalendar, vars)
	if err != nil {
		return err
	}

	days := parseCalendarDays(data, logging.FromContext(ctx, c.logger))
	if len(days) == 0 {
		return fmt.Errorf("no calendar days in response for listing %s", listing.UpstreamID)
	}

	now := c.now().UTC()
	snaps := make([]*models.CalendarSnapshot, 0, len(days))
	for _, d := range days {
		if _, err := time.Parse(dateLayout, d.Date); err != nil {
			continue
		}
		snaps = append(snaps, &models.CalendarSnapshot{
			ID:        ulid.Make().String(),
			ListingID: listing.ID,
			CrawledAt: now,
			Date:      d.Date,
			Available: d.Available,
			Price:     d.Price,
			MinNights: d.MinNights,
		})
	}
	if len(snaps) == 0 {
		return fmt.Errorf("calendar for listing %s had no valid dates", listing.UpstreamID)
	}

	err = database.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		return c.repos.WithTx(tx).CalendarSnapshot.CreateBatch(ctx, snaps)
	})
	if err != nil {
		return fmt.Errorf("failed to save calendar for %s: %w", listing.UpstreamID, err)
	}

	c.metrics.SnapshotsWritten.WithLabelValues("calendar").Add(float64(len(snaps)))
	return nil
}

// parseCalendarDays mines day entries out of one availability
// response, falling back to the bounded walk when the documented path
// breaks.
func parseCalendarDays(data map[string]any, logger *slog.Logger) []parsedDay {
	months, ok := digSlice(data, "data", "merlin", "pdpAvailabilityCalendar", "calendarMonths")
	if !ok {
		found := calendarFallback(data)
		if len(found) > 0 && logger != nil {
			logger.Info("calendar fallback parser recovered days", "count", len(found))
		}
		return found
	}

	var days []parsedDay
	for _, rawMonth := range months {
		month, ok := rawMonth.(map[string]any)
		if !ok {
			continue
		}
		monthDays, ok := digSlice(month, "days")
		if !ok {
			continue
		}
		for _, rawDay := range monthDays {
			day, ok := rawDay.(map[string]any)
			if !ok {
				continue
			}
			if d, ok := parseCalendarDay(day); ok {
				days = append(days, d)
			}
		}
	}
	return days
}

func parseCalendarDay(day map[string]any) (parsedDay, bool) {
	date := asString(day["calendarDate"])
	if date == "" {
		return parsedDay{}, false
	}
	d := parsedDay{Date: date}
	d.Available, _ = day["available"].(bool)
	d.Price = dayPrice(day)
	if v, ok := asInt(day["minNights"]); ok {
		d.MinNights = &v
	}
	return d, true
}

// dayPrice prefers the numeric amount and falls back to the formatted
// Korean price string.
func dayPrice(day map[string]any) *float64 {
	price, ok := digMap(day, "price")
	if !ok {
		return nil
	}
	if v, ok := asFloat(price["amount"]); ok {
		return &v
	}
	if v, ok := airbnb.ParsePrice(asString(price["localPriceFormatted"])); ok {
		return &v
	}
	return nil
}

// calendarFallback recognizes day-shaped objects anywhere in the
// document: anything bearing both calendarDate and available.
func calendarFallback(data map[string]any) []parsedDay {
	var found []parsedDay
	walkObjects(data, 0, func(node map[string]any) bool {
		_, hasDate := node["calendarDate"]
		_, hasAvailable := node["available"]
		if !hasDate || !hasAvailable {
			return false
		}
		if d, ok := parseCalendarDay(node); ok {
			found = append(found, d)
		}
		return true
	})
	return found
}
