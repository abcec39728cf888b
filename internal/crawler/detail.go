package crawler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyeonbin/stayscan/internal/airbnb"
	"github.com/hyeonbin/stayscan/internal/constants"
	"github.com/hyeonbin/stayscan/internal/logging"
	"github.com/hyeonbin/stayscan/internal/models"
)

var (
	bedroomsPattern  = regexp.MustCompile(`침실\s*(\d+)`)
	bedsPattern      = regexp.MustCompile(`침대\s*(\d+)`)
	bathroomsPattern = regexp.MustCompile(`욕실\s*(\d+)`)
	guestsPattern    = regexp.MustCompile(`게스트 정원\s*(\d+)`)
)

// roomTypeKeywords maps Korean description keywords onto room types.
// Checked in order; the first keyword found in a title wins.
var roomTypeKeywords = []struct {
	keyword  string
	roomType string
}{
	{"전체", constants.RoomTypeEntireHome},
	{"개인실", constants.RoomTypePrivateRoom},
	{"다인실", constants.RoomTypeSharedRoom},
	{"공유", constants.RoomTypeSharedRoom},
	{"호텔", constants.RoomTypeHotel},
}

// listingDetail carries the fields the detail page can fill. Zero
// values mean the page did not provide the field.
type listingDetail struct {
	RoomType    string
	HostID      string
	Bedrooms    *int
	Bathrooms   *float64
	MaxGuests   *int
	Rating      *float64
	ReviewCount *int
}

func (d listingDetail) empty() bool {
	return d.RoomType == "" && d.HostID == "" && d.Bedrooms == nil &&
		d.Bathrooms == nil && d.MaxGuests == nil && d.Rating == nil &&
		d.ReviewCount == nil
}

// RunDetail crawls the detail page of every known listing and fills
// room layout and host fields. Scheduled only on tiers with detail
// enabled; one unit is one listing.
func (c *Crawler) RunDetail(ctx context.Context) (*models.CrawlLog, error) {
	entry, err := c.startLog(ctx, models.JobTypeDetail)
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
		logger.Info("detail job skipped, no listings yet")
		return entry, nil
	}

	logger.Info("detail job started", "listings", len(listings))

	success, failed := c.forEachUnit(ctx, len(listings), func(ctx context.Context, i int) error {
		listing := listings[i]
		if err := c.crawlListingDetail(ctx, client, listing); err != nil {
			logging.FromContext(ctx, c.logger).Error("detail crawl failed",
				"listing", listing.UpstreamID, "error", err)
			return err
		}
		return nil
	})

	c.finishLog(ctx, entry, client, len(listings), success, failed, "")
	logger.Info("detail job finished",
		"status", entry.Status, "success", success, "failed", failed)
	return entry, nil
}

func (c *Crawler) crawlListingDetail(ctx context.Context, client apiClient, listing *models.Listing) error {
	data, err := client.Request(ctx, constants.OpStaysPdpSections, airbnb.DetailVariables(listing.UpstreamID))
	if err != nil {
		return err
	}

	detail, ok := parseListingDetail(data)
	if !ok {
		return fmt.Errorf("no detail sections for listing %s", listing.UpstreamID)
	}

	err = c.repos.Listing.UpdateDetails(ctx, &models.Listing{
		ID:          listing.ID,
		HostID:      detail.HostID,
		RoomType:    detail.RoomType,
		Bedrooms:    detail.Bedrooms,
		Bathrooms:   detail.Bathrooms,
		MaxGuests:   detail.MaxGuests,
		Rating:      detail.Rating,
		ReviewCount: detail.ReviewCount,
		LastSeen:    c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to update listing %s: %w", listing.UpstreamID, err)
	}
	return nil
}

// parseListingDetail walks the PDP sections and assembles whatever
// detail fields they carry. Returns false when the response holds no
// usable section data.
func parseListingDetail(data map[string]any) (listingDetail, bool) {
	var d listingDetail

	sections, ok := digSlice(data, "data", "presentation", "stayProductDetailPage", "sections", "sections")
	if !ok {
		return d, false
	}

	for _, raw := range sections {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sectionType := asString(entry["sectionComponentType"])
		section, ok := digMap(entry, "section")
		if !ok {
			continue
		}

		switch {
		case sectionType == "BOOK_IT_SIDEBAR":
			if v, ok := asInt(section["maxGuestCapacity"]); ok && v > 0 {
				d.MaxGuests = &v
			}
			parseDescriptionItems(&d, section)

		case strings.Contains(sectionType, "AVAILABILITY_CALENDAR"):
			parseDescriptionItems(&d, section)

		case sectionType == "MEET_YOUR_HOST":
			parseHostCard(&d, section)

		case sectionType == "POLICIES_DEFAULT":
			parseHouseRules(&d, section)

		// Pre-2024 section shapes, kept for compatibility.
		case strings.Contains(sectionType, "OVERVIEW"):
			parseOverview(&d, section)

		case strings.Contains(sectionType, "HOST_PROFILE"):
			if id := asString(dig(section, "hostAvatar", "userId")); id != "" {
				d.HostID = id
			}
		}
	}
	return d, !d.empty()
}

// parseDescriptionItems reads room facts from the Korean description
// titles, e.g. "공동 주택 전체", "침대 1개", "욕실 1개". Fields already
// filled by an earlier section are kept.
func parseDescriptionItems(d *listingDetail, section map[string]any) {
	items, ok := digSlice(section, "descriptionItems")
	if !ok {
		return
	}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title := asString(item["title"])
		if title == "" {
			continue
		}

		if d.RoomType == "" {
			for _, kw := range roomTypeKeywords {
				if strings.Contains(title, kw.keyword) {
					d.RoomType = kw.roomType
					break
				}
			}
		}
		if d.Bedrooms == nil {
			m := bedroomsPattern.FindStringSubmatch(title)
			if m == nil {
				m = bedsPattern.FindStringSubmatch(title)
			}
			if m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					d.Bedrooms = &v
				}
			}
		}
		if d.Bathrooms == nil {
			if m := bathroomsPattern.FindStringSubmatch(title); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					d.Bathrooms = &v
				}
			}
		}
	}
}

func parseHostCard(d *listingDetail, section map[string]any) {
	card, ok := digMap(section, "cardData")
	if !ok {
		return
	}
	if id := asString(card["userId"]); id != "" {
		d.HostID = decodeUserID(id)
	}
	if v, ok := asFloat(card["ratingAverage"]); ok && v > 0 {
		d.Rating = &v
	}
	stats, ok := digSlice(card, "stats")
	if !ok {
		return
	}
	for _, raw := range stats {
		stat, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if asString(stat["type"]) != "REVIEW_COUNT" {
			continue
		}
		if v, ok := asInt(stat["value"]); ok {
			d.ReviewCount = &v
		}
	}
}

// parseHouseRules mines the guest capacity out of rules like
// "게스트 정원 4명", only when nothing set it yet.
func parseHouseRules(d *listingDetail, section map[string]any) {
	if d.MaxGuests != nil {
		return
	}
	rules, ok := digSlice(section, "houseRules")
	if !ok {
		return
	}
	for _, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if m := guestsPattern.FindStringSubmatch(asString(rule["title"])); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				d.MaxGuests = &v
				return
			}
		}
	}
}

func parseOverview(d *listingDetail, section map[string]any) {
	if rt := normalizeRoomType(asString(section["roomTypeCategory"])); rt != "" {
		d.RoomType = rt
	}
	if v, ok := asInt(section["bedrooms"]); ok {
		d.Bedrooms = &v
	}
	if v, ok := asFloat(section["bathrooms"]); ok {
		d.Bathrooms = &v
	}
	if v, ok := asInt(section["personCapacity"]); ok && v > 0 {
		d.MaxGuests = &v
	}
}

// decodeUserID unwraps a base64 DemandUser global id, keeping the raw
// value when it is not one.
func decodeUserID(raw string) string {
	if decoded := airbnb.DecodeGlobalID(raw); decoded != "" {
		return decoded
	}
	return raw
}
