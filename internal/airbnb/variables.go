package airbnb

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/hyeonbin/stayscan/internal/constants"
)

// filterParam is one rawParams entry of a search request.
type filterParam struct {
	FilterName   string   `json:"filterName"`
	FilterValues []string `json:"filterValues"`
}

// treatmentFlags pins the experiment buckets the web client sends with
// every search.
var treatmentFlags = []string{
	"feed_map_decouple_m11_treatment",
	"recommended_amenities_2024_treatment_b",
	"filter_redesign_2024_treatment",
	"filter_reordering_2024_roomtype_treatment",
	"p2_category_bar_removal_treatment",
	"selected_filters_2024_treatment",
	"recommended_filters_2024_treatment_b",
}

type searchRequest struct {
	MaxMapItems       int           `json:"maxMapItems,omitempty"`
	MetadataOnly      bool          `json:"metadataOnly"`
	RawParams         []filterParam `json:"rawParams"`
	RequestedPageType string        `json:"requestedPageType"`
	TreatmentFlags    []string      `json:"treatmentFlags"`
}

type searchVariables struct {
	AISearchEnabled          bool          `json:"aiSearchEnabled"`
	IsLeanTreatment          bool          `json:"isLeanTreatment"`
	SkipExtendedSearchParams bool          `json:"skipExtendedSearchParams"`
	StaysMapSearchRequestV2  searchRequest `json:"staysMapSearchRequestV2"`
	StaysSearchRequest       searchRequest `json:"staysSearchRequest"`
}

// SearchVariables builds the StaysSearch payload for one page of a
// station-area search. The radius becomes a bounding box through the
// 111 km/degree approximation with a 0.85 cosine correction for
// Seoul's latitude. An empty cursor requests the first page.
func SearchVariables(lat, lng, radiusKm float64, checkin, checkout time.Time, guests int, cursor string) any {
	latOffset := radiusKm / 111.0
	lngOffset := radiusKm / (111.0 * 0.85)

	baseParams := []filterParam{
		{FilterName: "adults", FilterValues: []string{strconv.Itoa(guests)}},
		{FilterName: "cdnCacheSafe", FilterValues: []string{"false"}},
		{FilterName: "checkin", FilterValues: []string{checkin.Format("2006-01-02")}},
		{FilterName: "checkout", FilterValues: []string{checkout.Format("2006-01-02")}},
		{FilterName: "ne_lat", FilterValues: []string{formatCoord(lat + latOffset)}},
		{FilterName: "ne_lng", FilterValues: []string{formatCoord(lng + lngOffset)}},
		{FilterName: "sw_lat", FilterValues: []string{formatCoord(lat - latOffset)}},
		{FilterName: "sw_lng", FilterValues: []string{formatCoord(lng - lngOffset)}},
		{FilterName: "refinementPaths", FilterValues: []string{"/homes"}},
		{FilterName: "screenSize", FilterValues: []string{"large"}},
		{FilterName: "tabId", FilterValues: []string{"home_tab"}},
		{FilterName: "version", FilterValues: []string{"1.8.8"}},
		{FilterName: "search_type", FilterValues: []string{"filter_change"}},
	}
	if cursor != "" {
		baseParams = append(baseParams, filterParam{FilterName: "cursor", FilterValues: []string{cursor}})
	}

	listParams := append(append([]filterParam{}, baseParams...), filterParam{
		FilterName:   "itemsPerGrid",
		FilterValues: []string{"18"},
	})

	return searchVariables{
		StaysMapSearchRequestV2: searchRequest{
			RawParams:         baseParams,
			RequestedPageType: "STAYS_SEARCH",
			TreatmentFlags:    treatmentFlags,
		},
		StaysSearchRequest: searchRequest{
			MaxMapItems:       9999,
			RawParams:         listParams,
			RequestedPageType: "STAYS_SEARCH",
			TreatmentFlags:    treatmentFlags,
		},
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type calendarRequest struct {
	Count     int    `json:"count"`
	ListingID string `json:"listingId"`
	Month     int    `json:"month"`
	Year      int    `json:"year"`
}

type calendarVariables struct {
	Request calendarRequest `json:"request"`
}

// CalendarVariables builds the PdpAvailabilityCalendar payload: count
// months of availability starting at month/year.
func CalendarVariables(listingID string, month, year, count int) any {
	return calendarVariables{Request: calendarRequest{
		Count:     count,
		ListingID: listingID,
		Month:     month,
		Year:      year,
	}}
}

type pdpSectionsRequest struct {
	Adults                        string   `json:"adults"`
	AmenityFilters                any      `json:"amenityFilters"`
	BypassTargetings              bool     `json:"bypassTargetings"`
	CategoryTag                   any      `json:"categoryTag"`
	CauseID                       any      `json:"causeId"`
	CheckIn                       any      `json:"checkIn"`
	CheckOut                      any      `json:"checkOut"`
	Children                      any      `json:"children"`
	DisasterID                    any      `json:"disasterId"`
	DiscountedGuestFeeVersion     any      `json:"discountedGuestFeeVersion"`
	FederatedSearchID             any      `json:"federatedSearchId"`
	ForceBoostPriorityMessageType any      `json:"forceBoostPriorityMessageType"`
	HostPreview                   bool     `json:"hostPreview"`
	Infants                       any      `json:"infants"`
	InteractionType               any      `json:"interactionType"`
	Layouts                       []string `json:"layouts"`
	P3ImpressionID                string   `json:"p3ImpressionId"`
	PdpTypeOverride               any      `json:"pdpTypeOverride"`
	Pets                          int      `json:"pets"`
	PhotoID                       any      `json:"photoId"`
	Preview                       bool     `json:"preview"`
	PreviousStateCheckIn          any      `json:"previousStateCheckIn"`
	PreviousStateCheckOut         any      `json:"previousStateCheckOut"`
	PriceDropSource               any      `json:"priceDropSource"`
	PrivateBooking                bool     `json:"privateBooking"`
	PromotionUUID                 any      `json:"promotionUuid"`
	RelaxedAmenityIDs             any      `json:"relaxedAmenityIds"`
	SearchID                      any      `json:"searchId"`
	SectionIDs                    any      `json:"sectionIds"`
	SelectedCancellationPolicyID  any      `json:"selectedCancellationPolicyId"`
	SelectedRatePlanID            any      `json:"selectedRatePlanId"`
	SplitStays                    any      `json:"splitStays"`
	StaysBookingMigrationEnabled  bool     `json:"staysBookingMigrationEnabled"`
	TranslateUgc                  any      `json:"translateUgc"`
	UseNewSectionWrapperAPI       bool     `json:"useNewSectionWrapperApi"`
}

type detailVariables struct {
	CategoryTag                               any                `json:"categoryTag"`
	DemandStayListingID                       string             `json:"demandStayListingId"`
	FederatedSearchID                         any                `json:"federatedSearchId"`
	ID                                        string             `json:"id"`
	IncludeGpDescriptionFragment              bool               `json:"includeGpDescriptionFragment"`
	IncludeGpHighlightsFragment               bool               `json:"includeGpHighlightsFragment"`
	IncludeGpNavFragment                      bool               `json:"includeGpNavFragment"`
	IncludeGpNavMobileFragment                bool               `json:"includeGpNavMobileFragment"`
	IncludeGpReportToAirbnbFragment           bool               `json:"includeGpReportToAirbnbFragment"`
	IncludeGpReviewsEmptyFragment             bool               `json:"includeGpReviewsEmptyFragment"`
	IncludeGpReviewsFragment                  bool               `json:"includeGpReviewsFragment"`
	IncludeGpTitleFragment                    bool               `json:"includeGpTitleFragment"`
	IncludeHotelFragments                     bool               `json:"includeHotelFragments"`
	IncludePdpMigrationDescriptionFragment    bool               `json:"includePdpMigrationDescriptionFragment"`
	IncludePdpMigrationHighlightsFragment     bool               `json:"includePdpMigrationHighlightsFragment"`
	IncludePdpMigrationNavFragment            bool               `json:"includePdpMigrationNavFragment"`
	IncludePdpMigrationNavMobileFragment      bool               `json:"includePdpMigrationNavMobileFragment"`
	IncludePdpMigrationReportToAirbnbFragment bool               `json:"includePdpMigrationReportToAirbnbFragment"`
	IncludePdpMigrationReviewsEmptyFragment   bool               `json:"includePdpMigrationReviewsEmptyFragment"`
	IncludePdpMigrationReviewsFragment        bool               `json:"includePdpMigrationReviewsFragment"`
	IncludePdpMigrationTitleFragment          bool               `json:"includePdpMigrationTitleFragment"`
	P3ImpressionID                            string             `json:"p3ImpressionId"`
	PdpSectionsRequest                        pdpSectionsRequest `json:"pdpSectionsRequest"`
	PhotoID                                   any                `json:"photoId"`
}

// DetailVariables builds the StaysPdpSections payload. The upstream
// addresses a listing by two base64 global ids derived from the same
// numeric id.
func DetailVariables(listingID string) any {
	stayID := base64.StdEncoding.EncodeToString([]byte("StayListing:" + listingID))
	demandID := base64.StdEncoding.EncodeToString([]byte("DemandStayListing:" + listingID))
	impressionID := fmt.Sprintf("p3_%d_crawl", time.Now().Unix())

	return detailVariables{
		DemandStayListingID:             demandID,
		ID:                              stayID,
		IncludeGpDescriptionFragment:    true,
		IncludeGpHighlightsFragment:     true,
		IncludeGpNavFragment:            true,
		IncludeGpNavMobileFragment:      true,
		IncludeGpReportToAirbnbFragment: true,
		IncludeGpReviewsEmptyFragment:   true,
		IncludeGpReviewsFragment:        true,
		IncludeGpTitleFragment:          true,
		IncludeHotelFragments:           true,
		P3ImpressionID:                  impressionID,
		PdpSectionsRequest: pdpSectionsRequest{
			Adults:         strconv.Itoa(constants.DefaultGuests),
			Layouts:        []string{"SIDEBAR", "SINGLE_COLUMN"},
			P3ImpressionID: impressionID,
		},
	}
}
