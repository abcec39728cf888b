package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

const detailBody = `{
	"data": {"presentation": {"stayProductDetailPage": {"sections": {"sections": [
		{
			"sectionComponentType": "BOOK_IT_SIDEBAR",
			"section": {
				"maxGuestCapacity": 4,
				"descriptionItems": [
					{"title": "침실 2개"},
					{"title": "욕실 1개"}
				]
			}
		},
		{
			"sectionComponentType": "AVAILABILITY_CALENDAR_DEFAULT",
			"section": {
				"descriptionItems": [
					{"title": "공동 주택 전체"}
				]
			}
		},
		{
			"sectionComponentType": "MEET_YOUR_HOST",
			"section": {
				"cardData": {
					"userId": "RGVtYW5kVXNlcjo2ODM0NTY5NDk=",
					"ratingAverage": 4.72,
					"stats": [
						{"type": "YEARS_HOSTING", "value": "5"},
						{"type": "REVIEW_COUNT", "value": "412"}
					]
				}
			}
		},
		{
			"sectionComponentType": "AMENITIES_DEFAULT",
			"section": {"previewAmenitiesGroups": []}
		}
	]}}}}
}`

func TestParseListingDetail_ModernSections(t *testing.T) {
	detail, ok := parseListingDetail(decodeBody(t, detailBody))
	if !ok {
		t.Fatal("parseListingDetail() ok = false, want true")
	}

	if detail.MaxGuests == nil || *detail.MaxGuests != 4 {
		t.Errorf("MaxGuests = %v, want 4", detail.MaxGuests)
	}
	if detail.Bedrooms == nil || *detail.Bedrooms != 2 {
		t.Errorf("Bedrooms = %v, want 2", detail.Bedrooms)
	}
	if detail.Bathrooms == nil || *detail.Bathrooms != 1 {
		t.Errorf("Bathrooms = %v, want 1", detail.Bathrooms)
	}
	if detail.RoomType != "entire_home" {
		t.Errorf("RoomType = %s, want entire_home", detail.RoomType)
	}
	if detail.HostID != "683456949" {
		t.Errorf("HostID = %s, want 683456949 (base64 decoded)", detail.HostID)
	}
	if detail.Rating == nil || *detail.Rating != 4.72 {
		t.Errorf("Rating = %v, want 4.72", detail.Rating)
	}
	if detail.ReviewCount == nil || *detail.ReviewCount != 412 {
		t.Errorf("ReviewCount = %v, want 412", detail.ReviewCount)
	}
}

func TestParseListingDetail_BedsFallbackForBedrooms(t *testing.T) {
	body := `{
		"data": {"presentation": {"stayProductDetailPage": {"sections": {"sections": [
			{
				"sectionComponentType": "AVAILABILITY_CALENDAR_DEFAULT",
				"section": {"descriptionItems": [
					{"title": "원룸 개인실"},
					{"title": "침대 3개"}
				]}
			}
		]}}}}
	}`

	detail, ok := parseListingDetail(decodeBody(t, body))
	if !ok {
		t.Fatal("parseListingDetail() ok = false, want true")
	}
	if detail.Bedrooms == nil || *detail.Bedrooms != 3 {
		t.Errorf("Bedrooms = %v, want 3 (bed count fallback)", detail.Bedrooms)
	}
	if detail.RoomType != "private_room" {
		t.Errorf("RoomType = %s, want private_room", detail.RoomType)
	}
}

func TestParseListingDetail_PoliciesGuestCapacity(t *testing.T) {
	body := `{
		"data": {"presentation": {"stayProductDetailPage": {"sections": {"sections": [
			{
				"sectionComponentType": "POLICIES_DEFAULT",
				"section": {"houseRules": [
					{"title": "체크인: 오후 3:00 이후"},
					{"title": "게스트 정원 3명"}
				]}
			}
		]}}}}
	}`

	detail, ok := parseListingDetail(decodeBody(t, body))
	if !ok {
		t.Fatal("parseListingDetail() ok = false, want true")
	}
	if detail.MaxGuests == nil || *detail.MaxGuests != 3 {
		t.Errorf("MaxGuests = %v, want 3", detail.MaxGuests)
	}
}

func TestParseListingDetail_SidebarCapacityBeatsPolicies(t *testing.T) {
	body := `{
		"data": {"presentation": {"stayProductDetailPage": {"sections": {"sections": [
			{
				"sectionComponentType": "BOOK_IT_SIDEBAR",
				"section": {"maxGuestCapacity": 6}
			},
			{
				"sectionComponentType": "POLICIES_DEFAULT",
				"section": {"houseRules": [{"title": "게스트 정원 2명"}]}
			}
		]}}}}
	}`

	detail, ok := parseListingDetail(decodeBody(t, body))
	if !ok {
		t.Fatal("parseListingDetail() ok = false, want true")
	}
	if detail.MaxGuests == nil || *detail.MaxGuests != 6 {
		t.Errorf("MaxGuests = %v, want 6 (sidebar wins)", detail.MaxGuests)
	}
}

func TestParseListingDetail_LegacyOverviewAndHostProfile(t *testing.T) {
	body := `{
		"data": {"presentation": {"stayProductDetailPage": {"sections": {"sections": [
			{
				"sectionComponentType": "OVERVIEW_DEFAULT",
				"section": {
					"roomTypeCategory": "hotel_room",
					"bedrooms": 2,
					"bathrooms": 1.5,
					"personCapacity": 4
				}
			},
			{
				"sectionComponentType": "HOST_PROFILE_DEFAULT",
				"section": {"hostAvatar": {"userId": 8765}}
			}
		]}}}}
	}`

	detail, ok := parseListingDetail(decodeBody(t, body))
	if !ok {
		t.Fatal("parseListingDetail() ok = false, want true")
	}
	if detail.RoomType != "hotel" {
		t.Errorf("RoomType = %s, want hotel (normalized)", detail.RoomType)
	}
	if detail.Bedrooms == nil || *detail.Bedrooms != 2 {
		t.Errorf("Bedrooms = %v, want 2", detail.Bedrooms)
	}
	if detail.Bathrooms == nil || *detail.Bathrooms != 1.5 {
		t.Errorf("Bathrooms = %v, want 1.5", detail.Bathrooms)
	}
	if detail.MaxGuests == nil || *detail.MaxGuests != 4 {
		t.Errorf("MaxGuests = %v, want 4", detail.MaxGuests)
	}
	if detail.HostID != "8765" {
		t.Errorf("HostID = %s, want 8765 (raw legacy id)", detail.HostID)
	}
}

func TestParseListingDetail_NoSections(t *testing.T) {
	if _, ok := parseListingDetail(decodeBody(t, `{}`)); ok {
		t.Error("parseListingDetail({}) ok = true, want false")
	}

	empty := `{"data":{"presentation":{"stayProductDetailPage":{"sections":{"sections":[]}}}}}`
	if _, ok := parseListingDetail(decodeBody(t, empty)); ok {
		t.Error("parseListingDetail(no sections) ok = true, want false")
	}
}

func TestDecodeUserID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"base64 demand user", "RGVtYW5kVXNlcjo2ODM0NTY5NDk=", "683456949"},
		{"plain numeric id", "12345", "12345"},
		{"garbage", "!!!", "!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeUserID(tt.in); got != tt.want {
				t.Errorf("decodeUserID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRunDetail_UpdatesListing(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		return detailBody, nil
	}}
	c, repos := newTestCrawler(t, stub)
	station := seedStation(t, repos, "강남", 1)
	listing := seedListing(t, repos, station.ID, "50620715")
	ctx := context.Background()

	later := time.Now().UTC().Add(time.Hour)
	c.now = func() time.Time { return later }

	entry, err := c.RunDetail(ctx)
	if err != nil {
		t.Fatalf("RunDetail() error = %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Fatalf("Status = %s, want success", entry.Status)
	}
	if entry.TotalRequests != 1 || entry.SuccessfulRequests != 1 {
		t.Errorf("counters = %d/%d, want 1/1", entry.TotalRequests, entry.SuccessfulRequests)
	}

	got, err := repos.Listing.GetByID(ctx, listing.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.RoomType != "entire_home" {
		t.Errorf("RoomType = %s, want entire_home", got.RoomType)
	}
	if got.Bedrooms == nil || *got.Bedrooms != 2 {
		t.Errorf("Bedrooms = %v, want 2", got.Bedrooms)
	}
	if got.MaxGuests == nil || *got.MaxGuests != 4 {
		t.Errorf("MaxGuests = %v, want 4", got.MaxGuests)
	}
	if got.HostID != "683456949" {
		t.Errorf("HostID = %s, want 683456949", got.HostID)
	}
	if got.Name != "테스트 숙소" {
		t.Errorf("Name = %s, want unchanged", got.Name)
	}
	if got.UpstreamID != "50620715" {
		t.Errorf("UpstreamID = %s, want unchanged", got.UpstreamID)
	}
	if got.LastSeen.Unix() != later.Unix() {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, later)
	}
}

func TestRunDetail_EmptyDetailIsUnitFailure(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		return `{}`, nil
	}}
	c, repos := newTestCrawler(t, stub)
	station := seedStation(t, repos, "강남", 1)
	seedListing(t, repos, station.ID, "666")

	entry, err := c.RunDetail(context.Background())
	if err != nil {
		t.Fatalf("RunDetail() error = %v", err)
	}
	if entry.Status != models.JobStatusPartial {
		t.Errorf("Status = %s, want partial", entry.Status)
	}
	if entry.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", entry.FailedRequests)
	}
}

func TestRunDetail_NoListings(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		t.Fatal("request issued with no listings")
		return "", nil
	}}
	c, _ := newTestCrawler(t, stub)

	entry, err := c.RunDetail(context.Background())
	if err != nil {
		t.Fatalf("RunDetail() error = %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Status = %s, want success", entry.Status)
	}
}
