package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

const modernSearchBody = `{
	"data": {"presentation": {"staysSearch": {"results": {
		"searchResults": [
			{
				"__typename": "StaySearchResult",
				"propertyId": "50620715",
				"nameLocalized": {"localizedStringWithTranslationPreference": "강남역 도보 5분 아늑한 원룸"},
				"avgRatingLocalized": "4.89",
				"structuredDisplayPrice": {"primaryLine": {"discountedPrice": "₩119,824", "price": "₩135,000"}},
				"demandStayListing": {
					"id": "RGVtYW5kU3RheUxpc3Rpbmc6NTA2MjA3MTU=",
					"roomTypeCategory": "entire_home",
					"reviewsCount": 127,
					"location": {"coordinate": {"latitude": 37.5012, "longitude": 127.0396}}
				}
			},
			{
				"__typename": "StaySearchResult",
				"nameLocalized": "역삼동 개인실",
				"avgRatingLocalized": "신규",
				"structuredDisplayPrice": {"primaryLine": {"price": "₩85,000"}},
				"demandStayListing": {
					"id": "RGVtYW5kU3RheUxpc3Rpbmc6MTIzNDU2Nzg5MA==",
					"roomTypeCategory": "private_room",
					"location": {"coordinate": {"latitude": 37.4998, "longitude": 127.0355}}
				}
			}
		],
		"paginationInfo": {"nextPageCursor": null}
	}}}}
}`

func TestParseSearchResults_ModernShape(t *testing.T) {
	listings := parseSearchResults(decodeBody(t, modernSearchBody), nil)
	if len(listings) != 2 {
		t.Fatalf("len(listings) = %d, want 2", len(listings))
	}

	first := listings[0]
	if first.UpstreamID != "50620715" {
		t.Errorf("UpstreamID = %s, want 50620715", first.UpstreamID)
	}
	if first.Name != "강남역 도보 5분 아늑한 원룸" {
		t.Errorf("Name = %s", first.Name)
	}
	if first.RoomType != "entire_home" {
		t.Errorf("RoomType = %s, want entire_home", first.RoomType)
	}
	if first.Price == nil || *first.Price != 119824 {
		t.Errorf("Price = %v, want 119824", first.Price)
	}
	if first.Rating == nil || *first.Rating != 4.89 {
		t.Errorf("Rating = %v, want 4.89", first.Rating)
	}
	if first.ReviewCount == nil || *first.ReviewCount != 127 {
		t.Errorf("ReviewCount = %v, want 127", first.ReviewCount)
	}
	if first.Lat == nil || *first.Lat != 37.5012 {
		t.Errorf("Lat = %v, want 37.5012", first.Lat)
	}
	if first.Lng == nil || *first.Lng != 127.0396 {
		t.Errorf("Lng = %v, want 127.0396", first.Lng)
	}
	if !first.Available {
		t.Error("Available = false, want true")
	}

	// No propertyId: the id comes from the base64 demand listing id,
	// the name from the plain-string form, and "신규" yields no rating.
	second := listings[1]
	if second.UpstreamID != "1234567890" {
		t.Errorf("UpstreamID = %s, want 1234567890", second.UpstreamID)
	}
	if second.Name != "역삼동 개인실" {
		t.Errorf("Name = %s", second.Name)
	}
	if second.Price == nil || *second.Price != 85000 {
		t.Errorf("Price = %v, want 85000", second.Price)
	}
	if second.Rating != nil {
		t.Errorf("Rating = %v, want nil", second.Rating)
	}
	if second.ReviewCount != nil {
		t.Errorf("ReviewCount = %v, want nil", second.ReviewCount)
	}
}

func TestParseSearchResults_LegacyShape(t *testing.T) {
	body := `{
		"data": {"presentation": {"staysSearch": {"results": {
			"searchResults": [
				{
					"listing": {
						"id": 987654,
						"name": "홍대 게스트하우스",
						"roomTypeCategory": "shared_room",
						"avgRating": 4.5,
						"reviewsCount": 88,
						"coordinate": {"latitude": 37.557, "longitude": 126.924}
					},
					"pricingQuote": {"price": {"total": {"amount": 45000}}}
				},
				{
					"listing": {
						"id": "555333",
						"name": "합정 숙소",
						"coordinate": {"latitude": 37.549, "longitude": 126.913}
					},
					"pricingQuote": {"priceString": "₩52,000"}
				}
			]
		}}}}
	}`

	listings := parseSearchResults(decodeBody(t, body), nil)
	if len(listings) != 2 {
		t.Fatalf("len(listings) = %d, want 2", len(listings))
	}

	first := listings[0]
	if first.UpstreamID != "987654" {
		t.Errorf("UpstreamID = %s, want 987654", first.UpstreamID)
	}
	if first.RoomType != "shared_room" {
		t.Errorf("RoomType = %s, want shared_room", first.RoomType)
	}
	if first.Price == nil || *first.Price != 45000 {
		t.Errorf("Price = %v, want 45000", first.Price)
	}
	if first.Rating == nil || *first.Rating != 4.5 {
		t.Errorf("Rating = %v, want 4.5", first.Rating)
	}

	second := listings[1]
	if second.Price == nil || *second.Price != 52000 {
		t.Errorf("priceString Price = %v, want 52000", second.Price)
	}
}

func TestParseSearchResults_SkipsEntriesWithoutID(t *testing.T) {
	body := `{
		"data": {"presentation": {"staysSearch": {"results": {
			"searchResults": [
				{"nameLocalized": "이름만 있는 항목"},
				{"propertyId": "42", "nameLocalized": "정상 항목"}
			]
		}}}}
	}`

	listings := parseSearchResults(decodeBody(t, body), nil)
	if len(listings) != 1 {
		t.Fatalf("len(listings) = %d, want 1", len(listings))
	}
	if listings[0].UpstreamID != "42" {
		t.Errorf("UpstreamID = %s, want 42", listings[0].UpstreamID)
	}
}

func TestParseSearchResults_FallbackOnBrokenPath(t *testing.T) {
	body := `{
		"data": {"presentation": "deprecated"},
		"sections": [
			{"wrapper": {
				"id": 777001,
				"name": "폴백 숙소",
				"coordinate": {"latitude": 37.51, "longitude": 127.04},
				"price": {"amount": 99000},
				"avgRating": 4.2,
				"reviewsCount": 17
			}}
		]
	}`

	listings := parseSearchResults(decodeBody(t, body), nil)
	if len(listings) != 1 {
		t.Fatalf("len(listings) = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.UpstreamID != "777001" {
		t.Errorf("UpstreamID = %s, want 777001", l.UpstreamID)
	}
	if l.Price == nil || *l.Price != 99000 {
		t.Errorf("Price = %v, want 99000", l.Price)
	}
	if l.Lat == nil || *l.Lat != 37.51 {
		t.Errorf("Lat = %v, want 37.51", l.Lat)
	}
	if l.Rating == nil || *l.Rating != 4.2 {
		t.Errorf("Rating = %v, want 4.2", l.Rating)
	}
}

func TestSearchFallback_BareLatLngAndNumericPrice(t *testing.T) {
	body := `{
		"anything": {
			"id": "888",
			"name": "좌표 필드 숙소",
			"lat": 37.52,
			"lng": 127.05,
			"price": 71000
		}
	}`

	listings := searchFallback(decodeBody(t, body))
	if len(listings) != 1 {
		t.Fatalf("len(listings) = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.Lat == nil || *l.Lat != 37.52 {
		t.Errorf("Lat = %v, want 37.52", l.Lat)
	}
	if l.Lng == nil || *l.Lng != 127.05 {
		t.Errorf("Lng = %v, want 127.05", l.Lng)
	}
	if l.Price == nil || *l.Price != 71000 {
		t.Errorf("Price = %v, want 71000", l.Price)
	}
}

func TestSearchFallback_DepthCap(t *testing.T) {
	listing := map[string]any{
		"id":   "1",
		"name": "깊은 숙소",
		"lat":  37.5,
	}

	nest := func(levels int) map[string]any {
		node := listing
		for i := 0; i < levels; i++ {
			node = map[string]any{"level": node}
		}
		return map[string]any{"root": node}
	}

	if got := searchFallback(nest(5)); len(got) != 1 {
		t.Errorf("shallow nest: len = %d, want 1", len(got))
	}
	if got := searchFallback(nest(15)); len(got) != 0 {
		t.Errorf("deep nest: len = %d, want 0", len(got))
	}
}

func TestPrimaryLinePrice_Preference(t *testing.T) {
	tests := []struct {
		name string
		line map[string]any
		want *float64
	}{
		{
			name: "discounted wins",
			line: map[string]any{"discountedPrice": "₩90,000", "price": "₩100,000"},
			want: ptr(90000.0),
		},
		{
			name: "regular price",
			line: map[string]any{"price": "₩100,000"},
			want: ptr(100000.0),
		},
		{
			name: "accessibility label last resort",
			line: map[string]any{"accessibilityLabel": "1박당 ₩85,000"},
			want: ptr(185000.0),
		},
		{
			name: "nothing parseable",
			line: map[string]any{"qualifier": "1박"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := primaryLinePrice(tt.line)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("primaryLinePrice() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("primaryLinePrice() = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestNormalizeRoomType(t *testing.T) {
	tests := []struct {
		category string
		want     string
	}{
		{"entire_home", "entire_home"},
		{"private_room", "private_room"},
		{"shared_room", "shared_room"},
		{"hotel", "hotel"},
		{"hotel_room", "hotel"},
		{"", ""},
		{"treehouse", "unknown"},
	}
	for _, tt := range tests {
		if got := normalizeRoomType(tt.category); got != tt.want {
			t.Errorf("normalizeRoomType(%q) = %q, want %q", tt.category, got, tt.want)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("median(odd) = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("median(even) = %v, want 2.5", got)
	}
	if got := median([]float64{7}); got != 7 {
		t.Errorf("median(single) = %v, want 7", got)
	}
}

func TestNextPageCursor(t *testing.T) {
	withCursor := decodeBody(t, `{"data":{"presentation":{"staysSearch":{"results":{"paginationInfo":{"nextPageCursor":"abc123"}}}}}}`)
	if got := nextPageCursor(withCursor); got != "abc123" {
		t.Errorf("nextPageCursor() = %q, want abc123", got)
	}

	nullCursor := decodeBody(t, `{"data":{"presentation":{"staysSearch":{"results":{"paginationInfo":{"nextPageCursor":null}}}}}}`)
	if got := nextPageCursor(nullCursor); got != "" {
		t.Errorf("nextPageCursor() = %q, want empty", got)
	}
}

// searchPage builds a one-result response body with an optional next
// cursor.
func searchPage(id, name, cursor string) string {
	cursorJSON := "null"
	if cursor != "" {
		cursorJSON = fmt.Sprintf("%q", cursor)
	}
	return fmt.Sprintf(`{
		"data": {"presentation": {"staysSearch": {"results": {
			"searchResults": [
				{
					"propertyId": %q,
					"nameLocalized": %q,
					"structuredDisplayPrice": {"primaryLine": {"price": "₩100,000"}},
					"demandStayListing": {
						"roomTypeCategory": "entire_home",
						"location": {"coordinate": {"latitude": 37.5, "longitude": 127.0}}
					}
				}
			],
			"paginationInfo": {"nextPageCursor": %s}
		}}}}
	}`, id, name, cursorJSON)
}

// requestCursor pulls the cursor filter out of marshaled search
// variables; empty when the request has none.
func requestCursor(t *testing.T, variables any) string {
	t.Helper()
	b, err := json.Marshal(variables)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded struct {
		StaysSearchRequest struct {
			RawParams []struct {
				FilterName   string   `json:"filterName"`
				FilterValues []string `json:"filterValues"`
			} `json:"rawParams"`
		} `json:"staysSearchRequest"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	for _, p := range decoded.StaysSearchRequest.RawParams {
		if p.FilterName == "cursor" && len(p.FilterValues) > 0 {
			return p.FilterValues[0]
		}
	}
	return ""
}

func TestRunSearch_SavesSnapshotAndListings(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		return modernSearchBody, nil
	}}
	c, repos := newTestCrawler(t, stub)
	station := seedStation(t, repos, "강남", 1)
	ctx := context.Background()

	entry, err := c.RunSearch(ctx)
	if err != nil {
		t.Fatalf("RunSearch() error = %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Fatalf("Status = %s, want %s", entry.Status, models.JobStatusSuccess)
	}
	if entry.TotalRequests != 1 || entry.SuccessfulRequests != 1 || entry.FailedRequests != 0 {
		t.Errorf("counters = %d/%d/%d, want 1/1/0",
			entry.TotalRequests, entry.SuccessfulRequests, entry.FailedRequests)
	}

	snap, err := repos.SearchSnapshot.LatestByStation(ctx, station.ID)
	if err != nil {
		t.Fatalf("LatestByStation() error = %v", err)
	}
	if snap == nil {
		t.Fatal("no snapshot written")
	}
	if snap.TotalListings != 2 || snap.AvailableCount != 2 {
		t.Errorf("TotalListings/AvailableCount = %d/%d, want 2/2", snap.TotalListings, snap.AvailableCount)
	}
	if snap.AvgPrice == nil || *snap.AvgPrice != (119824+85000)/2.0 {
		t.Errorf("AvgPrice = %v, want %v", snap.AvgPrice, (119824+85000)/2.0)
	}
	if snap.MinPrice == nil || *snap.MinPrice != 85000 {
		t.Errorf("MinPrice = %v, want 85000", snap.MinPrice)
	}
	if snap.MaxPrice == nil || *snap.MaxPrice != 119824 {
		t.Errorf("MaxPrice = %v, want 119824", snap.MaxPrice)
	}
	if snap.MedianPrice == nil || *snap.MedianPrice != (119824+85000)/2.0 {
		t.Errorf("MedianPrice = %v", snap.MedianPrice)
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(snap.ContentDigest) {
		t.Errorf("ContentDigest = %q, want 16 hex chars", snap.ContentDigest)
	}
	wantCheckin := time.Now().AddDate(0, 0, 1).Format(dateLayout)
	if snap.CheckinDate != wantCheckin {
		t.Errorf("CheckinDate = %s, want %s", snap.CheckinDate, wantCheckin)
	}

	listing, err := repos.Listing.GetByUpstreamID(ctx, "50620715")
	if err != nil {
		t.Fatalf("GetByUpstreamID() error = %v", err)
	}
	if listing == nil {
		t.Fatal("listing not inserted")
	}
	if listing.NearestStationID == nil || *listing.NearestStationID != station.ID {
		t.Errorf("NearestStationID = %v, want %s", listing.NearestStationID, station.ID)
	}
	if listing.BasePrice == nil || *listing.BasePrice != 119824 {
		t.Errorf("BasePrice = %v, want 119824", listing.BasePrice)
	}

	count, err := repos.Listing.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("listing count = %d, want 2", count)
	}
}

func TestRunSearch_PagesUntilCursorExhausted(t *testing.T) {
	pages := []string{
		searchPage("111", "1페이지 숙소", "cursor-2"),
		searchPage("222", "2페이지 숙소", ""),
	}
	var served int
	stub := &stubClient{}
	stub.handler = func(op string, variables any) (string, error) {
		body := pages[served%len(pages)]
		served++
		return body, nil
	}
	c, repos := newTestCrawler(t, stub)
	station := seedStation(t, repos, "강남", 1)
	ctx := context.Background()

	if _, err := c.RunSearch(ctx); err != nil {
		t.Fatalf("RunSearch() error = %v", err)
	}
	if stub.callCount() != 2 {
		t.Fatalf("stub calls = %d, want 2", stub.callCount())
	}

	if got := requestCursor(t, stub.calls[0].variables); got != "" {
		t.Errorf("first page cursor = %q, want empty", got)
	}
	if got := requestCursor(t, stub.calls[1].variables); got != "cursor-2" {
		t.Errorf("second page cursor = %q, want cursor-2", got)
	}

	snap, err := repos.SearchSnapshot.LatestByStation(ctx, station.ID)
	if err != nil {
		t.Fatalf("LatestByStation() error = %v", err)
	}
	if snap == nil {
		t.Fatal("no snapshot written")
	}
	if snap.TotalListings != 2 {
		t.Errorf("TotalListings = %d, want 2 (both pages)", snap.TotalListings)
	}
}

func TestRunSearch_StopsAtMaxPages(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		return searchPage("333", "무한 커서 숙소", "cursor-again"), nil
	}}
	c, repos := newTestCrawler(t, stub)
	seedStation(t, repos, "강남", 1)
	c.cfg.SearchMaxPages = 2

	if _, err := c.RunSearch(context.Background()); err != nil {
		t.Fatalf("RunSearch() error = %v", err)
	}
	if stub.callCount() != 2 {
		t.Errorf("stub calls = %d, want 2 (max pages)", stub.callCount())
	}
}

func TestRunSearch_EmptyPageStopsPaging(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		return `{"data":{"presentation":{"staysSearch":{"results":{"searchResults":[],"paginationInfo":{"nextPageCursor":"more"}}}}}}`, nil
	}}
	c, repos := newTestCrawler(t, stub)
	station := seedStation(t, repos, "강남", 1)
	ctx := context.Background()

	entry, err := c.RunSearch(ctx)
	if err != nil {
		t.Fatalf("RunSearch() error = %v", err)
	}
	if stub.callCount() != 1 {
		t.Errorf("stub calls = %d, want 1", stub.callCount())
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Status = %s, want success", entry.Status)
	}

	snap, err := repos.SearchSnapshot.LatestByStation(ctx, station.ID)
	if err != nil {
		t.Fatalf("LatestByStation() error = %v", err)
	}
	if snap == nil {
		t.Fatal("no snapshot written for empty result set")
	}
	if snap.TotalListings != 0 {
		t.Errorf("TotalListings = %d, want 0", snap.TotalListings)
	}
	if snap.AvgPrice != nil {
		t.Errorf("AvgPrice = %v, want nil when no prices", snap.AvgPrice)
	}
}

func TestRunSearch_UnitFailureMakesPartial(t *testing.T) {
	var calls int
	stub := &stubClient{}
	stub.handler = func(op string, variables any) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("blocked upstream: rate_limit (status 429)")
		}
		return searchPage("444", "정상 숙소", ""), nil
	}
	c, repos := newTestCrawler(t, stub)
	seedStation(t, repos, "강남", 1)
	seedStation(t, repos, "역삼", 1)

	entry, err := c.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("RunSearch() error = %v", err)
	}
	if entry.Status != models.JobStatusPartial {
		t.Errorf("Status = %s, want %s", entry.Status, models.JobStatusPartial)
	}
	if entry.SuccessfulRequests != 1 || entry.FailedRequests != 1 {
		t.Errorf("counters = %d/%d, want 1/1", entry.SuccessfulRequests, entry.FailedRequests)
	}
}

func TestRunSearch_RefreshesExistingListing(t *testing.T) {
	stub := &stubClient{handler: func(op string, variables any) (string, error) {
		return searchPage("50620715", "이름이 바뀐 숙소", ""), nil
	}}
	c, repos := newTestCrawler(t, stub)
	station := seedStation(t, repos, "강남", 1)
	seeded := seedListing(t, repos, station.ID, "50620715")
	ctx := context.Background()

	later := time.Now().UTC().Add(48 * time.Hour)
	c.now = func() time.Time { return later }

	if _, err := c.RunSearch(ctx); err != nil {
		t.Fatalf("RunSearch() error = %v", err)
	}

	count, err := repos.Listing.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("listing count = %d, want 1 (upsert, not insert)", count)
	}

	got, err := repos.Listing.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.BasePrice == nil || *got.BasePrice != 100000 {
		t.Errorf("BasePrice = %v, want 100000", got.BasePrice)
	}
	if got.LastSeen.Unix() != later.Unix() {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, later)
	}
	if got.FirstSeen.Unix() == later.Unix() {
		t.Error("FirstSeen was overwritten")
	}
	if got.Name != "테스트 숙소" {
		t.Errorf("Name = %s, want unchanged", got.Name)
	}
}

func ptr[T any](v T) *T {
	return &v
}
