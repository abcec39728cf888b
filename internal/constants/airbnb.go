package constants

// GraphQL operation names used against the upstream API.
const (
	// OpStaysSearch is the paged map/area search operation.
	OpStaysSearch = "StaysSearch"
	// OpPdpAvailabilityCalendar returns per-day availability for a listing.
	OpPdpAvailabilityCalendar = "PdpAvailabilityCalendar"
	// OpStaysPdpSections returns the listing detail page sections.
	OpStaysPdpSections = "StaysPdpSections"
)

// RequiredOperations are the persisted-query hashes the extractor must
// discover before crawl jobs can run.
var RequiredOperations = []string{
	OpStaysSearch,
	OpPdpAvailabilityCalendar,
	OpStaysPdpSections,
}

// Upstream request parameters. The crawler always presents itself as a
// Korean-locale web client.
const (
	// APIPathPrefix is the URL prefix of the persisted-query endpoint.
	APIPathPrefix = "/api/v3/"
	// Locale is sent as both a query parameter and the X-Airbnb-Locale header.
	Locale = "ko"
	// Currency is sent as both a query parameter and the X-Airbnb-Currency header.
	Currency = "KRW"
	// SearchLandingPath is the Seoul search page, used as the Referer and
	// as the extractor's entry point.
	SearchLandingPath = "/s/Seoul/homes"
	// DefaultGuests is the guest count presented in search and detail
	// requests.
	DefaultGuests = 2
)

// UserAgents is the rotation pool for outbound requests. Entries are
// current-ish desktop browsers across Windows, macOS and Linux.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

// RoomType values normalized from upstream room type categories and
// Korean-language description items.
const (
	RoomTypeEntireHome  = "entire_home"
	RoomTypePrivateRoom = "private_room"
	RoomTypeSharedRoom  = "shared_room"
	RoomTypeHotel       = "hotel"
	RoomTypeUnknown     = "unknown"
)

// RoomTypes lists the known room type values in display order.
var RoomTypes = []string{
	RoomTypeEntireHome,
	RoomTypePrivateRoom,
	RoomTypeSharedRoom,
	RoomTypeHotel,
}
