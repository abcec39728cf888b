package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyeonbin/stayscan/internal/constants"
)

const (
	testKey          = "f1e2d3c4b5a6978897a6b5c4d3e2f1a0"
	testSearchHash   = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testCalendarHash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testPdpHash      = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

// fakeSite exercises every fast-path stage: landing page carries the
// key, the first bundle carries the search hash and a lazy calendar
// bundle reference, the listing page's bundle carries the PDP hash,
// and the lazy bundle carries the calendar hash.
func fakeSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc(constants.SearchLandingPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head>
			<script>window.__BOOT__ = {"api_config":{"key":"%s"}};</script>
			<script src="/bundles/main.js"></script>
		</head><body><a href="/rooms/777?adults=2">room</a></body></html>`, testKey)
	})
	mux.HandleFunc("/bundles/main.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, `register({name:'%s',operationId:'%s'});asyncRequire("RoomCalendar.abc123.js")`,
			constants.OpStaysSearch, testSearchHash)
	})
	mux.HandleFunc("/rooms/777", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><script src="/bundles/pdp.js"></script></head><body></body></html>`)
	})
	mux.HandleFunc("/bundles/pdp.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, `{"%s":{"persistedQuery":{"version":1,"sha256Hash":"%s"}}}`,
			constants.OpStaysPdpSections, testPdpHash)
	})
	mux.HandleFunc("/bundles/RoomCalendar.abc123.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, `{"sha256Hash":"%s","operationName":"%s"}`,
			testCalendarHash, constants.OpPdpAvailabilityCalendar)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestExtractor_FastPath(t *testing.T) {
	server := fakeSite(t)
	e := NewExtractor(server.URL, 5*time.Second, nil)

	creds, err := e.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if creds.APIKey != testKey {
		t.Errorf("APIKey = %s, want %s", creds.APIKey, testKey)
	}
	want := map[string]string{
		constants.OpStaysSearch:             testSearchHash,
		constants.OpPdpAvailabilityCalendar: testCalendarHash,
		constants.OpStaysPdpSections:        testPdpHash,
	}
	for op, h := range want {
		if creds.Hashes[op] != h {
			t.Errorf("Hashes[%s] = %s, want %s", op, creds.Hashes[op], h)
		}
	}
	if !creds.Complete() {
		t.Error("Complete() = false, want true")
	}
}

func TestExtractor_NoAPIKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>nothing to see</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	e := NewExtractor(server.URL, 5*time.Second, nil)
	creds, err := e.Extract(context.Background())
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("Extract() error = %v, want ErrNoAPIKey", err)
	}
	if creds == nil {
		t.Fatal("Extract() creds = nil, want partial result")
	}
	if creds.APIKey != "" {
		t.Errorf("APIKey = %s, want empty", creds.APIKey)
	}
}

func TestExtractor_ListingURL(t *testing.T) {
	e := NewExtractor("https://www.airbnb.co.kr", time.Second, nil)

	tests := []struct {
		name    string
		landing string
		want    string
	}{
		{
			"rooms link",
			`<a href="/rooms/50620715?check_in=2026-03-08">x</a>`,
			"https://www.airbnb.co.kr/rooms/50620715",
		},
		{
			"base64 token",
			`{"id":"RGVtYW5kU3RheUxpc3Rpbmc6MTIzNDU2Nzg5MA=="}`,
			"https://www.airbnb.co.kr/rooms/1234567890",
		},
		{
			"property id",
			`{"propertyId":"424242"}`,
			"https://www.airbnb.co.kr/rooms/424242",
		},
		{
			"fallback",
			`<html>no listing references at all</html>`,
			"https://www.airbnb.co.kr" + constants.FallbackListingPath,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.listingURL(tt.landing); got != tt.want {
				t.Errorf("listingURL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeStayToken(t *testing.T) {
	// base64("DemandStayListing:1234567890")
	if got := decodeStayToken("RGVtYW5kU3RheUxpc3Rpbmc6MTIzNDU2Nzg5MA=="); got != "1234567890" {
		t.Errorf("decodeStayToken() = %q, want 1234567890", got)
	}
	if got := decodeStayToken("%%%not-base64%%%"); got != "" {
		t.Errorf("decodeStayToken(garbage) = %q, want empty", got)
	}
	if got := decodeStayToken("bm9jb2xvbg=="); got != "" { // "nocolon"
		t.Errorf("decodeStayToken(no colon) = %q, want empty", got)
	}
}

func TestScanText_HashForms(t *testing.T) {
	e := NewExtractor("https://example.invalid", time.Second, nil)

	tests := []struct {
		name string
		text string
	}{
		{
			"webpack registration",
			fmt.Sprintf(`e.exports={name:'%s',type:'query',operationId:'%s'}`,
				constants.OpStaysSearch, testSearchHash),
		},
		{
			"persisted query forward",
			fmt.Sprintf(`"%s":{"persistedQuery":{"version":1,"sha256Hash":"%s"}}`,
				constants.OpStaysSearch, testSearchHash),
		},
		{
			"persisted query reverse",
			fmt.Sprintf(`{"sha256Hash":"%s"},"operationName":"%s"`,
				testSearchHash, constants.OpStaysSearch),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &Credentials{Hashes: map[string]string{}}
			e.scanText(creds, tt.text)
			if creds.Hashes[constants.OpStaysSearch] != testSearchHash {
				t.Errorf("hash = %q, want %s", creds.Hashes[constants.OpStaysSearch], testSearchHash)
			}
		})
	}
}

func TestScanText_WindowBound(t *testing.T) {
	e := NewExtractor("https://example.invalid", time.Second, nil)

	// The operation name and hash sit farther apart than the proximity
	// window allows; the pair must not be associated.
	filler := make([]byte, constants.HashProximityWindow+50)
	for i := range filler {
		filler[i] = 'x'
	}
	text := fmt.Sprintf(`"%s"%s"sha256Hash":"%s"`, constants.OpStaysSearch, filler, testSearchHash)

	creds := &Credentials{Hashes: map[string]string{}}
	e.scanText(creds, text)
	if h := creds.Hashes[constants.OpStaysSearch]; h != "" {
		t.Errorf("hash = %q, want empty beyond the window", h)
	}
}
