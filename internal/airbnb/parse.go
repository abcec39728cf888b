package airbnb

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
)

var nonDigits = regexp.MustCompile(`[^\d]`)

// ParsePrice reduces a localized price string to its numeric value:
// "₩119,824" parses to 119824. Returns false when the string holds no
// digits.
func ParsePrice(s string) (float64, bool) {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseRating converts a localized rating string ("4.89") to a float.
func ParseRating(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecodeGlobalID extracts the trailing id of a base64 global id:
// "RGVtYW5kU3RheUxpc3Rpbmc6MTIzNDU2Nzg5MA==" decodes to
// "DemandStayListing:1234567890" and yields "1234567890". A decoded
// value without a colon is returned whole; undecodable input yields "".
func DecodeGlobalID(encoded string) string {
	if encoded == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	s := string(decoded)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}
