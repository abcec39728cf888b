package airbnb

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
)

// Digest computes a 16-hex structural digest of a decoded response.
// Search snapshots store it to spot unchanged result sets; map key
// order does not affect the value.
func Digest(v any) string {
	h, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", h)
}
