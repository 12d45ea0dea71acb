// Package docref validates the content-addressed document references
// (claim summaries, responses, decisions, rulings, credentials) attached to
// arbitration records. A valid reference is the textual form of an IPFS CID:
// exactly 46 characters (CIDv0, "Qm...") or 49 characters (base32 CIDv1),
// plain ASCII with no whitespace. URL-shaped references are rejected.
package docref

import (
	"errors"
	"fmt"
)

const (
	lenCIDv0 = 46
	lenCIDv1 = 49
)

// ErrInvalid signals a malformed document reference.
var ErrInvalid = errors.New("docref: invalid document reference")

// Validate checks ref against the canonical content-addressed shape.
func Validate(ref string) error {
	if len(ref) != lenCIDv0 && len(ref) != lenCIDv1 {
		return fmt.Errorf("%w: length %d, want %d or %d", ErrInvalid, len(ref), lenCIDv0, lenCIDv1)
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return fmt.Errorf("%w: character %q at %d", ErrInvalid, c, i)
		}
	}
	return nil
}
