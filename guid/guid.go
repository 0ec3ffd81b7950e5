// Package guid implements the 16-byte card identifier embedded in a PIV
// card's CHUID object.
package guid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Len is the fixed byte length of a PIV GUID.
const Len = 16

// GUID is an immutable 16-byte card identifier.
type GUID [Len]byte

// FromHex parses a hex string (case-insensitive) into a GUID. The string
// must decode to exactly 16 bytes.
func FromHex(s string) (GUID, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return GUID{}, fmt.Errorf("guid: invalid hex %q: %w", s, err)
	}
	return FromBytes(b)
}

// FromBytes builds a GUID from a 16-byte buffer.
func FromBytes(b []byte) (GUID, error) {
	if len(b) != Len {
		return GUID{}, fmt.Errorf("guid: expected %d bytes, got %d", Len, len(b))
	}
	var g GUID
	copy(g[:], b)
	return g, nil
}

// Bytes returns the 16 raw bytes.
func (g GUID) Bytes() []byte {
	return g[:]
}

// ToHex returns the uppercase hex encoding of the full GUID.
func (g GUID) ToHex() string {
	return strings.ToUpper(hex.EncodeToString(g[:]))
}

// ShortID returns the uppercase hex encoding of the first 4 bytes.
func (g GUID) ShortID() string {
	return strings.ToUpper(hex.EncodeToString(g[:4]))
}

// Matches reports whether s equals either the full hex GUID or its short ID,
// case-insensitively.
func (g GUID) Matches(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s == g.ToHex() || s == g.ShortID()
}

// String implements fmt.Stringer, returning the short form.
func (g GUID) String() string {
	return g.ShortID()
}
