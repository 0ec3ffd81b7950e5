package guid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amarbel-llc/pivy/guid"
)

func TestRoundTrip(t *testing.T) {
	const hexStr = "A1B2C3D4E5F60718293A4B5C6D7E8F90"
	g, err := guid.FromHex(hexStr)
	require.NoError(t, err)
	require.Equal(t, hexStr, g.ToHex())

	g2, err := guid.FromHex(g.ToHex())
	require.NoError(t, err)
	require.Equal(t, g, g2)
}

func TestFromHexCaseInsensitive(t *testing.T) {
	upper, err := guid.FromHex("AABBCCDDEEFF00112233445566778899")
	require.NoError(t, err)
	lower, err := guid.FromHex("aabbccddeeff00112233445566778899")
	require.NoError(t, err)
	require.Equal(t, upper, lower)
}

func TestFromHexWrongLength(t *testing.T) {
	_, err := guid.FromHex("AABB")
	require.Error(t, err)
}

func TestFromHexInvalid(t *testing.T) {
	_, err := guid.FromHex("not-hex-at-all-zz")
	require.Error(t, err)
}

func TestFromBytesWrongLength(t *testing.T) {
	_, err := guid.FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestShortID(t *testing.T) {
	g, err := guid.FromBytes([]byte{0xAB, 0xCD, 0xEF, 0x01, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13})
	require.NoError(t, err)
	require.Equal(t, "ABCDEF01", g.ShortID())
}

func TestMatches(t *testing.T) {
	g, err := guid.FromBytes([]byte{0xAB, 0xCD, 0xEF, 0x01, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13})
	require.NoError(t, err)
	require.True(t, g.Matches(g.ToHex()))
	require.True(t, g.Matches(g.ShortID()))
	require.True(t, g.Matches("abcdef01"))
	require.False(t, g.Matches("deadbeef"))
}

func TestValueEquality(t *testing.T) {
	a, err := guid.FromBytes(make([]byte, 16))
	require.NoError(t, err)
	b, err := guid.FromBytes(make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, a, b)

	set := map[guid.GUID]bool{a: true}
	require.True(t, set[b])
}
