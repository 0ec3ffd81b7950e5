package apdu_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amarbel-llc/pivy/apdu"
)

func TestSelectPIV(t *testing.T) {
	cmd := apdu.Select(apdu.PIVAID)
	want := []byte{0x00, 0xA4, 0x04, 0x00, 0x0B, 0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00}
	require.Equal(t, want, cmd.Bytes())
}

func TestVerifyPIN(t *testing.T) {
	cmd := apdu.VerifyPIN("123456")
	want := []byte{0x00, 0x20, 0x00, 0x80, 0x08, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0xFF, 0xFF}
	require.Equal(t, want, cmd.Bytes())
}

func TestVerifyPINTruncatesLongerPIN(t *testing.T) {
	cmd := apdu.VerifyPIN("123456789")
	want := []byte{0x00, 0x20, 0x00, 0x80, 0x08, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38}
	require.Equal(t, want, cmd.Bytes())
}

func TestGetDataCHUID(t *testing.T) {
	cmd := apdu.GetData(0x5FC102)
	want := []byte{0x00, 0xCB, 0x3F, 0xFF, 0x05, 0x5C, 0x03, 0x5F, 0xC1, 0x02}
	require.Equal(t, want, cmd.Bytes())
}

func TestGeneralAuthenticate(t *testing.T) {
	cmd := apdu.GeneralAuthenticate(0x11, 0x9A, []byte{0xDE, 0xAD})
	want := []byte{0x00, 0x87, 0x11, 0x9A, 0x02, 0xDE, 0xAD}
	require.Equal(t, want, cmd.Bytes())
}

func TestGetResponseLe256EncodesAsZero(t *testing.T) {
	cmd := apdu.GetResponse(256)
	want := []byte{0x00, 0xC0, 0x00, 0x00, 0x00}
	require.Equal(t, want, cmd.Bytes())
}

func TestGetResponseSmallLe(t *testing.T) {
	cmd := apdu.GetResponse(0x10)
	want := []byte{0x00, 0xC0, 0x00, 0x00, 0x10}
	require.Equal(t, want, cmd.Bytes())
}

func TestCommandWithNoDataAndNoLe(t *testing.T) {
	cmd := apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00}
	require.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00}, cmd.Bytes())
}

func TestStatusWordSuccess(t *testing.T) {
	sw := apdu.NewStatusWord(0x90, 0x00)
	require.True(t, sw.IsSuccess())
	require.False(t, sw.HasMoreData())
}

func TestStatusWordHasMoreData(t *testing.T) {
	sw := apdu.NewStatusWord(0x61, 0x10)
	require.True(t, sw.HasMoreData())
	require.Equal(t, 0x10, sw.RemainingBytes())
	require.False(t, sw.IsSuccess())
}

func TestStatusWordPINIncorrect(t *testing.T) {
	sw := apdu.NewStatusWord(0x63, 0xC2)
	require.False(t, sw.IsSuccess())
	require.True(t, sw.IsPINIncorrect())
	require.Equal(t, 2, sw.PINRetriesRemaining())
}

func TestStatusWordPINBlocked(t *testing.T) {
	sw := apdu.NewStatusWord(0x69, 0x83)
	require.True(t, sw.IsPINBlocked())
}

func TestStatusWordAuthRequired(t *testing.T) {
	sw := apdu.NewStatusWord(0x69, 0x82)
	require.True(t, sw.IsAuthRequired())
}

func TestStatusWordUint16(t *testing.T) {
	sw := apdu.NewStatusWord(0x90, 0x00)
	require.Equal(t, uint16(0x9000), sw.Uint16())
}

func TestStatusWordString(t *testing.T) {
	sw := apdu.NewStatusWord(0x69, 0x82)
	require.Equal(t, "0x6982", sw.String())
}
