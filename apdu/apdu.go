// Package apdu implements ISO 7816-4 command APDU framing and status word
// classification, plus constructors for the canonical PIV command APDUs
// this agent needs (SELECT, GET DATA, VERIFY, GENERAL AUTHENTICATE).
package apdu

import "github.com/amarbel-llc/pivy/tlv"

// Instruction bytes used by this agent's PIV command set.
const (
	InsSelect              = 0xA4
	InsGetData             = 0xCB
	InsVerify              = 0x20
	InsGeneralAuthenticate = 0x87
	InsGetResponse         = 0xC0
)

// PIVAID is the NIST SP 800-73-4 PIV application identifier.
var PIVAID = []byte{0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00}

// GENERAL AUTHENTICATE dynamic authentication template tags.
const (
	GATagWitness   = 0x80
	GATagChallenge = 0x81
	GATagResponse  = 0x82
)

// Command is a short-form ISO 7816-4 command APDU.
type Command struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	// Le is the expected response length. A nil Le omits the Le byte
	// entirely; a value of 256 serializes to 0x00.
	Le *int
}

func le(n int) *int { return &n }

// Select builds the SELECT command APDU that activates an applet by AID.
func Select(aid []byte) Command {
	return Command{CLA: 0x00, INS: InsSelect, P1: 0x04, P2: 0x00, Data: aid}
}

// GetData builds the GET DATA command APDU that reads a PIV data object,
// wrapping the tag in a 0x5C TLV as PIV requires.
func GetData(tag uint32) Command {
	w := tlv.NewWriter()
	w.WriteTagValue(0x5C, tagBytes(tag))
	return Command{CLA: 0x00, INS: InsGetData, P1: 0x3F, P2: 0xFF, Data: w.Bytes()}
}

// VerifyPIN builds the VERIFY command APDU for the PIV PIN (P2=0x80). The
// PIN is truncated to 8 bytes if longer, then right-padded to 8 bytes with
// 0xFF.
func VerifyPIN(pin string) Command {
	raw := []byte(pin)
	if len(raw) > 8 {
		raw = raw[:8]
	}
	padded := [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	copy(padded[:], raw)
	return Command{CLA: 0x00, INS: InsVerify, P1: 0x00, P2: 0x80, Data: padded[:]}
}

// GeneralAuthenticate builds a GENERAL AUTHENTICATE command APDU for the
// given PIV algorithm byte and slot, carrying the already-framed dynamic
// authentication template as data.
func GeneralAuthenticate(alg, slot byte, data []byte) Command {
	return Command{CLA: 0x00, INS: InsGeneralAuthenticate, P1: alg, P2: slot, Data: data}
}

// GetResponse builds the GET RESPONSE command APDU used to retrieve a
// chained 61xx response, requesting up to n bytes.
func GetResponse(n int) Command {
	return Command{CLA: 0x00, INS: InsGetResponse, P1: 0x00, P2: 0x00, Le: le(n)}
}

// Bytes serializes the command to its short-form ISO 7816-4 wire encoding:
// header, Lc+data if data is present, and a trailing Le byte (256 encoded
// as 0x00) if Le is set.
func (c Command) Bytes() []byte {
	buf := make([]byte, 0, 5+len(c.Data)+1)
	buf = append(buf, c.CLA, c.INS, c.P1, c.P2)

	if len(c.Data) > 0 {
		buf = append(buf, byte(len(c.Data)))
		buf = append(buf, c.Data...)
	}

	if c.Le != nil {
		if *c.Le >= 256 {
			buf = append(buf, 0x00)
		} else {
			buf = append(buf, byte(*c.Le))
		}
	}

	return buf
}

// tagBytes encodes tag as its minimal big-endian byte representation, with
// leading zero bytes stripped (0 itself encodes as a single zero byte).
func tagBytes(tag uint32) []byte {
	if tag == 0 {
		return []byte{0}
	}
	b := []byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)}
	start := 0
	for start < 3 && b[start] == 0 {
		start++
	}
	return b[start:]
}

// StatusWord is the two trailing bytes of an APDU response.
type StatusWord struct {
	SW1, SW2 byte
}

// NewStatusWord builds a StatusWord from its two bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord{SW1: sw1, SW2: sw2}
}

// Uint16 returns the status word as a single big-endian 16-bit value.
func (sw StatusWord) Uint16() uint16 {
	return uint16(sw.SW1)<<8 | uint16(sw.SW2)
}

// IsSuccess reports SW=9000.
func (sw StatusWord) IsSuccess() bool {
	return sw.SW1 == 0x90 && sw.SW2 == 0x00
}

// HasMoreData reports SW1=61, meaning SW2 more response bytes are available
// via GET RESPONSE.
func (sw StatusWord) HasMoreData() bool {
	return sw.SW1 == 0x61
}

// RemainingBytes returns SW2 when HasMoreData is true.
func (sw StatusWord) RemainingBytes() int {
	return int(sw.SW2)
}

// IsPINIncorrect reports SW=63Cx (wrong PIV PIN).
func (sw StatusWord) IsPINIncorrect() bool {
	return sw.SW1 == 0x63 && sw.SW2&0xF0 == 0xC0
}

// PINRetriesRemaining returns the low nibble of SW2 when IsPINIncorrect is
// true.
func (sw StatusWord) PINRetriesRemaining() int {
	return int(sw.SW2 & 0x0F)
}

// IsPINBlocked reports SW=6983.
func (sw StatusWord) IsPINBlocked() bool {
	return sw.Uint16() == 0x6983
}

// IsAuthRequired reports SW=6982.
func (sw StatusWord) IsAuthRequired() bool {
	return sw.Uint16() == 0x6982
}

func (sw StatusWord) String() string {
	const hexDigits = "0123456789ABCDEF"
	b := [6]byte{'0', 'x', hexDigits[sw.SW1>>4], hexDigits[sw.SW1&0xF], hexDigits[sw.SW2>>4], hexDigits[sw.SW2&0xF]}
	return string(b[:])
}
