package piv

import (
	"fmt"

	"github.com/gravitational/trace"

	"github.com/amarbel-llc/pivy/apdu"
)

// Kind is the closed set of error categories a caller can dispatch on,
// per spec.md §7. The errors this package builds itself are
// trace-wrapped around one of these, so callers can recover the kind
// with errors.As while humans still get trace's formatted message and
// (with %+v) a captured stack. Errors from the Transport are returned
// as they come.
type Kind int

const (
	// KindPCSC is a transport-layer failure from the reader stack.
	KindPCSC Kind = iota
	// KindTLV is malformed BER-TLV encountered while parsing.
	KindTLV
	// KindInvalidGUID means GUID input was not 16 bytes of hex.
	KindInvalidGUID
	// KindAPDU is a card status word not covered by a more specific kind.
	KindAPDU
	// KindCardNotFound means no reader holds the requested GUID.
	KindCardNotFound
	// KindPINRequired means a slot needing a PIN was requested with an
	// empty PIN cell.
	KindPINRequired
	// KindNoPIN is a synonym used where the spec distinguishes "no PIN
	// provided" from "PIN required for this slot"; both map to the same
	// agent-visible failure.
	KindNoPIN
	// KindPINIncorrect means the card reported 63Cx.
	KindPINIncorrect
	// KindPINBlocked means the card reported 6983.
	KindPINBlocked
	// KindSlotEmpty means no certificate was found in the requested slot.
	KindSlotEmpty
	// KindUnsupportedAlgorithm means the certificate parsed but its key
	// type or curve is not one this agent signs with.
	KindUnsupportedAlgorithm
	// KindCrypto is a failure from a cryptographic primitive, e.g. a
	// malformed DER signature returned by the card.
	KindCrypto
	// KindIO is a socket or filesystem failure.
	KindIO
	// KindOther is a catch-all carrying only a message.
	KindOther
)

// Error carries a Kind plus any extra context a caller needs (a status
// word, a slot ID, a retry count).
type Error struct {
	Kind    Kind
	Message string
	SW      apdu.StatusWord
	Slot    byte
	Retries int
}

func (e *Error) Error() string {
	return e.Message
}

// Is supports errors.Is(err, ErrPINRequired) etc. by comparing Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel errors for use with errors.Is.
var (
	ErrCardNotFound         = &Error{Kind: KindCardNotFound, Message: "card not found"}
	ErrPINRequired          = &Error{Kind: KindPINRequired, Message: "PIN required"}
	ErrNoPIN                = &Error{Kind: KindNoPIN, Message: "no PIN provided"}
	ErrPINBlocked           = &Error{Kind: KindPINBlocked, Message: "PIN blocked"}
	ErrUnsupportedAlgorithm = &Error{Kind: KindUnsupportedAlgorithm, Message: "unsupported algorithm"}
)

func tlvErr(format string, args ...any) error {
	e := &Error{Kind: KindTLV, Message: fmt.Sprintf("piv: tlv: "+format, args...)}
	return trace.Wrap(e)
}

func apduErr(sw apdu.StatusWord) error {
	e := &Error{Kind: KindAPDU, Message: fmt.Sprintf("piv: card returned status %s", sw), SW: sw}
	return trace.Wrap(e)
}

func slotEmptyErr(slot byte) error {
	e := &Error{Kind: KindSlotEmpty, Message: fmt.Sprintf("piv: slot %#02x not found or empty", slot), Slot: slot}
	return trace.Wrap(e)
}

func pinIncorrectErr(retries int) error {
	e := &Error{Kind: KindPINIncorrect, Message: fmt.Sprintf("piv: PIN incorrect, %d retries remaining", retries), Retries: retries}
	return trace.Wrap(e)
}

func pinBlockedErr(sw apdu.StatusWord) error {
	e := &Error{Kind: KindPINBlocked, Message: "piv: PIN blocked, card must be unblocked with PUK", SW: sw}
	return trace.Wrap(e)
}

func otherErr(format string, args ...any) error {
	e := &Error{Kind: KindOther, Message: fmt.Sprintf("piv: "+format, args...)}
	return trace.Wrap(e)
}
