package piv

import (
	"errors"

	"golang.org/x/crypto/ssh"

	"github.com/amarbel-llc/pivy/apdu"
	"github.com/amarbel-llc/pivy/certdecoder"
	"github.com/amarbel-llc/pivy/piv/algorithm"
	"github.com/amarbel-llc/pivy/tlv"
)

// SlotRecord is one occupied PIV slot: its certificate and the public key
// and algorithm decoded from it.
type SlotRecord struct {
	Slot      byte
	Algorithm algorithm.Algorithm
	CertDER   []byte
	PublicKey ssh.PublicKey
}

// ReadSlot fetches and decodes the certificate in slot. It returns a
// *piv.Error wrapping KindSlotEmpty if the slot has no cert-tag mapping,
// holds no data, or its cert TLV has no 0x70 member.
func (s *Session) ReadSlot(slot byte) (*SlotRecord, error) {
	tag, ok := slotToCertTag(slot)
	if !ok {
		return nil, slotEmptyErr(slot)
	}

	data, sw, err := s.Transmit(apdu.GetData(tag))
	if err != nil {
		return nil, err
	}
	if !sw.IsSuccess() {
		// Certificates are public data objects; GET DATA never gates on
		// PIN, so any non-success status (including 6982) just means the
		// slot has nothing in it.
		return nil, slotEmptyErr(slot)
	}

	certDER, err := extractCert(data)
	if err != nil {
		return nil, err
	}
	if certDER == nil {
		return nil, slotEmptyErr(slot)
	}

	alg, pub, err := certdecoder.Decode(certDER)
	if err != nil {
		return nil, otherErr("slot %#02x: %v", slot, err)
	}

	return &SlotRecord{
		Slot:      slot,
		Algorithm: alg,
		CertDER:   certDER,
		PublicKey: pub,
	}, nil
}

// extractCert unwraps the 0x53{0x70=cert, 0x71?, 0xFE?} response and
// returns the 0x70 member. It returns (nil, nil) if the wrapper is empty
// or has no cert member, which callers treat as an empty slot rather than
// a malformed response.
func extractCert(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := tlv.NewReader(data)
	outerTag, err := r.ReadTag()
	if err != nil {
		return nil, tlvErr("reading cert wrapper tag: %v", err)
	}
	if outerTag != tagCertWrapper {
		return nil, tlvErr("expected cert wrapper tag %#x, got %#x", tagCertWrapper, outerTag)
	}
	wrapped, err := r.ReadValue()
	if err != nil {
		return nil, tlvErr("reading cert wrapper value: %v", err)
	}

	inner := tlv.NewReader(wrapped)
	for inner.HasRemaining() {
		tag, err := inner.ReadTag()
		if err != nil {
			return nil, tlvErr("reading cert member tag: %v", err)
		}
		value, err := inner.ReadValue()
		if err != nil {
			return nil, tlvErr("reading cert member value: %v", err)
		}
		if tag == tagCert {
			return value, nil
		}
	}
	return nil, nil
}

// ReadAllSlots reads every standard and retired slot, returning the
// occupied slots in probe order: the four standard slots first, then
// the 20 retired slots from 0x82 to 0x95. Any per-slot failure (empty,
// unparseable cert, unsupported key type, a card error) drops just that
// slot rather than aborting the whole read.
func (s *Session) ReadAllSlots() ([]*SlotRecord, error) {
	var records []*SlotRecord

	for _, slot := range allSlotsInOrder() {
		rec, err := s.ReadSlot(slot)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func allSlotsInOrder() []byte {
	slots := make([]byte, 0, len(standardSlots)+20)
	slots = append(slots, standardSlots...)
	slots = append(slots, retiredSlots()...)
	return slots
}

func isSlotEmpty(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindSlotEmpty
	}
	return false
}
