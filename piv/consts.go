package piv

import "github.com/amarbel-llc/pivy/apdu"

// Standard PIV slot IDs.
const (
	SlotPIVAuthentication = 0x9A
	SlotDigitalSignature  = 0x9C
	SlotKeyManagement     = 0x9D
	SlotCardAuthentication = 0x9E
	retiredSlotFirst      = 0x82
	retiredSlotLast       = 0x95
)

// PIV data object tag for the CHUID, and the tag within it that holds the
// 16-byte GUID.
const (
	tagCHUID    = 0x5FC102
	tagCHUIDGUID = 0x34
)

// Tags inside a slot's 0x53-wrapped response: 0x70 is the certificate
// itself, 0x71 is CertInfo, 0xFE is the error-detection code. Only 0x70 is
// meaningful to this agent; the others are skipped while parsing.
const (
	tagCertWrapper = 0x53
	tagCert        = 0x70
	tagCertInfo    = 0x71
	tagErrorDetect = 0xFE
)

// standardSlots lists the fixed-purpose PIV slots probed before the
// retired key management range.
var standardSlots = []byte{SlotPIVAuthentication, SlotDigitalSignature, SlotKeyManagement, SlotCardAuthentication}

// slotToCertTag maps a PIV slot ID to the data object tag holding its
// certificate. Retired key management slots 0x82..0x95 map to
// 0x5FC10D + (slot - 0x82).
func slotToCertTag(slot byte) (uint32, bool) {
	switch slot {
	case SlotPIVAuthentication:
		return 0x5FC105, true
	case SlotDigitalSignature:
		return 0x5FC10A, true
	case SlotKeyManagement:
		return 0x5FC10B, true
	case SlotCardAuthentication:
		return 0x5FC101, true
	}
	if slot >= retiredSlotFirst && slot <= retiredSlotLast {
		return 0x5FC10D + uint32(slot-retiredSlotFirst), true
	}
	return 0, false
}

// retiredSlots returns the 20 retired key management slot IDs in order.
func retiredSlots() []byte {
	slots := make([]byte, 0, retiredSlotLast-retiredSlotFirst+1)
	for s := byte(retiredSlotFirst); ; s++ {
		slots = append(slots, s)
		if s == retiredSlotLast {
			break
		}
	}
	return slots
}

var pivAID = apdu.PIVAID
