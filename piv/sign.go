package piv

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/amarbel-llc/pivy/apdu"
	"github.com/amarbel-llc/pivy/piv/algorithm"
	"github.com/amarbel-llc/pivy/tlv"
)

// SignFlags mirrors the RSA hash-selection bits from the SSH agent
// protocol (draft-miller-ssh-agent, section 4.5.1): a signer may ask for
// SHA-256 or SHA-512 digests instead of the legacy SHA-1 scheme. This
// agent never produces SHA-1 RSA signatures.
type SignFlags uint32

const (
	SignFlagRSASHA256 SignFlags = 1 << 1
	SignFlagRSASHA512 SignFlags = 1 << 2
)

// DER-encoded DigestInfo AlgorithmIdentifier prefixes for PKCS#1 v1.5.
var (
	rsaDigestPrefixSHA256 = []byte{
		0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01,
		0x05, 0x00, 0x04, 0x20,
	}
	rsaDigestPrefixSHA512 = []byte{
		0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03,
		0x05, 0x00, 0x04, 0x40,
	}
)

// Sign signs data with the key in slot and returns an SSH wire signature.
// flags selects the RSA digest algorithm for RSA keys; it is ignored for
// EC and Ed25519 keys. Callers are responsible for verifying the PIN
// beforehand when the slot requires one.
func (s *Session) Sign(slot *SlotRecord, data []byte, flags SignFlags) (*ssh.Signature, error) {
	prepared, err := prepareSignInput(slot.Algorithm, data, flags)
	if err != nil {
		return nil, err
	}

	raw, err := s.generalAuthenticate(slot.Slot, slot.Algorithm, prepared)
	if err != nil {
		return nil, err
	}

	return toSSHSignature(slot.Algorithm, raw, flags)
}

// prepareSignInput hashes data and, for RSA, wraps it in a PKCS#1 v1.5
// padded DigestInfo sized to the key. ECDSA keys get the bare digest;
// Ed25519 signs the raw message since the card hashes internally.
func prepareSignInput(alg algorithm.Algorithm, data []byte, flags SignFlags) ([]byte, error) {
	switch {
	case alg == algorithm.ECP256:
		h := sha256.Sum256(data)
		return h[:], nil

	case alg == algorithm.ECP384:
		h := sha512.Sum384(data)
		return h[:], nil

	case alg.IsRSA():
		var hash []byte
		var prefix []byte
		if flags&SignFlagRSASHA512 != 0 {
			h := sha512.Sum512(data)
			hash, prefix = h[:], rsaDigestPrefixSHA512
		} else {
			h := sha256.Sum256(data)
			hash, prefix = h[:], rsaDigestPrefixSHA256
		}
		return pkcs1v15Pad(hash, prefix, alg.RSAKeySize())

	case alg == algorithm.Ed25519:
		return data, nil

	default:
		return nil, trace.Wrap(ErrUnsupportedAlgorithm)
	}
}

// pkcs1v15Pad builds the PKCS#1 v1.5 signing block
// 0x00 0x01 [0xFF padding] 0x00 [digestPrefix][hash], sized to keySize.
func pkcs1v15Pad(hash, digestPrefix []byte, keySize int) ([]byte, error) {
	digestInfoLen := len(digestPrefix) + len(hash)
	if keySize < digestInfoLen+11 {
		return nil, otherErr("key too small to hold digest: %d < %d", keySize, digestInfoLen+11)
	}

	padded := make([]byte, keySize)
	padded[1] = 0x01
	padLen := keySize - digestInfoLen - 3
	for i := 2; i < 2+padLen; i++ {
		padded[i] = 0xFF
	}
	diStart := 3 + padLen
	copy(padded[diStart:], digestPrefix)
	copy(padded[diStart+len(digestPrefix):], hash)
	return padded, nil
}

// generalAuthenticate frames prepared as the challenge field of a
// GENERAL AUTHENTICATE command (outer tag 0x7C containing an empty
// response placeholder 0x82 and the challenge 0x81), sends it, and
// extracts the signature from the 0x82 field of the response.
func (s *Session) generalAuthenticate(slot byte, alg algorithm.Algorithm, prepared []byte) ([]byte, error) {
	inner := tlv.NewWriter()
	inner.WriteTagValue(apdu.GATagResponse, nil)
	inner.WriteTagValue(apdu.GATagChallenge, prepared)
	outer := tlv.NewWriter()
	outer.WriteTagValue(0x7C, inner.Bytes())

	cmd := apdu.GeneralAuthenticate(alg.Byte(), slot, outer.Bytes())

	resp, sw, err := s.Transmit(cmd)
	if err != nil {
		return nil, err
	}
	if sw.IsAuthRequired() {
		return nil, trace.Wrap(ErrPINRequired)
	}
	if sw.IsPINIncorrect() {
		return nil, pinIncorrectErr(sw.PINRetriesRemaining())
	}
	if !sw.IsSuccess() {
		return nil, apduErr(sw)
	}

	return parseGeneralAuthenticateResponse(resp)
}

// parseGeneralAuthenticateResponse extracts the signature from a GENERAL
// AUTHENTICATE response shaped 0x7C{0x82=signature}.
func parseGeneralAuthenticateResponse(resp []byte) ([]byte, error) {
	r := tlv.NewReader(resp)
	outerTag, err := r.ReadTag()
	if err != nil {
		return nil, tlvErr("reading GA response outer tag: %v", err)
	}
	if outerTag != 0x7C {
		return nil, tlvErr("expected GA response tag 0x7C, got %#x", outerTag)
	}
	inner, err := r.ReadValue()
	if err != nil {
		return nil, tlvErr("reading GA response value: %v", err)
	}

	innerReader := tlv.NewReader(inner)
	tag, err := innerReader.ReadTag()
	if err != nil {
		return nil, tlvErr("reading GA response inner tag: %v", err)
	}
	if tag != apdu.GATagResponse {
		return nil, tlvErr("expected GA response tag %#x, got %#x", apdu.GATagResponse, tag)
	}
	return innerReader.ReadValue()
}

// toSSHSignature converts raw card signature bytes into the SSH wire
// format for alg: ECDSA signatures are DER-encoded on the card and must
// be re-encoded as a pair of SSH mpints; RSA and Ed25519 signatures pass
// through unchanged.
func toSSHSignature(alg algorithm.Algorithm, raw []byte, flags SignFlags) (*ssh.Signature, error) {
	switch {
	case alg == algorithm.ECP256:
		blob, err := derECDSAToSSH(raw)
		if err != nil {
			return nil, err
		}
		return &ssh.Signature{Format: "ecdsa-sha2-nistp256", Blob: blob}, nil

	case alg == algorithm.ECP384:
		blob, err := derECDSAToSSH(raw)
		if err != nil {
			return nil, err
		}
		return &ssh.Signature{Format: "ecdsa-sha2-nistp384", Blob: blob}, nil

	case alg.IsRSA():
		format := "rsa-sha2-256"
		if flags&SignFlagRSASHA512 != 0 {
			format = "rsa-sha2-512"
		}
		return &ssh.Signature{Format: format, Blob: raw}, nil

	case alg == algorithm.Ed25519:
		return &ssh.Signature{Format: "ssh-ed25519", Blob: raw}, nil

	default:
		return nil, trace.Wrap(ErrUnsupportedAlgorithm)
	}
}

// derECDSAToSSH re-encodes a DER ECDSA signature (SEQUENCE{INTEGER r,
// INTEGER s}) as the SSH wire blob (RFC 4251 §5 mpint pair). The r and s
// integer contents are extracted and copied verbatim, including any
// leading 0x00 the card's DER already carries to keep the value
// non-negative: this must not re-derive or strip that byte, since doing
// so changes the signature's byte representation. Lengths are assumed
// to fit in a single length byte, which always holds for P-256/P-384
// signature components.
func derECDSAToSSH(der []byte) ([]byte, error) {
	if len(der) < 6 || der[0] != 0x30 {
		return nil, otherErr("decoding DER ECDSA signature: not a SEQUENCE")
	}

	pos := 2 // skip SEQUENCE tag and its length byte

	r, pos, err := readDERInteger(der, pos)
	if err != nil {
		return nil, err
	}
	s, _, err := readDERInteger(der, pos)
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf = append(buf, sshMpint(r)...)
	buf = append(buf, sshMpint(s)...)
	return buf, nil
}

// readDERInteger reads one DER INTEGER (tag 0x02, single-byte length) at
// pos and returns its content bytes and the position just past it.
func readDERInteger(der []byte, pos int) ([]byte, int, error) {
	if pos >= len(der) || der[pos] != 0x02 {
		return nil, 0, otherErr("decoding DER ECDSA signature: expected INTEGER tag at offset %d", pos)
	}
	pos++
	if pos >= len(der) {
		return nil, 0, otherErr("decoding DER ECDSA signature: truncated INTEGER length")
	}
	length := int(der[pos])
	pos++
	if pos+length > len(der) {
		return nil, 0, otherErr("decoding DER ECDSA signature: truncated INTEGER value")
	}
	return der[pos : pos+length], pos + length, nil
}

// sshMpint wraps b, taken verbatim, in the 4-byte big-endian length
// prefix RFC 4251 §5 specifies for mpint-encoded values.
func sshMpint(b []byte) []byte {
	length := uint32(len(b))
	out := make([]byte, 4+len(b))
	out[0] = byte(length >> 24)
	out[1] = byte(length >> 16)
	out[2] = byte(length >> 8)
	out[3] = byte(length)
	copy(out[4:], b)
	return out
}
