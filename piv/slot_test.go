package piv

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amarbel-llc/pivy/apdu"
	"github.com/amarbel-llc/pivy/tlv"
)

func selfSignedCert(t *testing.T, pub, priv any) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	return der
}

func wrapCert(certDER []byte) []byte {
	inner := tlv.NewWriter()
	inner.WriteTagValue(tagCert, certDER)
	inner.WriteTagValue(tagErrorDetect, nil)
	outer := tlv.NewWriter()
	outer.WriteTagValue(tagCertWrapper, inner.Bytes())
	return outer.Bytes()
}

func TestReadSlotDecodesECDSACert(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	certDER := selfSignedCert(t, &priv.PublicKey, priv)

	ft := okTransport(testGUID)
	tag, ok := slotToCertTag(SlotPIVAuthentication)
	require.True(t, ok)
	ft.on(apdu.GetData(tag), successResp(wrapCert(certDER)))

	s, err := Connect(ft)
	require.NoError(t, err)

	rec, err := s.ReadSlot(SlotPIVAuthentication)
	require.NoError(t, err)
	require.Equal(t, byte(SlotPIVAuthentication), rec.Slot)
	require.Equal(t, certDER, rec.CertDER)
	require.Equal(t, "ecdsa-sha2-nistp256", rec.PublicKey.Type())
}

func TestReadSlotEmptySlot(t *testing.T) {
	ft := okTransport(testGUID)
	s, err := Connect(ft)
	require.NoError(t, err)

	_, err = s.ReadSlot(SlotDigitalSignature)
	require.Error(t, err)
	require.True(t, isSlotEmpty(err))
}

func TestReadSlotUnmappedSlot(t *testing.T) {
	ft := okTransport(testGUID)
	s, err := Connect(ft)
	require.NoError(t, err)

	_, err = s.ReadSlot(0x01)
	require.Error(t, err)
	require.True(t, isSlotEmpty(err))
}

func TestReadAllSlotsSkipsEmptyOnes(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	certDER := selfSignedCert(t, &priv.PublicKey, priv)

	ft := okTransport(testGUID)
	authTag, _ := slotToCertTag(SlotPIVAuthentication)
	ft.on(apdu.GetData(authTag), successResp(wrapCert(certDER)))

	s, err := Connect(ft)
	require.NoError(t, err)

	records, err := s.ReadAllSlots()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, byte(SlotPIVAuthentication), records[0].Slot)
}

func TestReadAllSlotsDropsSlotWithUnsupportedCert(t *testing.T) {
	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaCert := selfSignedCert(t, &rsaPriv.PublicKey, rsaPriv)

	unsupportedPriv, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	require.NoError(t, err)
	unsupportedCert := selfSignedCert(t, &unsupportedPriv.PublicKey, unsupportedPriv)

	ft := okTransport(testGUID)
	authTag, _ := slotToCertTag(SlotPIVAuthentication)
	ft.on(apdu.GetData(authTag), successResp(wrapCert(rsaCert)))
	retiredTag, ok := slotToCertTag(0x82)
	require.True(t, ok)
	ft.on(apdu.GetData(retiredTag), successResp(wrapCert(unsupportedCert)))

	s, err := Connect(ft)
	require.NoError(t, err)

	// The retired slot's unsupported P-521 curve must not abort the whole
	// card read: it is dropped and the RSA key in 0x9A still comes back.
	records, err := s.ReadAllSlots()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, byte(SlotPIVAuthentication), records[0].Slot)
}

func TestReadSlotAuthRequiredIsTreatedAsEmpty(t *testing.T) {
	ft := okTransport(testGUID)
	tag, ok := slotToCertTag(SlotPIVAuthentication)
	require.True(t, ok)
	ft.on(apdu.GetData(tag), []byte{0x69, 0x82})

	s, err := Connect(ft)
	require.NoError(t, err)

	_, err = s.ReadSlot(SlotPIVAuthentication)
	require.Error(t, err)
	require.True(t, isSlotEmpty(err))
}

func TestAllSlotsInOrderCoversStandardThenRetired(t *testing.T) {
	slots := allSlotsInOrder()
	require.Len(t, slots, 4+20)
	require.Equal(t, byte(SlotPIVAuthentication), slots[0])
	require.Equal(t, byte(0x82), slots[4])
	require.Equal(t, byte(0x95), slots[len(slots)-1])
}
