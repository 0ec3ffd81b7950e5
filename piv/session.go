package piv

import (
	"github.com/amarbel-llc/pivy/apdu"
	"github.com/amarbel-llc/pivy/guid"
	"github.com/amarbel-llc/pivy/tlv"
)

// Transport is the minimal PC/SC surface a card Session needs: send raw
// command bytes and receive the raw response, including its trailing
// status word bytes. Implementations are expected to hold a single open
// connection to one reader in shared mode; (*pcsc.Context).Connect
// returns a *pcsc.Card backed by github.com/ebfe/scard.
type Transport interface {
	Transmit(cmd []byte) ([]byte, error)
	Close() error
	ReaderName() string
}

// Session is a connected PIV card: the PIV applet has been selected and
// its CHUID has been read, so GUID is always populated. A Session is
// opened fresh for every sign operation (see spec.md §9 "Card handle
// lifetime") and closed immediately after.
type Session struct {
	transport Transport
	guid      guid.GUID
}

// Connect opens a PIV session over transport: selects the PIV applet,
// then reads the CHUID to discover the card's GUID. A non-success SELECT
// or a CHUID missing its GUID tag both abort with an error; the caller
// should treat that as "not a PIV card in this reader" and move on.
func Connect(transport Transport) (*Session, error) {
	s := &Session{transport: transport}

	if err := s.selectPIV(); err != nil {
		return nil, err
	}
	if err := s.readCHUID(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}

// GUID returns the card's 16-byte identifier, discovered from its CHUID
// at Connect time.
func (s *Session) GUID() guid.GUID {
	return s.guid
}

// ReaderName returns the PC/SC reader name this session is connected
// through.
func (s *Session) ReaderName() string {
	return s.transport.ReaderName()
}

// VerifyPIN submits pin via the VERIFY command. It returns a *piv.Error
// wrapping KindPINIncorrect (with the remaining retry count) or
// KindPINBlocked for the corresponding card responses.
func (s *Session) VerifyPIN(pin string) error {
	_, sw, err := s.Transmit(apdu.VerifyPIN(pin))
	if err != nil {
		return err
	}
	if sw.IsSuccess() {
		return nil
	}
	if sw.IsPINBlocked() {
		return pinBlockedErr(sw)
	}
	if sw.IsPINIncorrect() {
		return pinIncorrectErr(sw.PINRetriesRemaining())
	}
	return apduErr(sw)
}

func (s *Session) selectPIV() error {
	_, sw, err := s.Transmit(apdu.Select(pivAID))
	if err != nil {
		return err
	}
	if !sw.IsSuccess() {
		return apduErr(sw)
	}
	return nil
}

func (s *Session) readCHUID() error {
	data, sw, err := s.Transmit(apdu.GetData(tagCHUID))
	if err != nil {
		return err
	}
	if !sw.IsSuccess() {
		return apduErr(sw)
	}

	r := tlv.NewReader(data)
	outerTag, err := r.ReadTag()
	if err != nil {
		return tlvErr("reading CHUID outer tag: %v", err)
	}
	if outerTag != tagCertWrapper {
		return tlvErr("expected CHUID outer tag %#x, got %#x", tagCertWrapper, outerTag)
	}
	chuid, err := r.ReadValue()
	if err != nil {
		return tlvErr("reading CHUID value: %v", err)
	}

	inner := tlv.NewReader(chuid)
	for inner.HasRemaining() {
		tag, err := inner.ReadTag()
		if err != nil {
			return tlvErr("reading CHUID inner tag: %v", err)
		}
		value, err := inner.ReadValue()
		if err != nil {
			return tlvErr("reading CHUID inner value: %v", err)
		}
		if tag == tagCHUIDGUID {
			g, err := guid.FromBytes(value)
			if err != nil {
				return otherErr("CHUID GUID: %v", err)
			}
			s.guid = g
			return nil
		}
	}

	return tlvErr("GUID tag (%#x) not found in CHUID", tagCHUIDGUID)
}

// Transmit sends cmd and returns its payload and status word, transparently
// following 61xx ("more data available") chaining by issuing GET RESPONSE
// until a terminal status word is received. The returned payload is the
// concatenation of every chained fragment, with status-word bytes
// stripped throughout.
func (s *Session) Transmit(cmd apdu.Command) ([]byte, apdu.StatusWord, error) {
	resp, err := s.transport.Transmit(cmd.Bytes())
	if err != nil {
		return nil, apdu.StatusWord{}, err
	}
	data, sw, err := splitStatusWord(resp)
	if err != nil {
		return nil, apdu.StatusWord{}, err
	}

	full := data
	for sw.HasMoreData() {
		getResp := apdu.GetResponse(sw.RemainingBytes())
		resp, err := s.transport.Transmit(getResp.Bytes())
		if err != nil {
			return nil, apdu.StatusWord{}, err
		}
		chunk, chainSW, err := splitStatusWord(resp)
		if err != nil {
			return nil, apdu.StatusWord{}, err
		}
		full = append(full, chunk...)
		sw = chainSW
	}

	return full, sw, nil
}

func splitStatusWord(resp []byte) ([]byte, apdu.StatusWord, error) {
	if len(resp) < 2 {
		return nil, apdu.StatusWord{}, otherErr("response too short for status word: %d bytes", len(resp))
	}
	n := len(resp)
	sw := apdu.NewStatusWord(resp[n-2], resp[n-1])
	return resp[:n-2], sw, nil
}
