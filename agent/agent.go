// Package agent implements the SSH agent protocol (via
// golang.org/x/crypto/ssh/agent) over a fixed set of PIV-backed
// identities discovered at startup. It never persists a PIN past
// process lifetime and never stores private key material; every
// signature is produced by a freshly opened card session.
package agent

import (
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/amarbel-llc/pivy/piv"
)

// OpenTransport opens a fresh, connected transport to the named PC/SC
// reader. Agent calls it once per Sign, right before verifying the PIN
// and signing, and closes the resulting session immediately after.
type OpenTransport func(readerName string) (piv.Transport, error)

// Agent implements agent.ExtendedAgent over a fixed identity list. List
// is a pure projection of the cached identities; Sign is the only
// operation that performs card I/O.
type Agent struct {
	keys     []CachedKey
	pin      *PINCell
	openCard OpenTransport
}

var _ agent.ExtendedAgent = (*Agent)(nil)

// New returns an Agent advertising keys, using pin as its shared PIN
// cell (so a prober watching the same cell can evict it) and openCard
// to reconnect to a card by reader name for each sign.
func New(keys []CachedKey, pin *PINCell, openCard OpenTransport) *Agent {
	return &Agent{keys: keys, pin: pin, openCard: openCard}
}

// List returns the cached identities without any card access.
func (a *Agent) List() ([]*agent.Key, error) {
	out := make([]*agent.Key, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, &agent.Key{
			Format:  k.PublicKey.Type(),
			Blob:    k.Blob(),
			Comment: k.Comment,
		})
	}
	return out, nil
}

func (a *Agent) findKey(pubkey ssh.PublicKey) (CachedKey, bool) {
	blob := pubkey.Marshal()
	for _, k := range a.keys {
		if string(k.Blob()) == string(blob) {
			return k, true
		}
	}
	return CachedKey{}, false
}

// Sign signs data with the default digest for key's algorithm.
func (a *Agent) Sign(key ssh.PublicKey, data []byte) (*ssh.Signature, error) {
	return a.SignWithFlags(key, data, 0)
}

// SignWithFlags looks up key against the cached identities before doing
// any card I/O, so an unknown key fails fast. A matching key requires
// reopening its card, verifying the PIN (unless the key lives in the
// PIN-less card authentication slot 0x9E), and asking the card to sign.
func (a *Agent) SignWithFlags(key ssh.PublicKey, data []byte, flags agent.SignatureFlags) (*ssh.Signature, error) {
	cached, ok := a.findKey(key)
	if !ok {
		return nil, trace.NotFound("key not held by this agent")
	}

	transport, err := a.openCard(cached.ReaderName)
	if err != nil {
		return nil, trace.Wrap(err, "opening reader %s", cached.ReaderName)
	}
	defer transport.Close()

	session, err := piv.Connect(transport)
	if err != nil {
		return nil, trace.Wrap(err, "connecting to card")
	}
	defer session.Close()

	if session.GUID() != cached.GUID {
		return nil, trace.Wrap(piv.ErrCardNotFound, "card in %s no longer has GUID %s", cached.ReaderName, cached.GUID)
	}

	if cached.Slot != piv.SlotCardAuthentication {
		pin, ok := a.pin.Get()
		if !ok {
			return nil, trace.Wrap(piv.ErrPINRequired)
		}
		if err := session.VerifyPIN(pin); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	slot := &piv.SlotRecord{Slot: cached.Slot, Algorithm: cached.Algorithm, PublicKey: cached.PublicKey}
	return session.Sign(slot, data, piv.SignFlags(flags))
}

// Lock unconditionally clears the cached PIN. The passphrase argument is
// part of the wire protocol but is not checked against anything: this
// agent caches a card PIN, not a lock passphrase, so there is nothing to
// compare it to.
func (a *Agent) Lock(_ []byte) error {
	a.pin.Clear()
	return nil
}

// Unlock unconditionally sets the cached PIN to the given passphrase.
func (a *Agent) Unlock(passphrase []byte) error {
	a.pin.Set(string(passphrase))
	return nil
}

// Signers is not supported: this agent only answers requests over the
// agent wire protocol, where SignWithFlags is used instead.
func (a *Agent) Signers() ([]ssh.Signer, error) {
	return nil, trace.NotImplemented("Signers is not supported")
}

// Add, Remove, and RemoveAll are not supported: this agent's identities
// come from the PIV cards discovered at startup, not from client
// requests.
func (a *Agent) Add(_ agent.AddedKey) error { return trace.NotImplemented("Add is not supported") }
func (a *Agent) Remove(_ ssh.PublicKey) error {
	return trace.NotImplemented("Remove is not supported")
}
func (a *Agent) RemoveAll() error { return trace.NotImplemented("RemoveAll is not supported") }

// Extension reports every extension as unsupported, matching the
// upstream agent package's default for agents with no extensions.
func (a *Agent) Extension(_ string, _ []byte) ([]byte, error) {
	return nil, agent.ErrExtensionUnsupported
}
