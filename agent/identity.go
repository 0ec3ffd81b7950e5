package agent

import (
	"golang.org/x/crypto/ssh"

	"github.com/amarbel-llc/pivy/guid"
	"github.com/amarbel-llc/pivy/piv/algorithm"
)

// CachedKey is one identity the agent advertises: everything needed to
// list it without touching a card, plus enough to reopen the right card
// and slot to sign with it.
type CachedKey struct {
	GUID       guid.GUID
	ReaderName string
	Slot       byte
	Algorithm  algorithm.Algorithm
	PublicKey  ssh.PublicKey
	Comment    string
}

// Blob returns the identity's SSH wire-format public key, the value the
// agent protocol matches sign requests against.
func (k CachedKey) Blob() []byte {
	return k.PublicKey.Marshal()
}
