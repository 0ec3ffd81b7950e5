// Package bootstrap discovers PIV cards across attached readers and
// builds the identity set an agent.Agent will serve, along with the
// primary card's GUID for the liveness prober. Binding the listening
// socket and starting the prober are left to the pivy-agent command.
package bootstrap

import (
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/amarbel-llc/pivy/agent"
	"github.com/amarbel-llc/pivy/guid"
	"github.com/amarbel-llc/pivy/piv"
)

// Reader enumerates PC/SC readers and opens a transport to one by name.
// The pivy-agent command adapts *pcsc.Context to this interface.
type Reader interface {
	ListReaders() ([]string, error)
	Connect(name string) (piv.Transport, error)
}

// Config controls which cards and slots are exposed.
type Config struct {
	// GUIDFilter, if non-empty, restricts discovery to the single card
	// whose GUID matches (full hex or short 4-byte hex).
	GUIDFilter string
	// AllCards exposes identities from every attached card instead of
	// stopping after the first accepted one.
	AllCards bool
	// AllowedSlots, if non-empty, restricts discovery to these slot IDs.
	AllowedSlots []byte
}

// Result is everything bootstrap discovered: the identities to serve
// and the GUID/reader of the "primary" card the liveness prober should
// watch.
type Result struct {
	Keys          []agent.CachedKey
	PrimaryGUID   guid.GUID
	PrimaryReader string
	HasPrimary    bool
}

func slotAllowed(cfg Config, slot byte) bool {
	if len(cfg.AllowedSlots) == 0 {
		return true
	}
	for _, s := range cfg.AllowedSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// Discover enumerates every reader, opens each card, and collects
// identities per Config. Readers that fail to open or fail PIV SELECT
// are silently skipped, since a reader may simply be empty or hold a
// non-PIV card.
func Discover(reader Reader, cfg Config, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.Default()
	}

	names, err := reader.ListReaders()
	if err != nil {
		return nil, trace.Wrap(err, "listing PC/SC readers")
	}

	result := &Result{}

	for _, name := range names {
		transport, err := reader.Connect(name)
		if err != nil {
			log.Debug("failed to open reader", "reader", name, "error", err)
			continue
		}

		session, err := piv.Connect(transport)
		if err != nil {
			log.Debug("no PIV card in reader", "reader", name, "error", err)
			transport.Close()
			continue
		}

		accepted := acceptCard(result, session, name, cfg, log)
		session.Close()

		if accepted && !cfg.AllCards {
			break
		}
	}

	return result, nil
}

func acceptCard(result *Result, session *piv.Session, readerName string, cfg Config, log *slog.Logger) bool {
	g := session.GUID()

	if cfg.GUIDFilter != "" && !g.Matches(cfg.GUIDFilter) {
		return false
	}

	if !result.HasPrimary {
		result.PrimaryGUID = g
		result.PrimaryReader = readerName
		result.HasPrimary = true
	}

	records, err := session.ReadAllSlots()
	if err != nil {
		log.Warn("failed to read slots", "reader", readerName, "guid", g.ShortID(), "error", err)
		return true
	}

	for _, rec := range records {
		if !slotAllowed(cfg, rec.Slot) {
			continue
		}
		result.Keys = append(result.Keys, agent.CachedKey{
			GUID:       g,
			ReaderName: readerName,
			Slot:       rec.Slot,
			Algorithm:  rec.Algorithm,
			PublicKey:  rec.PublicKey,
			Comment:    "PIV_slot_" + slotHex(rec.Slot) + " " + g.ShortID(),
		})
	}

	return true
}

func slotHex(slot byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[slot>>4], hexDigits[slot&0x0F]})
}
