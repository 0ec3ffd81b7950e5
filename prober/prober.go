// Package prober implements the liveness check that evicts a cached PIN
// once the PIV card it unlocked has been gone for several consecutive
// probes: a brief reader hiccup should not force a re-entry of the PIN,
// but a card that has actually been removed should not leave a live PIN
// sitting in memory forever.
package prober

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Interval is the time between liveness probes.
const Interval = 60 * time.Second

// FailLimit is the number of consecutive absent probes required before
// the cached PIN is evicted. A single missed probe is treated as noise.
const FailLimit = 3

// CardPresent reports whether the card a Prober is watching is still
// reachable. Implementations should be cheap and side-effect free beyond
// the card round trip itself (no logging, no PIN access).
type CardPresent func() bool

// PINClearer is the subset of agent.PINCell a Prober needs, kept narrow
// so prober has no import dependency on the agent package.
type PINClearer interface {
	Clear()
}

// Prober periodically checks whether a card is still present and clears
// a shared PIN cell after FailLimit consecutive absences.
type Prober struct {
	present  CardPresent
	pin      PINClearer
	clock    clockwork.Clock
	log      *slog.Logger
	failures int
}

// New returns a Prober. clock defaults to the real clock when nil.
func New(present CardPresent, pin PINClearer, clock clockwork.Clock, log *slog.Logger) *Prober {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Prober{present: present, pin: pin, clock: clock, log: log}
}

// Run blocks, probing every Interval until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.probeOnce()
		}
	}
}

// probeOnce runs a single probe and is also exercised directly by tests,
// without the surrounding ticker loop.
func (p *Prober) probeOnce() {
	if p.present() {
		p.failures = 0
		return
	}

	p.failures++
	if p.failures >= FailLimit {
		p.log.Warn("card unavailable after consecutive probes, forgetting PIN", "failures", p.failures)
		p.pin.Clear()
	}
}
