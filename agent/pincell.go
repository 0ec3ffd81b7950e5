package agent

import "sync"

// PINCell holds at most one cached PIN, guarded by a mutex. It is never
// held across card I/O: callers copy the PIN out, release the lock, then
// talk to the card.
type PINCell struct {
	mu  sync.Mutex
	pin *string
}

// Get returns the cached PIN and whether one is set.
func (c *PINCell) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pin == nil {
		return "", false
	}
	return *c.pin, true
}

// Set unconditionally replaces the cached PIN: the last Unlock call wins
// regardless of what was previously cached.
func (c *PINCell) Set(pin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pin = &pin
}

// Clear unconditionally empties the cached PIN. Agent.Lock calls it
// without checking the lock passphrase argument against anything, since
// this agent caches a card PIN rather than a lock passphrase.
func (c *PINCell) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pin = nil
}
