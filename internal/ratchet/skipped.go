package ratchet

import (
	"fmt"

	"github.com/jaydenbeard/secure-ratchet/internal/chainkey"
)

// skippedKeyID identifies a precomputed message key for a not-yet-arrived
// message: the remote ephemeral public key it was derived under, plus the
// message number (spec §3 SkippedKey).
type skippedKeyID struct {
	ephemeral string
	n         uint32
}

// skippedKeyCache is a bounded, FIFO-evicting cache of skipped message
// keys. The cap is aggregate across every receiving chain a session has
// ever used (spec §9: "bound total skipped keys aggregated across all
// receiving chains, not per-chain"), not per DH-ratchet epoch.
type skippedKeyCache struct {
	maxSize int
	order   []skippedKeyID
	values  map[skippedKeyID][chainkey.Size]byte
}

func newSkippedKeyCache(maxSize int) *skippedKeyCache {
	return &skippedKeyCache{
		maxSize: maxSize,
		values:  make(map[skippedKeyID][chainkey.Size]byte),
	}
}

func (c *skippedKeyCache) len() int {
	return len(c.order)
}

// remainingCapacity returns how many more entries can be stored before
// hitting maxSize.
func (c *skippedKeyCache) remainingCapacity() int {
	return c.maxSize - len(c.order)
}

// store adds a skipped key, evicting the oldest entry first if the cache
// is at capacity. It never returns an error: callers must check
// remainingCapacity before calling store when enforcing spec's
// TooManySkipped policy (store never silently drops a key the caller
// expects to find later in the *same* operation).
func (c *skippedKeyCache) store(ephemeral string, n uint32, key [chainkey.Size]byte) {
	id := skippedKeyID{ephemeral: ephemeral, n: n}
	if _, exists := c.values[id]; exists {
		c.values[id] = key
		return
	}
	if len(c.order) >= c.maxSize && c.maxSize > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.values, oldest)
	}
	c.order = append(c.order, id)
	c.values[id] = key
}

// take retrieves and removes a skipped key, if present.
func (c *skippedKeyCache) take(ephemeral string, n uint32) ([chainkey.Size]byte, bool) {
	id := skippedKeyID{ephemeral: ephemeral, n: n}
	key, ok := c.values[id]
	if !ok {
		return [chainkey.Size]byte{}, false
	}
	delete(c.values, id)
	for i, candidate := range c.order {
		if candidate == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return key, true
}

// clone performs a deep copy, used so a failed receive never mutates the
// live session state (spec I4 atomicity).
func (c *skippedKeyCache) clone() *skippedKeyCache {
	clone := &skippedKeyCache{
		maxSize: c.maxSize,
		order:   append([]skippedKeyID(nil), c.order...),
		values:  make(map[skippedKeyID][chainkey.Size]byte, len(c.values)),
	}
	for k, v := range c.values {
		clone.values[k] = v
	}
	return clone
}

func (id skippedKeyID) String() string {
	return fmt.Sprintf("%s:%d", id.ephemeral, id.n)
}
