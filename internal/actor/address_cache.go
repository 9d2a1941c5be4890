package actor

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// remoteHandle is what the address cache stores for a resolved remote
// address: a liveness flag plus whatever transport-specific routing token
// the external messaging transport (spec.md §6 "To the messaging
// transport") returned when it last confirmed the actor's location. The
// transport layer interprets routeToken; the actor package only caches it.
type remoteHandle struct {
	addr       Address
	routeToken string
	alive      bool
}

// AddressCache memoizes resolution results for remote addresses so that a
// hot path sending many messages to the same remote actor doesn't re-ask
// the transport to resolve it on every call (spec.md §6's remote-transport
// contract implies resolution has a real cost: network round trips or at
// least a lookup against the transport's own registry). Entries are
// invalidated by the transport's "remote actor down" callback.
type AddressCache struct {
	cache *lru.Cache[ActorID, remoteHandle]
}

// NewAddressCache builds an address cache with room for size entries. A
// size of 0 or less disables caching: every lookup reports a miss, and
// Put is a no-op.
func NewAddressCache(size int) *AddressCache {
	if size <= 0 {
		return &AddressCache{}
	}
	c, err := lru.New[ActorID, remoteHandle](size)
	if err != nil {
		return &AddressCache{}
	}
	return &AddressCache{cache: c}
}

// Lookup returns the cached route token for addr's actor id, if present and
// still marked alive.
func (c *AddressCache) Lookup(id ActorID) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	h, ok := c.cache.Get(id)
	if !ok || !h.alive {
		return "", false
	}
	return h.routeToken, true
}

// Put records a newly resolved remote address and its transport routing
// token.
func (c *AddressCache) Put(addr Address, routeToken string) {
	if c.cache == nil {
		return
	}
	c.cache.Add(addr.ID, remoteHandle{addr: addr, routeToken: routeToken, alive: true})
}

// Invalidate marks id as no longer resolvable, called from the transport's
// "remote actor down at address A" callback (spec.md §6). The entry is kept
// (rather than removed) so a burst of messages immediately following the
// down notification all see a fast, cached miss instead of re-querying the
// transport each time; Put overwrites it once the actor is seen alive
// again.
func (c *AddressCache) Invalidate(id ActorID) {
	if c.cache == nil {
		return
	}
	if h, ok := c.cache.Get(id); ok {
		h.alive = false
		c.cache.Add(id, h)
	}
}

// Len reports the number of cached entries, for tests/diagnostics.
func (c *AddressCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
