package udprelay

import (
	"time"

	"go.badvpn.dev/relaycore/ordermap"
	"go.badvpn.dev/relaycore/reactor"
)

// entry is one cached upstream connection: the socket used to reach the
// destination, the client endpoint it was opened for, and the idle timer
// that evicts it.
type entry struct {
	key       ordermap.EndpointKey
	upstream  upstreamConn
	idleTimer reactor.TimerHandle
	seq       uint64 // touched on every lookup; lowest seq is the LRU victim

	// pendingDomain is a slot for the ATYP=3 domain of an in-flight lookup.
	// No code path sets it: RemoteServer keeps an undelivered payload in
	// its resolver callback, not in the cache entry.
	pendingDomain string
}

// upstreamConn is the narrow surface connCache needs from a live upstream
// socket, satisfied by *relayConn.
type upstreamConn interface {
	Close()
}

// connCache is the (family, sockaddr)-keyed LRU cache of upstream
// connections shared by one listening socket. Grounded on cache.c's
// HASH_ADD_KEYPTR/HASH_ITER insertion-ordered eviction, reimplemented with
// two ordermap indices instead of uthash: one keyed by EndpointKey for
// O(log n) lookup, one keyed by touch-sequence for O(log n) oldest-eviction.
type connCache struct {
	maxEntries int
	idle       time.Duration
	r          *reactor.Reactor

	byKey  *ordermap.Map[ordermap.EndpointKey, *entry]
	bySeq  *ordermap.Map[uint64, *entry]
	nextSeq uint64

	onEvict func(*entry)
}

func newConnCache(r *reactor.Reactor, maxEntries int, idle time.Duration, onEvict func(*entry)) *connCache {
	return &connCache{
		maxEntries: maxEntries,
		idle:       idle,
		r:          r,
		byKey:      ordermap.New[ordermap.EndpointKey, *entry](ordermap.LessEndpointKey),
		bySeq:      ordermap.New[uint64, *entry](func(a, b uint64) bool { return a < b }),
		onEvict:    onEvict,
	}
}

// lookup returns the cached entry for key, if present, promoting it to
// most-recently-used and resetting its idle timer.
func (c *connCache) lookup(key ordermap.EndpointKey) (*entry, bool) {
	e, ok := c.byKey.Get(key)
	if !ok {
		return nil, false
	}
	c.touch(e)
	return e, true
}

// touch promotes e to most-recently-used and rearms its idle timer.
func (c *connCache) touch(e *entry) {
	c.bySeq.Delete(e.seq)
	c.nextSeq++
	e.seq = c.nextSeq
	c.bySeq.Set(e.seq, e)

	c.r.CancelTimer(e.idleTimer)
	e.idleTimer = c.r.ScheduleTimer(c.idle, func() { c.remove(e.key) })
}

// insert adds a freshly created upstream connection under key, evicting
// the least-recently-used entry first if the cache is at capacity.
func (c *connCache) insert(key ordermap.EndpointKey, conn upstreamConn) *entry {
	if c.byKey.Len() >= c.maxEntries {
		if oldestSeq, oldest, ok := c.bySeq.Min(); ok {
			_ = oldestSeq
			c.evict(oldest)
		}
	}

	c.nextSeq++
	e := &entry{key: key, upstream: conn, seq: c.nextSeq}
	e.idleTimer = c.r.ScheduleTimer(c.idle, func() { c.remove(key) })
	c.byKey.Set(key, e)
	c.bySeq.Set(e.seq, e)
	return e
}

// remove evicts the entry for key, if present, closing its upstream
// connection and canceling its idle timer. Safe to call redundantly (e.g.
// once from an idle timer fire and once from an upstream socket error).
func (c *connCache) remove(key ordermap.EndpointKey) {
	e, ok := c.byKey.Get(key)
	if !ok {
		return
	}
	c.evict(e)
}

func (c *connCache) evict(e *entry) {
	c.byKey.Delete(e.key)
	c.bySeq.Delete(e.seq)
	c.r.CancelTimer(e.idleTimer)
	if c.onEvict != nil {
		c.onEvict(e)
	}
	e.upstream.Close()
}

func (c *connCache) len() int { return c.byKey.Len() }
