// Package resolver implements the asynchronous name-resolution interface
// the remote-side UDP relay uses for SOCKS5 ATYP=3 (domain) destinations.
package resolver

import (
	"context"
	"net"

	"go.badvpn.dev/relaycore/reactor"
)

// Query is an in-flight resolve that can be canceled via its Free method,
// mirroring the reference's resolve/on_free contract.
type Query interface {
	// Free cancels the query. on_result will not be called after Free
	// returns, even if the underlying lookup later completes.
	Free()
}

// Resolver looks up host:port asynchronously. Unless the returned Query is
// freed first, onResult is invoked exactly once, on the reactor's loop
// goroutine, with addr == nil if resolution failed. After Free, onResult
// is not invoked at all.
type Resolver interface {
	Resolve(host string, port uint16, onResult func(addr *net.UDPAddr)) Query
}

// CachedResolver wraps net.Resolver.LookupIPAddr, running each lookup on
// its own goroutine and posting the result back through a Reactor so
// onResult always runs on the loop goroutine, per the "called exactly
// once, on the reactor thread" contract.
//
// Grounded on dns/servers_config.go's pattern of caching a single
// upstream server list behind a callback; this resolver has no server
// list of its own to cache (it defers entirely to net.Resolver /
// /etc/resolv.conf) since spec.md's Non-goals exclude DNS resolution
// beyond a single cached server, so there is exactly one implicit
// upstream server — whatever the OS resolver already uses.
type CachedResolver struct {
	r   *reactor.Reactor
	res *net.Resolver
}

// NewCachedResolver builds a CachedResolver posting completions through r.
// A nil net.Resolver uses net.DefaultResolver.
func NewCachedResolver(r *reactor.Reactor, res *net.Resolver) *CachedResolver {
	if res == nil {
		res = net.DefaultResolver
	}
	return &CachedResolver{r: r, res: res}
}

type cachedQuery struct {
	free   bool
	result chan *net.UDPAddr
}

func (q *cachedQuery) Free() {
	q.free = true
}

func (c *CachedResolver) Resolve(host string, port uint16, onResult func(addr *net.UDPAddr)) Query {
	q := &cachedQuery{}
	go func() {
		addrs, err := c.res.LookupIPAddr(context.Background(), host)
		var result *net.UDPAddr
		if err == nil && len(addrs) > 0 {
			result = &net.UDPAddr{IP: addrs[0].IP, Port: int(port), Zone: addrs[0].Zone}
		}
		c.r.EnqueuePending(func() {
			if q.free {
				return
			}
			onResult(result)
		})
	}()
	return q
}
