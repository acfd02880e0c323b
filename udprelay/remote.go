package udprelay

import (
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go.badvpn.dev/relaycore/cipher"
	"go.badvpn.dev/relaycore/metrics"
	"go.badvpn.dev/relaycore/ordermap"
	"go.badvpn.dev/relaycore/reactor"
	"go.badvpn.dev/relaycore/resolver"
)

// RemoteServer is the internet-facing half of one relay server tuple: it
// accepts cipher-wrapped datagrams from local relays, resolves the inner
// SOCKS5 destination, and forwards decrypted payloads to the real
// internet endpoint, re-encrypting replies for the trip back.
//
// Grounded on udprelay.c's MODULE_REMOTE build: the remote-side datapath
// in spec.md §4.3.
type RemoteServer struct {
	r        *reactor.Reactor
	listen   *relayConn
	cipher   cipher.Cipher
	mtu      int
	cache    *connCache
	resolver resolver.Resolver
	log      *zap.Logger
	label    string
	dropLog  rate.Sometimes
}

// NewRemoteServer wraps listenConn, the internet-facing socket local
// relays send encrypted traffic to.
func NewRemoteServer(r *reactor.Reactor, listenConn *net.UDPConn, c cipher.Cipher, mtu int, timeout time.Duration, res resolver.Resolver, log *zap.Logger, label string) *RemoteServer {
	if timeout < MinUDPTimeout {
		timeout = MinUDPTimeout
	}
	s := &RemoteServer{
		r:        r,
		cipher:   c,
		mtu:      mtu,
		resolver: res,
		log:      log,
		label:    label,
		dropLog:  rate.Sometimes{Interval: time.Second},
	}
	s.cache = newConnCache(r, MaxRemoteConns, timeout, func(e *entry) {
		metrics.UDPRelayCacheEvictions.WithLabelValues(label, "idle_or_error").Inc()
	})
	s.listen = newRelayConn(r, listenConn, mtu, s.handleInboundDatagram, func(err error) {
		s.log.Warn("listening socket recv error", zap.String("server", label), zap.Error(err))
	})
	return s
}

func (s *RemoteServer) Close() {
	var all []*entry
	s.cache.byKey.Ascend(func(_ ordermap.EndpointKey, e *entry) bool {
		all = append(all, e)
		return true
	})
	for _, e := range all {
		s.cache.evict(e)
	}
	s.listen.Close()
}

// handleInboundDatagram processes one encrypted datagram arriving from a
// local relay's upstream socket. clientSrc (from) identifies which local
// relay to send the eventual reply back to.
func (s *RemoteServer) handleInboundDatagram(data []byte, clientSrc *net.UDPAddr) {
	buf := &cipher.Buffer{Data: append(make([]byte, 0, bufSize(s.mtu)), data...), Len: len(data)}
	if _, err := s.cipher.DecryptAll(buf); err != nil {
		s.log.Debug("decrypt failed", zap.String("server", s.label), zap.Error(err))
		metrics.UDPRelayPacketsDropped.WithLabelValues("decrypt_error").Inc()
		return
	}
	ep, payload, err := parseAddrHeader(buf.Data[:buf.Len])
	if err != nil {
		s.dropLog.Do(func() {
			s.log.Debug("dropping malformed inner header", zap.String("server", s.label), zap.Error(err))
		})
		metrics.UDPRelayPacketsDropped.WithLabelValues("malformed").Inc()
		return
	}
	payload = append([]byte(nil), payload...)
	clientSrcCopy := *clientSrc

	if ep.ATYP == atypDomain {
		q := s.resolver.Resolve(ep.Domain, ep.Port, func(addr *net.UDPAddr) {
			if addr == nil {
				s.log.Debug("resolve failed", zap.String("server", s.label), zap.String("host", ep.Domain))
				metrics.UDPRelayPacketsDropped.WithLabelValues("resolve_failed").Inc()
				return
			}
			s.forwardToDestination(&clientSrcCopy, addr, payload)
		})
		_ = q // query is fire-and-forget here; nothing to cancel before completion
		return
	}

	dst := &net.UDPAddr{IP: ep.IP, Port: int(ep.Port)}
	s.forwardToDestination(&clientSrcCopy, dst, payload)
}

func (s *RemoteServer) forwardToDestination(clientSrc, dst *net.UDPAddr, payload []byte) {
	key := ordermap.NewEndpointKey(clientSrc.IP, uint16(clientSrc.Port), ordermap.AFUnspec)
	e, ok := s.cache.lookup(key)
	if !ok {
		network := "udp4"
		if dst.IP.To4() == nil {
			network = "udp6"
		}
		upConn, err := net.ListenUDP(network, nil)
		if err != nil {
			s.log.Warn("failed to open upstream socket", zap.String("server", s.label), zap.Error(err))
			return
		}
		clientSrcCopy := *clientSrc
		rc := newRelayConn(s.r, upConn, s.mtu, func(data []byte, from *net.UDPAddr) {
			s.handleDestinationReply(data, from, &clientSrcCopy)
		}, func(err error) {
			s.log.Debug("upstream socket error", zap.String("server", s.label), zap.Error(err))
			s.cache.remove(key)
		})
		e = s.cache.insert(key, rc)
		metrics.UDPRelayCacheSize.WithLabelValues(s.label).Set(float64(s.cache.len()))
	}
	rc := e.upstream.(*relayConn)
	if err := rc.sendTo(payload, dst); err != nil {
		s.log.Debug("send to destination failed", zap.String("server", s.label), zap.Error(err))
		s.cache.remove(key)
		return
	}
	metrics.UDPRelayBytesForwarded.WithLabelValues("upstream").Add(float64(len(payload)))
}

func (s *RemoteServer) handleDestinationReply(data []byte, from *net.UDPAddr, clientSrc *net.UDPAddr) {
	ep := EndpointFromUDPAddr(from)
	addrHdr, err := composeAddrHeader(ep)
	if err != nil {
		s.log.Debug("failed to compose reply header", zap.String("server", s.label), zap.Error(err))
		return
	}
	inner := append(addrHdr, data...)

	buf := &cipher.Buffer{Data: append(make([]byte, 0, bufSize(s.mtu)), inner...), Len: len(inner)}
	if _, err := s.cipher.EncryptAll(buf); err != nil {
		s.log.Warn("encrypt failed", zap.String("server", s.label), zap.Error(err))
		return
	}
	if err := s.listen.sendTo(buf.Data[:buf.Len], clientSrc); err != nil {
		s.log.Debug("send to client failed", zap.String("server", s.label), zap.Error(err))
		return
	}
	metrics.UDPRelayBytesForwarded.WithLabelValues("downstream").Add(float64(len(data)))
}
