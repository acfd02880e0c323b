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
)

// LocalServer is the client-facing half of one relay server tuple: it
// demultiplexes SOCKS5-UDP datagrams from local clients, keeping one
// upstream socket per client endpoint dialed against the single remote
// relay, and relays cipher-wrapped traffic in both directions.
//
// Grounded on udprelay.c's MODULE_LOCAL build: the local-side datapath
// described in spec.md §4.3.
type LocalServer struct {
	r          *reactor.Reactor
	listen     *relayConn
	remoteAddr *net.UDPAddr
	cipher     cipher.Cipher
	mtu        int
	cache      *connCache
	log        *zap.Logger
	label      string
	dropLog    rate.Sometimes
}

// NewLocalServer wraps listenConn (already bound to the client-facing
// address) and begins forwarding to remoteAddr over c. timeout floors at
// MinUDPTimeout.
func NewLocalServer(r *reactor.Reactor, listenConn *net.UDPConn, remoteAddr *net.UDPAddr, c cipher.Cipher, mtu int, timeout time.Duration, log *zap.Logger, label string) *LocalServer {
	if timeout < MinUDPTimeout {
		timeout = MinUDPTimeout
	}
	s := &LocalServer{
		r:          r,
		remoteAddr: remoteAddr,
		cipher:     c,
		mtu:        mtu,
		log:        log,
		label:      label,
		dropLog:    rate.Sometimes{Interval: time.Second},
	}
	s.cache = newConnCache(r, MaxLocalConns, timeout, func(e *entry) {
		metrics.UDPRelayCacheEvictions.WithLabelValues(label, "idle_or_error").Inc()
	})
	s.listen = newRelayConn(r, listenConn, mtu, s.handleClientDatagram, func(err error) {
		s.log.Warn("listening socket recv error", zap.String("server", label), zap.Error(err))
	})
	return s
}

// Close tears down every cached upstream connection and the listening
// socket.
func (s *LocalServer) Close() {
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

func (s *LocalServer) handleClientDatagram(data []byte, from *net.UDPAddr) {
	if len(data) < 4 {
		metrics.UDPRelayPacketsDropped.WithLabelValues("short").Inc()
		return
	}
	if data[2] != 0 {
		s.dropLog.Do(func() {
			s.log.Debug("dropping fragmented SOCKS5-UDP datagram", zap.String("server", s.label))
		})
		metrics.UDPRelayPacketsDropped.WithLabelValues("fragmented").Inc()
		return
	}
	if _, _, err := ParseClientHeader(data); err != nil {
		s.dropLog.Do(func() {
			s.log.Debug("dropping malformed client datagram", zap.String("server", s.label), zap.Error(err))
		})
		metrics.UDPRelayPacketsDropped.WithLabelValues("malformed").Inc()
		return
	}
	inner := data[3:]

	key := ordermap.NewEndpointKey(from.IP, uint16(from.Port), 0)
	e, ok := s.cache.lookup(key)
	if !ok {
		upConn, err := net.DialUDP("udp", nil, s.remoteAddr)
		if err != nil {
			s.log.Warn("failed to dial upstream", zap.String("server", s.label), zap.Error(err))
			return
		}
		clientAddr := *from
		rc := newRelayConn(s.r, upConn, s.mtu, func(data []byte, _ *net.UDPAddr) {
			s.handleUpstreamReply(data, &clientAddr)
		}, func(err error) {
			s.log.Debug("upstream socket error", zap.String("server", s.label), zap.Error(err))
			s.cache.remove(key)
		})
		e = s.cache.insert(key, rc)
		metrics.UDPRelayCacheSize.WithLabelValues(s.label).Set(float64(s.cache.len()))
	}
	rc := e.upstream.(*relayConn)

	plain := make([]byte, len(inner), bufSize(s.mtu))
	copy(plain, inner)
	buf := &cipher.Buffer{Data: plain, Len: len(inner)}
	if _, err := s.cipher.EncryptAll(buf); err != nil {
		s.log.Warn("encrypt failed", zap.String("server", s.label), zap.Error(err))
		metrics.UDPRelayPacketsDropped.WithLabelValues("encrypt_error").Inc()
		return
	}
	if err := rc.send(buf.Data[:buf.Len]); err != nil {
		s.log.Debug("send to remote failed", zap.String("server", s.label), zap.Error(err))
		s.cache.remove(key)
		return
	}
	metrics.UDPRelayBytesForwarded.WithLabelValues("upstream").Add(float64(len(inner)))
}

func (s *LocalServer) handleUpstreamReply(data []byte, clientAddr *net.UDPAddr) {
	buf := &cipher.Buffer{Data: append(make([]byte, 0, bufSize(s.mtu)), data...), Len: len(data)}
	if _, err := s.cipher.DecryptAll(buf); err != nil {
		s.log.Debug("decrypt failed", zap.String("server", s.label), zap.Error(err))
		metrics.UDPRelayPacketsDropped.WithLabelValues("decrypt_error").Inc()
		return
	}
	out := make([]byte, 0, 3+buf.Len)
	out = append(out, 0, 0, 0)
	out = append(out, buf.Data[:buf.Len]...)
	if err := s.listen.sendTo(out, clientAddr); err != nil {
		s.log.Debug("send to client failed", zap.String("server", s.label), zap.Error(err))
		return
	}
	metrics.UDPRelayBytesForwarded.WithLabelValues("downstream").Add(float64(buf.Len))
}
