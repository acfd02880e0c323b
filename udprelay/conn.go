package udprelay

import (
	"net"

	"go.badvpn.dev/relaycore/packetio"
	"go.badvpn.dev/relaycore/reactor"
)

// relayConn is one upstream UDP socket: either connected to a single peer
// (the local-side datapath always talks to the same remote relay) or left
// unconnected so sends can target a different destination per datagram
// (the remote-side datapath forwards to whatever the inner header names).
//
// Reads run through packetio.UDPSocket's continuous-recv loop; writes
// bypass packetio.Sender's single-outstanding-op contract and call
// net.UDPConn's WriteTo/Write directly — UDP sendto essentially never
// blocks on a healthy socket, so there is no flow-control reason to queue
// writes the way dhcpv4's sending-flag does for a connection that must
// not re-enter mid-retransmit.
type relayConn struct {
	conn   *net.UDPConn
	sock   *packetio.UDPSocket
	buf    []byte
	closed bool
}

// newRelayConn wraps conn, starting a continuous receive loop that
// delivers each datagram (and, when conn is unconnected, the sender's
// address) to onData. onError fires once, on the first read failure; the
// caller is responsible for evicting/closing in response.
func newRelayConn(r *reactor.Reactor, conn *net.UDPConn, mtu int, onData func(data []byte, from *net.UDPAddr), onError func(error)) *relayConn {
	rc := &relayConn{conn: conn, buf: make([]byte, mtu)}
	rc.sock = packetio.NewUDPSocket(conn, r)
	rc.sock.Init(mtu, func(n int, err error) {
		if rc.closed {
			return
		}
		if err != nil {
			onError(err)
			return
		}
		data := append([]byte(nil), rc.buf[:n]...)
		from := rc.sock.LastRecvAddr()
		onData(data, from)
		if !rc.closed {
			rc.sock.Recv(rc.buf)
		}
	})
	rc.sock.Recv(rc.buf)
	return rc
}

// sendTo writes data to addr on an unconnected socket.
func (rc *relayConn) sendTo(data []byte, addr *net.UDPAddr) error {
	_, err := rc.conn.WriteToUDP(data, addr)
	return err
}

// send writes data to the peer a connected socket was dialed against.
func (rc *relayConn) send(data []byte) error {
	_, err := rc.conn.Write(data)
	return err
}

// Close satisfies upstreamConn.
func (rc *relayConn) Close() {
	if rc.closed {
		return
	}
	rc.closed = true
	rc.conn.Close()
}
