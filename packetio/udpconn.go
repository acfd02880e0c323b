package packetio

import (
	"errors"
	"net"

	"go.badvpn.dev/relaycore/reactor"
)

// ErrOutstandingOp is the value UDPSocket's Recv and Send panic with when
// called while a previous operation on the same instance has not yet
// completed.
var ErrOutstandingOp = errors.New("packetio: previous operation still outstanding")

// UDPSocket wraps a *net.UDPConn as a Receiver/Sender pair posted through
// a reactor. Reads and writes each run on their own goroutine (Go offers
// no portable fd-readiness primitive outside the runtime's own poller),
// and results are handed back to the loop goroutine via
// reactor.EnqueuePending so all completion callbacks still run
// single-threaded.
type UDPSocket struct {
	conn *net.UDPConn
	r    *reactor.Reactor

	recvOnDone func(n int, err error)
	recvBusy   bool
	recvFrom   *net.UDPAddr // set after each successful Recv

	sendOnDone func(err error)
	sendBusy   bool
	sendTo     *net.UDPAddr // nil for connected sockets
}

// NewUDPSocket wraps conn. r is the reactor that owns the caller's state;
// all onDone callbacks are delivered on r's loop goroutine.
func NewUDPSocket(conn *net.UDPConn, r *reactor.Reactor) *UDPSocket {
	return &UDPSocket{conn: conn, r: r}
}

func (s *UDPSocket) Init(mtu int, onDone func(n int, err error)) {
	s.recvOnDone = onDone
}

// InitSend mirrors Init but for the Sender half. The destination is set
// separately with SetSendTarget; with no target, Send writes to the peer
// of a connected socket.
func (s *UDPSocket) InitSend(mtu int, onDone func(err error)) {
	s.sendOnDone = onDone
}

// LastRecvAddr returns the source address of the most recently completed
// Recv. Only meaningful from within or after the onDone callback.
func (s *UDPSocket) LastRecvAddr() *net.UDPAddr {
	return s.recvFrom
}

func (s *UDPSocket) Recv(buf []byte) {
	if s.recvBusy {
		panic(ErrOutstandingOp)
	}
	s.recvBusy = true
	go func() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		s.r.EnqueuePending(func() {
			s.recvBusy = false
			s.recvFrom = addr
			s.recvOnDone(n, err)
		})
	}()
}

// SetSendTarget fixes the destination used by subsequent Send calls.
func (s *UDPSocket) SetSendTarget(addr *net.UDPAddr) {
	s.sendTo = addr
}

func (s *UDPSocket) Send(buf []byte) {
	if s.sendBusy {
		panic(ErrOutstandingOp)
	}
	s.sendBusy = true
	to := s.sendTo
	go func() {
		var err error
		if to != nil {
			_, err = s.conn.WriteToUDP(buf, to)
		} else {
			_, err = s.conn.Write(buf)
		}
		s.r.EnqueuePending(func() {
			s.sendBusy = false
			s.sendOnDone(err)
		})
	}()
}

func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
