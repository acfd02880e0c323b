// Package packetio defines the narrow packet I/O interfaces the datapath
// cores are built against, plus a net.PacketConn-backed implementation.
// Both Receiver and Sender allow exactly one outstanding operation at a
// time: callers must wait for the done callback before issuing another
// Recv or Send.
package packetio

// Receiver accepts at most one outstanding Recv at a time. Init must be
// called once before any Recv.
type Receiver interface {
	// Init tells the receiver the largest buffer it will ever be handed
	// and the callback to invoke when a Recv completes.
	Init(mtu int, onDone func(n int, err error))

	// Recv starts an asynchronous read into buf. onDone (from Init) fires
	// exactly once per Recv, on the reactor's loop goroutine.
	Recv(buf []byte)
}

// Sender accepts at most one outstanding Send at a time.
type Sender interface {
	// InitSend is named distinctly from Receiver.Init so a single type
	// (UDPSocket, FakeLink) can implement both interfaces at once.
	InitSend(mtu int, onDone func(err error))

	// Send starts an asynchronous write of buf. onDone fires exactly
	// once per Send, on the reactor's loop goroutine.
	Send(buf []byte)
}

// Addressed pairs a datagram with the endpoint it arrived from or is
// destined to, for transports (UDP) that are not point-to-point.
type Addressed struct {
	Addr interface{} // *net.UDPAddr in practice; kept generic for test fakes
}

// Closer is implemented by I/O endpoints that own an OS resource.
type Closer interface {
	Close() error
}
