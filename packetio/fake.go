package packetio

// FakeLink is an in-memory, loopback-free pair of Receiver/Sender used by
// tests. Writers call Deliver to enqueue a datagram as if it had arrived
// off the wire; Send captures outgoing datagrams into Sent for assertions.
type FakeLink struct {
	recvOnDone func(n int, err error)
	sendOnDone func(err error)

	inbox      [][]byte
	pendingBuf []byte // set while a Recv call is outstanding with an empty inbox
	Sent       [][]byte
}

func NewFakeLink() *FakeLink {
	return &FakeLink{}
}

func (f *FakeLink) Init(mtu int, onDone func(n int, err error)) {
	f.recvOnDone = onDone
}

func (f *FakeLink) InitSend(mtu int, onDone func(err error)) {
	f.sendOnDone = onDone
}

// Deliver queues data for the next Recv call, or — if a Recv is already
// outstanding against an empty inbox — completes it immediately. This
// models a blocking socket read rather than a non-blocking poll, so
// callers that re-issue Recv from their completion handler don't spin.
func (f *FakeLink) Deliver(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	if f.pendingBuf != nil {
		buf := f.pendingBuf
		f.pendingBuf = nil
		n := copy(buf, cp)
		f.recvOnDone(n, nil)
		return
	}
	f.inbox = append(f.inbox, cp)
}

func (f *FakeLink) Recv(buf []byte) {
	if len(f.inbox) == 0 {
		f.pendingBuf = buf
		return
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]
	n := copy(buf, next)
	f.recvOnDone(n, nil)
}

func (f *FakeLink) Send(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.Sent = append(f.Sent, cp)
	f.sendOnDone(nil)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNoData = fakeErr("packetio: fake link has no queued data")
