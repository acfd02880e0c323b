package dhcpv4

import (
	"encoding/binary"
	"testing"
	"time"

	"go.badvpn.dev/relaycore/packetio"
	"go.badvpn.dev/relaycore/randsrc"
	"go.badvpn.dev/relaycore/reactor"
)

// runSync posts f onto r's loop goroutine and blocks until it has run,
// keeping every Client mutation on the single reactor goroutine the way
// production callers (timer fires, recv/send completions) do.
func runSync(r *reactor.Reactor, f func()) {
	done := make(chan struct{})
	r.EnqueuePending(func() {
		f()
		close(done)
	})
	<-done
}

func newTestClient(t *testing.T) (*Client, *reactor.Reactor, *packetio.FakeLink) {
	r := reactor.New()
	go r.Run()
	t.Cleanup(r.Stop)

	link := packetio.NewFakeLink()
	c := New(r, link, link, randsrc.NewDeterministicSource(1))
	c.ResetTimeout = 60 * time.Millisecond
	c.RequestTimeout = 60 * time.Millisecond
	c.RenewRequestInterval = 400 * time.Millisecond
	return c, r, link
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func serverReply(msgType byte, xid uint32, clientMAC [6]byte, yiaddr [4]byte, extra ...Option) []byte {
	p := &Packet{
		Op:     opBootReply,
		Htype:  htypeEthernet,
		Hlen:   hlenEthernet,
		Xid:    xid,
		Yiaddr: yiaddr,
	}
	copy(p.Chaddr[:6], clientMAC[:])
	p.Options = append(p.Options, Option{Type: optMessageType, Value: []byte{msgType}})
	p.Options = append(p.Options, extra...)
	return p.Marshal()
}

// sentCount and lastSent serialize their reads of link.Sent through the
// reactor loop goroutine, since that's the only goroutine production code
// (and FakeLink's synchronous completion callbacks) ever writes it from.
func sentCount(r *reactor.Reactor, link *packetio.FakeLink) int {
	var n int
	runSync(r, func() { n = len(link.Sent) })
	return n
}

func lastSent(r *reactor.Reactor, link *packetio.FakeLink) *Packet {
	var raw []byte
	runSync(r, func() { raw = link.Sent[len(link.Sent)-1] })
	pkt, _ := Unmarshal(raw)
	return pkt
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestHappyPathAcquireAndRenew exercises DISCOVER -> OFFER -> REQUEST -> ACK,
// followed by the automatic renewal at lease/2 and a second ACK that must
// not trigger a DOWN notification.
func TestHappyPathAcquireAndRenew(t *testing.T) {
	c, r, link := newTestClient(t)
	clientMAC := [6]byte{0x02, 0, 0, 0, 0, 0x11}

	upCh := make(chan Lease, 4)
	downCh := make(chan struct{}, 4)

	var startErr error
	runSync(r, func() {
		startErr = c.Start(600, StartOptions{}, clientMAC,
			func(l Lease) { upCh <- l },
			func() { downCh <- struct{}{} },
			func() [6]byte { return [6]byte{0xAA, 0, 0, 0, 0, 1} },
		)
	})
	if startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	waitFor(t, time.Second, func() bool { return sentCount(r, link) >= 1 })
	discover := lastSent(r, link)
	if mt, _ := FindOption(discover.Options, optMessageType); mt[0] != MsgDiscover {
		t.Fatalf("first message type = %d, want DISCOVER", mt[0])
	}
	xid := discover.Xid

	yiaddr := [4]byte{10, 0, 0, 5}
	serverID := [4]byte{10, 0, 0, 1}
	offer := serverReply(MsgOffer, xid, clientMAC, yiaddr,
		Option{Type: optServerIdentifier, Value: serverID[:]},
	)
	runSync(r, func() { link.Deliver(offer) })

	waitFor(t, time.Second, func() bool { return sentCount(r, link) >= 2 })
	request := lastSent(r, link)
	if mt, _ := FindOption(request.Options, optMessageType); mt[0] != MsgRequest {
		t.Fatalf("second message type = %d, want REQUEST", mt[0])
	}
	if reqIP, ok := FindOption(request.Options, optRequestedIPAddress); !ok || !bytesEqual4(reqIP, yiaddr[:]) {
		t.Fatalf("REQUEST missing/mismatched RequestedIPAddress: %v, %v", reqIP, ok)
	}
	if sid, ok := FindOption(request.Options, optServerIdentifier); !ok || !bytesEqual4(sid, serverID[:]) {
		t.Fatalf("REQUEST missing/mismatched ServerIdentifier: %v, %v", sid, ok)
	}

	ack := serverReply(MsgAck, xid, clientMAC, yiaddr,
		Option{Type: optServerIdentifier, Value: serverID[:]},
		Option{Type: optSubnetMask, Value: []byte{255, 255, 255, 0}},
		Option{Type: optLeaseTime, Value: be32(2)}, // short lease: renew at ~1s
	)
	runSync(r, func() { link.Deliver(ack) })

	var lease Lease
	select {
	case lease = <-upCh:
	case <-time.After(time.Second):
		t.Fatalf("onUp not called after ACK")
	}
	if lease.Addr != yiaddr {
		t.Fatalf("lease.Addr = %v, want %v", lease.Addr, yiaddr)
	}
	if lease.Mask != [4]byte{255, 255, 255, 0} {
		t.Fatalf("lease.Mask = %v", lease.Mask)
	}
	if lease.ServerMAC != [6]byte{0xAA, 0, 0, 0, 0, 1} {
		t.Fatalf("lease.ServerMAC = %v", lease.ServerMAC)
	}

	var state State
	runSync(r, func() { state = c.State() })
	if state != StateFinished {
		t.Fatalf("state after ACK = %v, want FINISHED", state)
	}

	// Renewal should fire at lease/2 (~1s) without forcing a new xid.
	waitFor(t, 2*time.Second, func() bool {
		var st State
		runSync(r, func() { st = c.State() })
		return st == StateRenewing
	})

	waitFor(t, time.Second, func() bool { return sentCount(r, link) >= 3 })
	renewReq := lastSent(r, link)
	if renewReq.Xid != xid {
		t.Fatalf("renewal xid = %d, want reused %d", renewReq.Xid, xid)
	}
	if mt, _ := FindOption(renewReq.Options, optMessageType); mt[0] != MsgRequest {
		t.Fatalf("renewal message type = %d, want REQUEST", mt[0])
	}
	if _, ok := FindOption(renewReq.Options, optServerIdentifier); ok {
		t.Fatalf("renewal REQUEST must omit ServerIdentifier")
	}
	if _, ok := FindOption(renewReq.Options, optRequestedIPAddress); ok {
		t.Fatalf("renewal REQUEST must omit RequestedIPAddress")
	}

	ack2 := serverReply(MsgAck, xid, clientMAC, yiaddr,
		Option{Type: optServerIdentifier, Value: serverID[:]},
		Option{Type: optSubnetMask, Value: []byte{255, 255, 255, 0}},
		Option{Type: optLeaseTime, Value: be32(2)},
	)
	runSync(r, func() { link.Deliver(ack2) })

	select {
	case <-upCh:
	case <-time.After(time.Second):
		t.Fatalf("onUp not called after renewal ACK")
	}
	select {
	case <-downCh:
		t.Fatalf("onDown must not fire on a successful renewal")
	case <-time.After(150 * time.Millisecond):
	}

	runSync(r, func() { state = c.State() })
	if state != StateFinished {
		t.Fatalf("state after renewal ACK = %v, want FINISHED", state)
	}
}

// TestNakDuringRenewWaitsOutResetTimeoutBeforeRediscovering drives a client
// to RENEWING, then delivers a NAK and checks the DOWN notification fires
// immediately while the actual DISCOVER resend waits out the full reset
// timeout and carries a freshly generated xid.
func TestNakDuringRenewWaitsOutResetTimeoutBeforeRediscovering(t *testing.T) {
	c, r, link := newTestClient(t)
	clientMAC := [6]byte{0x02, 0, 0, 0, 0, 0x22}

	upCh := make(chan Lease, 4)
	downCh := make(chan struct{}, 4)

	runSync(r, func() {
		_ = c.Start(600, StartOptions{}, clientMAC,
			func(l Lease) { upCh <- l },
			func() { downCh <- struct{}{} },
			func() [6]byte { return [6]byte{} },
		)
	})

	waitFor(t, time.Second, func() bool { return sentCount(r, link) >= 1 })
	xid := lastSent(r, link).Xid

	yiaddr := [4]byte{192, 168, 1, 50}
	serverID := [4]byte{192, 168, 1, 1}
	offer := serverReply(MsgOffer, xid, clientMAC, yiaddr,
		Option{Type: optServerIdentifier, Value: serverID[:]},
	)
	runSync(r, func() { link.Deliver(offer) })
	waitFor(t, time.Second, func() bool { return sentCount(r, link) >= 2 })

	ack := serverReply(MsgAck, xid, clientMAC, yiaddr,
		Option{Type: optServerIdentifier, Value: serverID[:]},
		Option{Type: optSubnetMask, Value: []byte{255, 255, 255, 0}},
		Option{Type: optLeaseTime, Value: be32(2)},
	)
	runSync(r, func() { link.Deliver(ack) })
	select {
	case <-upCh:
	case <-time.After(time.Second):
		t.Fatalf("onUp not called after initial ACK")
	}

	waitFor(t, 2*time.Second, func() bool {
		var st State
		runSync(r, func() { st = c.State() })
		return st == StateRenewing
	})

	sentBeforeNak := sentCount(r, link)

	nak := serverReply(MsgNak, xid, clientMAC, [4]byte{})
	runSync(r, func() { link.Deliver(nak) })

	select {
	case <-downCh:
	case <-time.After(time.Second):
		t.Fatalf("onDown not called after NAK during RENEWING")
	}

	var ip [4]byte
	runSync(r, func() { ip = c.GetIP() })
	if ip != ([4]byte{}) {
		t.Fatalf("lease address not cleared after NAK: %v", ip)
	}

	// The client must sit in RESETTING without sending anything for the
	// reset quiet period, not jump straight back to a DISCOVER.
	var state State
	runSync(r, func() { state = c.State() })
	if state != StateResetting {
		t.Fatalf("state right after NAK = %v, want RESETTING", state)
	}
	if n := sentCount(r, link); n != sentBeforeNak {
		t.Fatalf("NAK must not trigger an immediate send: sent count went from %d to %d", sentBeforeNak, n)
	}

	// Only once the reset timer fires does the client send a DISCOVER
	// again, and it must carry a freshly generated xid rather than the
	// NAK'd one.
	waitFor(t, time.Second, func() bool {
		runSync(r, func() { state = c.State() })
		return state == StateSentDiscover
	})
	waitFor(t, time.Second, func() bool { return sentCount(r, link) > sentBeforeNak })

	rediscover := lastSent(r, link)
	if mt, _ := FindOption(rediscover.Options, optMessageType); mt[0] != MsgDiscover {
		t.Fatalf("post-NAK resend message type = %d, want DISCOVER", mt[0])
	}
	if rediscover.Xid == xid {
		t.Fatalf("post-NAK DISCOVER reused the NAK'd xid %d, want a freshly generated one", xid)
	}
}
