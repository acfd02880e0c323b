package dhcpv4

import (
	"fmt"
	"time"

	"go.badvpn.dev/relaycore/packetio"
	"go.badvpn.dev/relaycore/randsrc"
	"go.badvpn.dev/relaycore/reactor"
)

// State is one of the five DHCP client states.
type State int

const (
	StateResetting State = iota
	StateSentDiscover
	StateSentRequest
	StateFinished
	StateRenewing
)

func (s State) String() string {
	switch s {
	case StateResetting:
		return "RESETTING"
	case StateSentDiscover:
		return "SENT_DISCOVER"
	case StateSentRequest:
		return "SENT_REQUEST"
	case StateFinished:
		return "FINISHED"
	case StateRenewing:
		return "RENEWING"
	default:
		return "UNKNOWN"
	}
}

const (
	minMTU = 548

	resetTimeout         = 4 * time.Second
	requestTimeout       = 3 * time.Second
	maxRequestAttempts   = 4
	renewRequestInterval = 20 * time.Second

	xidReuseMax = 8

	fallbackXID = 0xDEADBEEF

	maxDNSServers = 4
)

// Lease is the set of parameters learned from a successful ACK.
type Lease struct {
	Addr         [4]byte
	Mask         [4]byte
	HasRouter    bool
	Router       [4]byte
	DNS          [][4]byte
	LeaseSeconds uint32
	ServerID     [4]byte
	ServerMAC    [6]byte
}

// Stats counts protocol events, mirroring the teacher's Client.Stats
// shape (renamed to this core's five-state machine).
type Stats struct {
	DiscoversSent  uint64
	OffersReceived uint64
	RequestsSent   uint64
	AcksReceived   uint64
	NaksReceived   uint64
	Resets         uint64
	Renews         uint64
}

// StartOptions configures optional DHCP options included in every
// outgoing message.
type StartOptions struct {
	Hostname         string
	VendorClassID    string
	ClientID         []byte
}

func (o StartOptions) totalLen() int {
	return len(o.Hostname) + len(o.VendorClassID) + len(o.ClientID)
}

// Client implements the DHCPv4 acquire/renew/rebind state machine.
// Grounded on the teacher's dhcp/client.go shape: synchronized info,
// counters, an injected now()/randsrc for determinism in tests, and an
// exponential/backoff-free fixed-interval retransmit loop matching this
// spec's timer semantics.
type Client struct {
	r    *reactor.Reactor
	recv packetio.Receiver
	send packetio.Sender
	rnd  randsrc.Source
	now  func() time.Time

	mtu       int
	clientMAC [6]byte
	opts      StartOptions

	onUp           func(Lease)
	onDown         func()
	getServerMAC   func() [6]byte

	state         State
	xid           uint32
	xidReuseCount int

	offeredYiaddr   [4]byte
	offeredServerID [4]byte
	lease           Lease

	resetTimer         reactor.TimerHandle
	requestTimer       reactor.TimerHandle
	renewTimer         reactor.TimerHandle
	renewRequestTimer  reactor.TimerHandle
	leaseTimer         reactor.TimerHandle
	requestAttempts    int

	sending bool
	recvBuf []byte

	// Overridable timer durations, defaulted in New() to the spec's
	// values; tests shrink these to keep real-time-driven test runs fast.
	ResetTimeout         time.Duration
	RequestTimeout       time.Duration
	RenewRequestInterval time.Duration

	Stats Stats
}

// New constructs a Client. Call Start to begin acquisition.
func New(r *reactor.Reactor, recv packetio.Receiver, send packetio.Sender, rnd randsrc.Source) *Client {
	return &Client{
		r:                    r,
		recv:                 recv,
		send:                 send,
		rnd:                  rnd,
		now:                  time.Now,
		ResetTimeout:         resetTimeout,
		RequestTimeout:       requestTimeout,
		RenewRequestInterval: renewRequestInterval,
	}
}

// Start begins DHCP acquisition. mtu must be >= 548. getServerMAC is
// invoked each time an ACK is accepted, to ask the transport layer for
// the Ethernet source address of the frame just received (this
// client's own abstraction has no visibility into link-layer addressing).
func (c *Client) Start(mtu int, opts StartOptions, clientMAC [6]byte, onUp func(Lease), onDown func(), getServerMAC func() [6]byte) error {
	if mtu < minMTU {
		return fmt.Errorf("dhcpv4: mtu %d below minimum %d", mtu, minMTU)
	}
	if opts.totalLen() > 100 {
		return fmt.Errorf("dhcpv4: combined hostname/vendor-class/client-id length %d exceeds 100", opts.totalLen())
	}
	if len(opts.Hostname) > 255 || len(opts.VendorClassID) > 255 || len(opts.ClientID) > 255 {
		return fmt.Errorf("dhcpv4: an option value exceeds 255 bytes")
	}

	c.mtu = mtu
	c.opts = opts
	c.clientMAC = clientMAC
	c.onUp = onUp
	c.onDown = onDown
	c.getServerMAC = getServerMAC

	c.recvBuf = make([]byte, mtu)
	c.recv.Init(mtu, c.onRecvDone)
	c.send.InitSend(mtu, c.onSendDone)

	c.startProcess(true)
	c.recv.Recv(c.recvBuf)
	return nil
}

func (c *Client) nowTime() time.Time { return c.now() }

func (c *Client) newXid() uint32 {
	v, err := randsrc.Uint32(c.rnd)
	if err != nil || v == 0 {
		return fallbackXID
	}
	return v
}

func (c *Client) cancelAllTimers() {
	c.r.CancelTimer(c.resetTimer)
	c.r.CancelTimer(c.requestTimer)
	c.r.CancelTimer(c.renewTimer)
	c.r.CancelTimer(c.renewRequestTimer)
	c.r.CancelTimer(c.leaseTimer)
}

// enterResetting switches to RESETTING and arms the reset timer without
// sending anything, giving the network a quiet period before the next
// DISCOVER goes out. Used when a NAK aborts an in-progress request or an
// active lease: the restart happens only when the reset timer fires, via
// onResetTimerFire.
func (c *Client) enterResetting() {
	c.state = StateResetting
	c.resetTimer = c.r.ScheduleTimer(c.ResetTimeout, c.onResetTimerFire)
}

// startProcess sends a DISCOVER and arms the reset timer to retry if no
// OFFER arrives in time. forceNewXid generates a fresh xid unconditionally;
// otherwise the current xid is reused up to xidReuseMax times.
func (c *Client) startProcess(forceNewXid bool) {
	c.Stats.Resets++

	if forceNewXid || c.xid == 0 || c.xidReuseCount >= xidReuseMax {
		c.xid = c.newXid()
		c.xidReuseCount = 0
	}
	c.xidReuseCount++

	c.sendDiscover()
	c.state = StateSentDiscover
	c.resetTimer = c.r.ScheduleTimer(c.ResetTimeout, c.onResetTimerFire)
}

// onResetTimerFire reruns discovery when the reset timer expires. A fresh
// xid is forced only when the timer was armed from RESETTING (a NAK or
// similar abort); a timeout while still waiting on an OFFER reuses the xid
// per the normal reuse policy.
func (c *Client) onResetTimerFire() {
	switch c.state {
	case StateResetting:
		c.startProcess(true)
	case StateSentDiscover:
		c.startProcess(false)
	}
}

func (c *Client) sendDiscover() {
	pkt := c.buildMessage(MsgDiscover, nil, false)
	c.transmit(pkt)
	c.Stats.DiscoversSent++
}

// sendRequest builds and transmits a REQUEST. includeServerID is true for
// the initial post-OFFER request; renewing requests omit it per spec.
func (c *Client) sendRequest(renewing bool) {
	var reqIP *[4]byte
	var includeServerID bool
	if !renewing {
		reqIP = &c.offeredYiaddr
		includeServerID = true
	}
	pkt := c.buildMessage(MsgRequest, reqIP, includeServerID)
	c.transmit(pkt)
	c.Stats.RequestsSent++
}

func (c *Client) transmit(pkt *Packet) {
	if c.sending {
		return // single-flight: re-entrant send rejected, not queued
	}
	data := pkt.Marshal()
	c.sending = true
	c.send.Send(data)
}

func (c *Client) onSendDone(err error) {
	c.sending = false
}

func (c *Client) onRecvDone(n int, err error) {
	defer c.recv.Recv(c.recvBuf)
	if err != nil || n < dhcpHeaderLen+4 {
		return
	}
	pkt, perr := Unmarshal(c.recvBuf[:n])
	if perr != nil {
		return
	}
	c.handleReply(pkt)
}

func (c *Client) handleReply(pkt *Packet) {
	if pkt.Op != opBootReply || pkt.Htype != htypeEthernet || pkt.Hlen != hlenEthernet {
		return
	}
	if pkt.Xid != c.xid {
		return
	}
	if pkt.Chaddr[0] != c.clientMAC[0] || pkt.Chaddr[1] != c.clientMAC[1] || pkt.Chaddr[2] != c.clientMAC[2] ||
		pkt.Chaddr[3] != c.clientMAC[3] || pkt.Chaddr[4] != c.clientMAC[4] || pkt.Chaddr[5] != c.clientMAC[5] {
		return
	}

	mt, ok := FindOption(pkt.Options, optMessageType)
	if !ok || len(mt) != 1 {
		return
	}

	switch mt[0] {
	case MsgOffer:
		c.handleOffer(pkt)
	case MsgAck:
		c.handleAck(pkt)
	case MsgNak:
		c.handleNak(pkt)
	}
}

func (c *Client) handleOffer(pkt *Packet) {
	if c.state != StateSentDiscover {
		return
	}
	sid, ok := FindOption(pkt.Options, optServerIdentifier)
	if !ok || len(sid) != 4 {
		return
	}
	c.Stats.OffersReceived++
	c.r.CancelTimer(c.resetTimer)

	copy(c.offeredYiaddr[:], pkt.Yiaddr[:])
	copy(c.offeredServerID[:], sid)

	c.state = StateSentRequest
	c.requestAttempts = 1
	c.sendRequest(false)
	c.armRequestTimer()
}

func (c *Client) armRequestTimer() {
	c.requestTimer = c.r.ScheduleTimer(c.RequestTimeout, func() {
		if c.state != StateSentRequest {
			return
		}
		if c.requestAttempts < maxRequestAttempts {
			c.requestAttempts++
			c.sendRequest(false)
			c.armRequestTimer()
		} else {
			c.startProcess(false)
		}
	})
}

func (c *Client) handleAck(pkt *Packet) {
	switch c.state {
	case StateSentRequest:
		sid, ok := FindOption(pkt.Options, optServerIdentifier)
		if !ok || !bytesEqual4(sid, c.offeredServerID[:]) || !bytesEqual4FromIP(pkt.Yiaddr, c.offeredYiaddr) {
			return
		}
		c.r.CancelTimer(c.requestTimer)
		c.acquireLease(pkt)
		c.state = StateFinished
		c.armRenewTimer()
		if c.onUp != nil {
			c.onUp(c.lease)
		}

	case StateRenewing:
		sid, ok := FindOption(pkt.Options, optServerIdentifier)
		if ok && !bytesEqual4(sid, c.lease.ServerID[:]) {
			return
		}
		c.r.CancelTimer(c.renewRequestTimer)
		c.r.CancelTimer(c.leaseTimer)
		c.acquireLease(pkt)
		c.state = StateFinished
		c.armRenewTimer()
		if c.onUp != nil {
			c.onUp(c.lease)
		}
	}
}

func (c *Client) acquireLease(pkt *Packet) {
	c.Stats.AcksReceived++
	l := Lease{}
	copy(l.Addr[:], pkt.Yiaddr[:])
	copy(l.ServerID[:], c.offeredServerID[:])
	if v, ok := FindOption(pkt.Options, optServerIdentifier); ok && len(v) == 4 {
		copy(l.ServerID[:], v)
	}
	if v, ok := FindOption(pkt.Options, optSubnetMask); ok && len(v) == 4 {
		copy(l.Mask[:], v)
	}
	if v, ok := FindOption(pkt.Options, optRouter); ok && len(v) >= 4 {
		l.HasRouter = true
		copy(l.Router[:], v[:4])
	}
	if v, ok := FindOption(pkt.Options, optDNSServers); ok {
		for i := 0; i+4 <= len(v) && len(l.DNS) < maxDNSServers; i += 4 {
			var ip [4]byte
			copy(ip[:], v[i:i+4])
			l.DNS = append(l.DNS, ip)
		}
	}
	if v, ok := FindOption(pkt.Options, optLeaseTime); ok && len(v) == 4 {
		l.LeaseSeconds = beUint32(v)
	}
	if c.getServerMAC != nil {
		l.ServerMAC = c.getServerMAC()
	}
	c.lease = l
}

func (c *Client) armRenewTimer() {
	lease := time.Duration(c.lease.LeaseSeconds) * time.Second
	half := lease / 2
	c.renewTimer = c.r.ScheduleTimer(half, func() {
		if c.state != StateFinished {
			return
		}
		c.Stats.Renews++
		c.state = StateRenewing
		c.sendRequest(true)
		c.renewRequestTimer = c.r.ScheduleTimer(c.RenewRequestInterval, c.onRenewRequestFire)
		remaining := lease - half
		c.leaseTimer = c.r.ScheduleTimer(remaining, c.onLeaseExpire)
	})
}

func (c *Client) onRenewRequestFire() {
	if c.state != StateRenewing {
		return
	}
	c.sendRequest(true)
	c.renewRequestTimer = c.r.ScheduleTimer(c.RenewRequestInterval, c.onRenewRequestFire)
}

func (c *Client) onLeaseExpire() {
	if c.state != StateRenewing {
		return
	}
	if c.onDown != nil {
		c.onDown()
	}
	c.lease = Lease{}
	c.startProcess(true)
}

func (c *Client) handleNak(pkt *Packet) {
	c.Stats.NaksReceived++
	switch c.state {
	case StateSentRequest:
		c.r.CancelTimer(c.requestTimer)
		c.enterResetting()

	case StateFinished, StateRenewing:
		c.cancelAllTimers()
		if c.onDown != nil {
			c.onDown()
		}
		c.lease = Lease{}
		c.enterResetting()
	}
}

// State returns the client's current state.
func (c *Client) State() State { return c.state }

// GetIP returns the currently leased address. Valid only while State is
// FINISHED or RENEWING.
func (c *Client) GetIP() [4]byte { return c.lease.Addr }

// GetMask returns the currently leased subnet mask.
func (c *Client) GetMask() [4]byte { return c.lease.Mask }

// GetRouter returns the default router, if one was offered.
func (c *Client) GetRouter() ([4]byte, bool) { return c.lease.Router, c.lease.HasRouter }

// GetDNS copies up to len(out) DNS server addresses into out, returning
// the count copied.
func (c *Client) GetDNS(out [][4]byte) int {
	n := copy(out, c.lease.DNS)
	return n
}

// GetServerMAC returns the server's Ethernet address as learned via the
// getServerMAC callback at ACK time.
func (c *Client) GetServerMAC() [6]byte { return c.lease.ServerMAC }

func bytesEqual4(a, b []byte) bool {
	if len(a) != 4 || len(b) != 4 {
		return false
	}
	return a[0] == b[0] && a[1] == b[1] && a[2] == b[2] && a[3] == b[3]
}

func bytesEqual4FromIP(a, b [4]byte) bool {
	return a == b
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
