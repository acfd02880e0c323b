// Package framedecider implements the Ethernet-frame forwarding oracle: it
// learns peer MAC addresses and IGMP multicast group memberships and
// decides, per frame, which peers must receive it. It performs no I/O.
package framedecider

import (
	"time"

	"go.badvpn.dev/relaycore/ordermap"
)

const noIndex = -1

type macSlot struct {
	used       bool
	mac        ordermap.MACKey
	prev, next int
}

type groupSlot struct {
	used     bool
	group    uint32 // IPv4 multicast address, network byte order packed into a uint32
	sig      uint32 // low 23 bits, the Ethernet-multicast-preserved bits
	expiry   time.Time
	isMaster bool
	prev, next int // peer-local LRU links

	// sibPrev/sibNext thread a decider-global doubly linked circular list
	// of every group-entry sharing sig, rooted at the master. They are
	// slotHandles (owning *Peer, slot index) so the list can span peers.
	sibPrev, sibNext slotHandle
}

// slotHandle addresses a group slot belonging to a specific peer.
type slotHandle struct {
	peer *Peer
	idx  int
}

func (h slotHandle) valid() bool { return h.peer != nil }

// Peer is the caller-visible handle for a VPN-bus participant. It owns two
// fixed-capacity arenas (MAC entries, group entries) whose used-list order
// encodes LRU, per the reference's arena+stable-indices model.
type Peer struct {
	User interface{}

	decider *FrameDecider
	seq     uint64 // registration sequence number, assigned by NewPeer
	listIdx int     // current index into decider.peers

	macs        []macSlot
	macFreeHead int
	macUsedHead int
	macUsedTail int
	macByAddr   map[ordermap.MACKey]int

	groups        []groupSlot
	groupFreeHead int
	groupUsedHead int
	groupUsedTail int
	groupByAddr   *ordermap.Map[uint32, int]
}

func newPeer(d *FrameDecider, seq uint64, user interface{}) *Peer {
	p := &Peer{
		User:          user,
		decider:       d,
		seq:           seq,
		macs:          make([]macSlot, d.maxPeerMACs),
		macFreeHead:   0,
		macUsedHead:   noIndex,
		macUsedTail:   noIndex,
		macByAddr:     make(map[ordermap.MACKey]int),
		groups:        make([]groupSlot, d.maxPeerGroups),
		groupFreeHead: 0,
		groupUsedHead: noIndex,
		groupUsedTail: noIndex,
		groupByAddr:   ordermap.New[uint32, int](func(a, b uint32) bool { return a < b }),
	}
	for i := range p.macs {
		p.macs[i].prev = i - 1
		p.macs[i].next = i + 1
	}
	if len(p.macs) > 0 {
		p.macs[len(p.macs)-1].next = noIndex
	} else {
		p.macFreeHead = noIndex
	}
	for i := range p.groups {
		p.groups[i].prev = i - 1
		p.groups[i].next = i + 1
	}
	if len(p.groups) > 0 {
		p.groups[len(p.groups)-1].next = noIndex
	} else {
		p.groupFreeHead = noIndex
	}
	return p
}

// --- MAC arena list operations ---

func (p *Peer) macAllocFree() (int, bool) {
	if p.macFreeHead == noIndex {
		return 0, false
	}
	idx := p.macFreeHead
	p.macFreeHead = p.macs[idx].next
	return idx, true
}

func (p *Peer) macPushFree(idx int) {
	p.macs[idx].used = false
	p.macs[idx].next = p.macFreeHead
	p.macFreeHead = idx
}

func (p *Peer) macUsedUnlink(idx int) {
	s := &p.macs[idx]
	if s.prev != noIndex {
		p.macs[s.prev].next = s.next
	} else {
		p.macUsedHead = s.next
	}
	if s.next != noIndex {
		p.macs[s.next].prev = s.prev
	} else {
		p.macUsedTail = s.prev
	}
}

func (p *Peer) macUsedPushMRU(idx int) {
	s := &p.macs[idx]
	s.prev = p.macUsedTail
	s.next = noIndex
	if p.macUsedTail != noIndex {
		p.macs[p.macUsedTail].next = idx
	} else {
		p.macUsedHead = idx
	}
	p.macUsedTail = idx
}

func (p *Peer) macTouchMRU(idx int) {
	p.macUsedUnlink(idx)
	p.macUsedPushMRU(idx)
}

// --- group arena list operations (peer-local LRU list, independent of the
// cross-peer sibling list threaded through sibPrev/sibNext) ---

func (p *Peer) groupAllocFree() (int, bool) {
	if p.groupFreeHead == noIndex {
		return 0, false
	}
	idx := p.groupFreeHead
	p.groupFreeHead = p.groups[idx].next
	return idx, true
}

func (p *Peer) groupPushFree(idx int) {
	p.groups[idx].used = false
	p.groups[idx].next = p.groupFreeHead
	p.groupFreeHead = idx
}

func (p *Peer) groupUsedUnlink(idx int) {
	s := &p.groups[idx]
	if s.prev != noIndex {
		p.groups[s.prev].next = s.next
	} else {
		p.groupUsedHead = s.next
	}
	if s.next != noIndex {
		p.groups[s.next].prev = s.prev
	} else {
		p.groupUsedTail = s.prev
	}
}

func (p *Peer) groupUsedPushMRU(idx int) {
	s := &p.groups[idx]
	s.prev = p.groupUsedTail
	s.next = noIndex
	if p.groupUsedTail != noIndex {
		p.groups[p.groupUsedTail].next = idx
	} else {
		p.groupUsedHead = idx
	}
	p.groupUsedTail = idx
}

func (p *Peer) groupTouchMRU(idx int) {
	p.groupUsedUnlink(idx)
	p.groupUsedPushMRU(idx)
}
