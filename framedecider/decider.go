package framedecider

import (
	"time"

	"go.badvpn.dev/relaycore/ordermap"
)

// decisionMode tags the kind of destination set an AnalyzeAndDecide call
// produced.
type decisionMode int

const (
	decisionNone decisionMode = iota
	decisionFlood
	decisionMulticast
	decisionUnicast
)

type decisionState struct {
	mode decisionMode

	// FLOOD: snapshot cursor/limit into d.peers at classification time.
	floodIdx   int
	floodLimit int

	// MULTICAST: circular-list walk starting at the master slot.
	mcStart   slotHandle
	mcCursor  slotHandle
	mcStarted bool
	mcDone    bool

	// UNICAST: single target, yielded once.
	unicastTarget *Peer
	unicastDone   bool
}

// FrameDecider learns peer MAC addresses and IGMP multicast memberships
// and classifies outbound frames into a peer destination set. It performs
// no I/O; callers drive time forward explicitly via ExpireAt.
type FrameDecider struct {
	maxPeerMACs   int
	maxPeerGroups int
	gmi           time.Duration // Group Membership Interval
	lmqt          time.Duration // Last Member Query Time

	nextSeq uint64
	peers   []*Peer

	macMap *ordermap.Map[ordermap.MACKey, *macOwner]
	sigMap *ordermap.Map[uint32, slotHandle] // sig -> master slot handle

	decision decisionState
}

type macOwner struct {
	peer *Peer
	idx  int
}

// Config bundles the constructor parameters for a FrameDecider.
type Config struct {
	MaxPeerMACs   int
	MaxPeerGroups int
	GMI           time.Duration
	LMQT          time.Duration
}

// New builds a FrameDecider with the given per-peer arena capacities and
// IGMP timing parameters.
func New(cfg Config) *FrameDecider {
	return &FrameDecider{
		maxPeerMACs:   cfg.MaxPeerMACs,
		maxPeerGroups: cfg.MaxPeerGroups,
		gmi:           cfg.GMI,
		lmqt:          cfg.LMQT,
		macMap:        ordermap.New[ordermap.MACKey, *macOwner](ordermap.LessMACKey),
		sigMap:        ordermap.New[uint32, slotHandle](func(a, b uint32) bool { return a < b }),
	}
}

// NewPeer registers a new peer, identified to the caller by user.
func (d *FrameDecider) NewPeer(user interface{}) *Peer {
	d.nextSeq++
	p := newPeer(d, d.nextSeq, user)
	p.listIdx = len(d.peers)
	d.peers = append(d.peers, p)
	return p
}

// FreePeer evicts every entry the peer owns and removes it from the peer
// list, adjusting any in-flight decision iterator per the cancellation
// semantics in spec.md §5.
func (d *FrameDecider) FreePeer(p *Peer) {
	for idx := p.macUsedHead; idx != noIndex; {
		next := p.macs[idx].next
		d.macMap.Delete(p.macs[idx].mac)
		idx = next
	}
	for idx := p.groupUsedHead; idx != noIndex; {
		next := p.groups[idx].next
		d.removeGroupSlot(p, idx)
		idx = next
	}

	removedIdx := p.listIdx
	d.peers = append(d.peers[:removedIdx], d.peers[removedIdx+1:]...)
	for i := removedIdx; i < len(d.peers); i++ {
		d.peers[i].listIdx = i
	}

	ds := &d.decision
	switch ds.mode {
	case decisionFlood:
		if removedIdx < ds.floodIdx {
			ds.floodIdx--
		}
		if removedIdx < ds.floodLimit {
			ds.floodLimit--
		}
	case decisionUnicast:
		if ds.unicastTarget == p {
			ds.mode = decisionNone
		}
	}
}

// learn implements the ingress-learning algorithm for a source MAC.
func (p *Peer) learn(mac ordermap.MACKey) {
	d := p.decider

	if idx, ok := p.macByAddr[mac]; ok {
		p.macTouchMRU(idx)
		return
	}

	if owner, ok := d.macMap.Get(mac); ok {
		if owner.peer != p {
			owner.peer.macUsedUnlink(owner.idx)
			delete(owner.peer.macByAddr, mac)
			owner.peer.macPushFree(owner.idx)
			d.macMap.Delete(mac)
		} else {
			p.macTouchMRU(owner.idx)
			return
		}
	}

	idx, ok := p.macAllocFree()
	if !ok {
		idx = p.macUsedHead
		evictedMAC := p.macs[idx].mac
		p.macUsedUnlink(idx)
		delete(p.macByAddr, evictedMAC)
		d.macMap.Delete(evictedMAC)
	}

	p.macs[idx].used = true
	p.macs[idx].mac = mac
	p.macUsedPushMRU(idx)
	p.macByAddr[mac] = idx
	d.macMap.Set(mac, &macOwner{peer: p, idx: idx})
}

// addGroup implements add_group: create or refresh a group membership for
// group (an IPv4 multicast address packed into a uint32), resetting its
// expiry to now+GMI.
func (p *Peer) addGroup(group uint32, now time.Time) {
	d := p.decider
	sig := sigFromIPv4(group)

	if idx, ok := p.groupByAddr.Get(group); ok {
		p.groupTouchMRU(idx)
		p.groups[idx].expiry = now.Add(d.gmi)
		return
	}

	idx, ok := p.groupAllocFree()
	if !ok {
		idx = p.groupUsedHead
		d.removeGroupSlot(p, idx)
		idx, ok = p.groupAllocFree()
		if !ok {
			return // arena capacity is 0; nothing to allocate into
		}
	}

	p.groups[idx] = groupSlot{
		used:   true,
		group:  group,
		sig:    sig,
		expiry: now.Add(d.gmi),
	}
	p.groupUsedPushMRU(idx)
	p.groupByAddr.Set(group, idx)
	d.linkNewGroupIntoSig(p, idx, sig)
}

// linkNewGroupIntoSig implements multicast-master maintenance for a
// freshly allocated group-entry: if a master exists for sig, splice this
// entry into its sibling list as non-master; otherwise this entry becomes
// the master.
func (d *FrameDecider) linkNewGroupIntoSig(p *Peer, idx int, sig uint32) {
	h := slotHandle{peer: p, idx: idx}
	master, ok := d.sigMap.Get(sig)
	if !ok {
		p.groups[idx].isMaster = true
		p.groups[idx].sibPrev = h
		p.groups[idx].sibNext = h
		d.sigMap.Set(sig, h)
		return
	}

	ms := master.peer.groupSlotAt(master.idx)
	tail := ms.sibPrev
	ts := tail.peer.groupSlotAt(tail.idx)

	p.groups[idx].sibPrev = tail
	p.groups[idx].sibNext = master
	ts.sibNext = h
	ms.sibPrev = h
}

func (p *Peer) groupSlotAt(idx int) *groupSlot {
	return &p.groups[idx]
}

// removeGroupSlot frees a group-entry, unlinking it from both the
// per-peer LRU list and the cross-peer sibling list, promoting a new
// master if the removed entry was one.
func (d *FrameDecider) removeGroupSlot(p *Peer, idx int) {
	s := &p.groups[idx]
	h := slotHandle{peer: p, idx: idx}

	d.adjustMulticastCursor(h)

	if s.isMaster {
		d.sigMap.Delete(s.sig)
		if s.sibNext != h {
			next := s.sibNext
			ns := next.peer.groupSlotAt(next.idx)
			ns.isMaster = true
			d.sigMap.Set(s.sig, next)
		}
	}
	if s.sibNext != h {
		prev, next := s.sibPrev, s.sibNext
		ps := prev.peer.groupSlotAt(prev.idx)
		ns := next.peer.groupSlotAt(next.idx)
		ps.sibNext = next
		ns.sibPrev = prev
	}

	p.groupUsedUnlink(idx)
	p.groupByAddr.Delete(s.group)
	p.groupPushFree(idx)
}

// adjustMulticastCursor advances an in-flight multicast iteration if its
// cursor currently points at the slot about to be removed.
func (d *FrameDecider) adjustMulticastCursor(removed slotHandle) {
	ds := &d.decision
	if ds.mode != decisionMulticast || ds.mcDone {
		return
	}
	if ds.mcCursor == removed {
		s := removed.peer.groupSlotAt(removed.idx)
		ds.mcCursor = s.sibNext
		if ds.mcCursor == removed || ds.mcCursor == ds.mcStart {
			ds.mcDone = true
		}
	}
	if ds.mcStart == removed {
		ds.mcDone = true
	}
}

// ExpireAt removes every group entry whose expiry has passed. Callers
// drive this from a reactor timer; FrameDecider performs no I/O itself.
func (d *FrameDecider) ExpireAt(now time.Time) {
	for _, p := range d.peers {
		idx := p.groupUsedHead
		for idx != noIndex {
			next := p.groups[idx].next
			if !p.groups[idx].expiry.After(now) {
				d.removeGroupSlot(p, idx)
			}
			idx = next
		}
	}
}

// LookupMAC reports the peer currently owning mac, if any.
func (d *FrameDecider) LookupMAC(mac [6]byte) (*Peer, bool) {
	owner, ok := d.macMap.Get(ordermap.MACKey(mac))
	if !ok {
		return nil, false
	}
	return owner.peer, true
}

// LowerGroupTimers implements the Group-Specific Query effect: every
// group-entry matching group has its expiry reduced to now+LMQT unless it
// is already earlier.
func (d *FrameDecider) LowerGroupTimers(group uint32, now time.Time) {
	target := now.Add(d.lmqt)
	for _, p := range d.peers {
		if idx, ok := p.groupByAddr.Get(group); ok {
			if target.Before(p.groups[idx].expiry) {
				p.groups[idx].expiry = target
			}
		}
	}
}
