package framedecider

import (
	"time"

	"go.badvpn.dev/relaycore/ordermap"
)

// AnalyzeIngress inspects a frame received from peer. It updates the
// peer's learned MAC table from the Ethernet source address and, for
// IGMP Membership Reports, the peer's multicast group memberships.
// Malformed frames are silently dropped; this method never fails
// observably.
func (d *FrameDecider) AnalyzeIngress(p *Peer, frame []byte, now time.Time) {
	hdr, ok := parseEthernetHeader(frame)
	if !ok {
		return
	}
	p.learn(hdr.src)

	if hdr.etype != ethTypeIPv4 {
		return
	}
	ip, ok := parseIPv4Header(frame[ethHeaderLen:])
	if !ok || ip.protocol != ipProtoIGMP {
		return
	}
	igmpPayload := frame[ethHeaderLen+ip.payloadOff:]
	msg, ok := parseIGMP(igmpPayload)
	if !ok {
		return
	}

	if msg.isGroupSpecificQuery() {
		d.LowerGroupTimers(msg.v2GroupAddr, now)
		return
	}

	for _, g := range msg.membershipGroups() {
		p.addGroup(g, now)
	}
}

// AnalyzeAndDecide classifies a frame originating from the local
// TAP/tun-like device, producing an iteration state drained by
// NextDestination. Re-calling before the previous iteration is exhausted
// cancels and restarts it.
func (d *FrameDecider) AnalyzeAndDecide(frame []byte, now time.Time) {
	hdr, ok := parseEthernetHeader(frame)
	if !ok {
		d.decision = decisionState{mode: decisionNone}
		return
	}

	isIGMP := false
	if hdr.etype == ethTypeIPv4 {
		if ip, ok := parseIPv4Header(frame[ethHeaderLen:]); ok && ip.protocol == ipProtoIGMP {
			if msg, ok := parseIGMP(frame[ethHeaderLen+ip.payloadOff:]); ok {
				isIGMP = true
				if msg.isGroupSpecificQuery() {
					d.LowerGroupTimers(msg.v2GroupAddr, now)
				}
			}
		}
	}

	switch {
	case isIGMP || hdr.dst == broadcastMAC:
		d.decision = decisionState{mode: decisionFlood, floodIdx: 0, floodLimit: len(d.peers)}

	case isMulticastMAC(hdr.dst):
		sig := sigFromMulticastMAC(hdr.dst)
		master, ok := d.sigMap.Get(sig)
		if !ok {
			d.decision = decisionState{mode: decisionMulticast, mcDone: true}
			return
		}
		d.decision = decisionState{mode: decisionMulticast, mcStart: master, mcCursor: master}

	default:
		owner, ok := d.macMap.Get(ordermap.MACKey(hdr.dst))
		if !ok {
			d.decision = decisionState{mode: decisionFlood, floodIdx: 0, floodLimit: len(d.peers)}
			return
		}
		d.decision = decisionState{mode: decisionUnicast, unicastTarget: owner.peer}
	}
}

// NextDestination advances the classification iterator, returning the
// next peer to receive the frame, or ok=false when exhausted.
func (d *FrameDecider) NextDestination() (*Peer, bool) {
	ds := &d.decision
	switch ds.mode {
	case decisionFlood:
		if ds.floodIdx >= ds.floodLimit {
			return nil, false
		}
		p := d.peers[ds.floodIdx]
		ds.floodIdx++
		return p, true

	case decisionMulticast:
		if ds.mcDone {
			return nil, false
		}
		s := ds.mcCursor.peer.groupSlotAt(ds.mcCursor.idx)
		p := ds.mcCursor.peer
		next := s.sibNext
		if !ds.mcStarted {
			ds.mcStarted = true
		}
		if next == ds.mcStart {
			ds.mcDone = true
		} else {
			ds.mcCursor = next
		}
		return p, true

	case decisionUnicast:
		if ds.unicastDone {
			return nil, false
		}
		ds.unicastDone = true
		return ds.unicastTarget, true

	default:
		return nil, false
	}
}
