package framedecider

import (
	"testing"
	"time"
)

func mac(b ...byte) [6]byte {
	var m [6]byte
	copy(m[:], b)
	return m
}

func ethernetFrame(dst, src [6]byte, etype uint16, payload []byte) []byte {
	f := make([]byte, 14+len(payload))
	copy(f[0:6], dst[:])
	copy(f[6:12], src[:])
	f[12] = byte(etype >> 8)
	f[13] = byte(etype)
	copy(f[14:], payload)
	return f
}

func ipv4Payload(proto uint8, src, dst [4]byte, body []byte) []byte {
	hdr := make([]byte, 20)
	hdr[0] = 0x45
	total := 20 + len(body)
	hdr[2] = byte(total >> 8)
	hdr[3] = byte(total)
	hdr[9] = proto
	copy(hdr[12:16], src[:])
	copy(hdr[16:20], dst[:])
	return append(hdr, body...)
}

func igmpV2Report(group [4]byte) []byte {
	b := make([]byte, 8)
	b[0] = igmpV2Report
	copy(b[4:8], group[:])
	return b
}

func defaultDecider() *FrameDecider {
	return New(Config{
		MaxPeerMACs:   4,
		MaxPeerGroups: 4,
		GMI:           10 * time.Second,
		LMQT:          1 * time.Second,
	})
}

func TestScenarioABroadcastFlood(t *testing.T) {
	d := defaultDecider()
	p1 := d.NewPeer("p1")
	p2 := d.NewPeer("p2")
	p3 := d.NewPeer("p3")

	now := time.Unix(0, 0)
	src := mac(0x02, 0, 0, 0, 0, 1)
	dst := mac(0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	frame := ethernetFrame(dst, src, 0x0800, ipv4Payload(17, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, []byte("x")))

	d.AnalyzeIngress(p1, frame, now)
	d.AnalyzeAndDecide(frame, now)

	var got []*Peer
	for {
		p, ok := d.NextDestination()
		if !ok {
			break
		}
		got = append(got, p)
	}

	if len(got) != 3 || got[0] != p1 || got[1] != p2 || got[2] != p3 {
		t.Fatalf("flood destinations = %v; want [p1 p2 p3]", got)
	}
	if _, ok := d.NextDestination(); ok {
		t.Fatalf("NextDestination after exhaustion: expected ok=false")
	}

	owner, ok := d.LookupMAC(src)
	if !ok || owner != p1 {
		t.Fatalf("LookupMAC(src) owner = %v, %v; want p1, true", owner, ok)
	}
}

func TestScenarioBMulticastDeliver(t *testing.T) {
	d := defaultDecider()
	p1 := d.NewPeer("p1")
	p2 := d.NewPeer("p2")
	d.NewPeer("p3") // present but not a listener of either group

	now := time.Unix(0, 0)

	group1 := [4]byte{224, 1, 2, 3}
	reportMAC1 := mac(0x01, 0x00, 0x5E, 0x01, 0x02, 0x03)
	frame1 := ethernetFrame(reportMAC1, mac(0xAA, 0, 0, 0, 0, 1), 0x0800,
		ipv4Payload(2, [4]byte{10, 0, 0, 1}, group1, igmpV2Report(group1)))
	d.AnalyzeIngress(p1, frame1, now)

	group2 := [4]byte{225, 129, 2, 3}
	reportMAC2 := mac(0x01, 0x00, 0x5E, 0x01, 0x02, 0x03) // sig collides with group1
	frame2 := ethernetFrame(reportMAC2, mac(0xAA, 0, 0, 0, 0, 2), 0x0800,
		ipv4Payload(2, [4]byte{10, 0, 0, 2}, group2, igmpV2Report(group2)))
	d.AnalyzeIngress(p2, frame2, now)

	// A frame to 01:00:5E:01:02:03 (sig=0x010203) should reach both listeners.
	deliverFrame := ethernetFrame(mac(0x01, 0x00, 0x5E, 0x01, 0x02, 0x03), mac(0, 0, 0, 0, 0, 9), 0x0800,
		ipv4Payload(17, [4]byte{10, 0, 0, 9}, [4]byte{224, 1, 2, 3}, []byte("y")))
	d.AnalyzeAndDecide(deliverFrame, now)

	seen := map[*Peer]bool{}
	for {
		p, ok := d.NextDestination()
		if !ok {
			break
		}
		seen[p] = true
	}
	if len(seen) != 2 || !seen[p1] || !seen[p2] {
		t.Fatalf("multicast destinations = %v; want {p1, p2}", seen)
	}

	// A frame to a different sig with no listeners yields zero destinations.
	noListenersFrame := ethernetFrame(mac(0x01, 0x00, 0x5E, 0x00, 0x02, 0x03), mac(0, 0, 0, 0, 0, 9), 0x0800,
		ipv4Payload(17, [4]byte{10, 0, 0, 9}, [4]byte{224, 0, 2, 3}, []byte("z")))
	d.AnalyzeAndDecide(noListenersFrame, now)
	if _, ok := d.NextDestination(); ok {
		t.Fatalf("expected zero destinations for sig with no listeners")
	}
}

func TestMaxPeerMACsRetainsMostRecentOnly(t *testing.T) {
	d := New(Config{MaxPeerMACs: 1, MaxPeerGroups: 1, GMI: time.Second, LMQT: time.Second})
	p1 := d.NewPeer("p1")

	now := time.Unix(0, 0)
	first := mac(2, 0, 0, 0, 0, 1)
	second := mac(2, 0, 0, 0, 0, 2)

	d.AnalyzeIngress(p1, ethernetFrame(broadcastSlice(), first, 0x0800, ipv4Payload(17, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, nil)), now)
	d.AnalyzeIngress(p1, ethernetFrame(broadcastSlice(), second, 0x0800, ipv4Payload(17, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, nil)), now)

	if _, ok := d.LookupMAC(first); ok {
		t.Fatalf("expected first MAC to have been evicted")
	}
	owner, ok := d.LookupMAC(second)
	if !ok || owner != p1 {
		t.Fatalf("LookupMAC(second) = %v, %v; want p1, true", owner, ok)
	}
}

func broadcastSlice() [6]byte {
	return mac(0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
}
