package framedecider

import "go.badvpn.dev/relaycore/ordermap"

const (
	ethHeaderLen  = 14
	ethTypeIPv4   = 0x0800
	ipProtoIGMP   = 2
	multicastOUI0 = 0x01
	multicastOUI1 = 0x00
	multicastOUI2 = 0x5e
)

var broadcastMAC = ordermap.MACKey{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// sigFromIPv4 extracts the low 23 bits of an IPv4 address packed
// big-endian into a uint32 (as produced by packIPv4) — the bits the
// Ethernet multicast mapping preserves.
func sigFromIPv4(ip uint32) uint32 {
	return ip & 0x7FFFFF
}

// sigFromMulticastMAC extracts the same 23 bits from the low three bytes
// of an 01:00:5E multicast MAC address.
func sigFromMulticastMAC(mac ordermap.MACKey) uint32 {
	return (uint32(mac[3]&0x7F) << 16) | (uint32(mac[4]) << 8) | uint32(mac[5])
}

func isMulticastMAC(mac ordermap.MACKey) bool {
	return mac[0] == multicastOUI0 && mac[1] == multicastOUI1 && mac[2] == multicastOUI2
}

func packIPv4(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

type ethernetHeader struct {
	dst, src ordermap.MACKey
	etype    uint16
}

func parseEthernetHeader(frame []byte) (ethernetHeader, bool) {
	if len(frame) < ethHeaderLen {
		return ethernetHeader{}, false
	}
	var h ethernetHeader
	copy(h.dst[:], frame[0:6])
	copy(h.src[:], frame[6:12])
	h.etype = uint16(frame[12])<<8 | uint16(frame[13])
	return h, true
}

// ipv4Header is the subset of an IPv4 header the decider needs: protocol
// number and the offset where the payload begins (accounting for IHL and
// options).
type ipv4Header struct {
	protocol   uint8
	src, dst   uint32
	payloadOff int
}

func parseIPv4Header(b []byte) (ipv4Header, bool) {
	if len(b) < 20 {
		return ipv4Header{}, false
	}
	ihl := int(b[0]&0x0F) * 4
	if ihl < 20 || len(b) < ihl {
		return ipv4Header{}, false
	}
	return ipv4Header{
		protocol:   b[9],
		src:        packIPv4(b[12:16]),
		dst:        packIPv4(b[16:20]),
		payloadOff: ihl,
	}, true
}
