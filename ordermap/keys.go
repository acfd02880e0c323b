package ordermap

import "bytes"

// MACKey is a comparable 6-byte Ethernet hardware address, suitable as an
// ordermap.Map key.
type MACKey [6]byte

// NewMACKey copies a 6-byte slice into a MACKey.
func NewMACKey(b []byte) MACKey {
	var k MACKey
	copy(k[:], b)
	return k
}

// LessMACKey orders MACKey values lexicographically.
func LessMACKey(a, b MACKey) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// IPv4Key is a comparable 4-byte IPv4 address.
type IPv4Key [4]byte

func NewIPv4Key(b []byte) IPv4Key {
	var k IPv4Key
	copy(k[:], b)
	return k
}

func LessIPv4Key(a, b IPv4Key) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// EndpointKey identifies a relay cache entry by address family and raw
// sockaddr bytes, matching the reference cache's (family, sockaddr) key.
type EndpointKey struct {
	Family uint8
	Addr   [28]byte // sockaddr_in6 is the largest case; sockaddr_in is zero-padded
	Len    uint8
}

func LessEndpointKey(a, b EndpointKey) bool {
	if a.Family != b.Family {
		return a.Family < b.Family
	}
	if a.Len != b.Len {
		return a.Len < b.Len
	}
	return bytes.Compare(a.Addr[:a.Len], b.Addr[:b.Len]) < 0
}

// AFUnspec is a family sentinel distinct from both real families (4, 6)
// and "no override" (0): pass it as addrFamilyOverride to key an
// EndpointKey on AF_UNSPEC regardless of the address's actual shape, the
// way the remote-side relay keys its upstream cache by client source
// alone.
const AFUnspec uint8 = 0xff

// NewEndpointKey packs an IP+port pair into an EndpointKey, family 4 or 6
// selected by address shape. addrFamilyOverride, when non-zero, replaces
// the computed family (see AFUnspec).
func NewEndpointKey(ip []byte, port uint16, addrFamilyOverride uint8) EndpointKey {
	var k EndpointKey
	if ip4 := toV4(ip); ip4 != nil {
		k.Family = 4
		copy(k.Addr[0:4], ip4)
		k.Addr[4] = byte(port >> 8)
		k.Addr[5] = byte(port)
		k.Len = 6
	} else {
		k.Family = 6
		copy(k.Addr[0:16], ip)
		k.Addr[16] = byte(port >> 8)
		k.Addr[17] = byte(port)
		k.Len = 18
	}
	if addrFamilyOverride != 0 {
		k.Family = addrFamilyOverride
	}
	return k
}

func toV4(ip []byte) []byte {
	if len(ip) == 4 {
		return ip
	}
	if len(ip) == 16 && bytes.Equal(ip[:12], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}) {
		return ip[12:16]
	}
	return nil
}
