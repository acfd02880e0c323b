// Package udprelay implements the encrypted UDP relay: a SOCKS5-UDP demux
// on the local side and a cipher-wrapped forwarder on the remote side,
// each backed by an LRU-bounded cache of upstream sockets.
package udprelay

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Address type octets, per RFC 1928 (extended here to cover SOCKS5-UDP's
// reuse of the same ATYP values).
const (
	atypIPv4   = 1
	atypDomain = 3
	atypIPv6   = 4
)

// Endpoint is a parsed SOCKS5-UDP destination: either a concrete IP or an
// unresolved domain name, always paired with a port.
type Endpoint struct {
	ATYP   byte
	IP     net.IP // set when ATYP is atypIPv4 or atypIPv6
	Domain string // set when ATYP is atypDomain
	Port   uint16
}

// ErrFragmented is returned for a SOCKS5-UDP datagram with FRAG != 0;
// reassembly is out of scope, so the caller must drop the datagram.
var ErrFragmented = fmt.Errorf("udprelay: fragmented SOCKS5-UDP datagram")

// ErrMalformed covers every other header-framing failure: short buffer,
// unknown ATYP, truncated address or port, truncated domain name.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return "udprelay: malformed header: " + e.Reason }

// ParseClientHeader strips and validates the 3-byte RSV/FRAG prefix SOCKS5
// UDP datagrams carry, returning the inner ATYP‖ADDR‖PORT‖payload.
func ParseClientHeader(datagram []byte) (Endpoint, []byte, error) {
	if len(datagram) < 4 {
		return Endpoint{}, nil, &ErrMalformed{Reason: "shorter than RSV+FRAG+ATYP"}
	}
	if datagram[2] != 0 {
		return Endpoint{}, nil, ErrFragmented
	}
	return parseAddrHeader(datagram[3:])
}

// ComposeClientHeader rebuilds a SOCKS5-UDP datagram (RSV=0, FRAG=0,
// ATYP‖ADDR‖PORT‖payload) for delivery back to a local client.
func ComposeClientHeader(ep Endpoint, payload []byte) ([]byte, error) {
	addr, err := composeAddrHeader(ep)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 3+len(addr)+len(payload))
	out = append(out, 0, 0, 0)
	out = append(out, addr...)
	out = append(out, payload...)
	return out, nil
}

// parseAddrHeader parses ATYP‖ADDR‖PORT‖payload (the inner header shared
// by the SOCKS5-UDP framing and the shadowsocks encrypted envelope).
func parseAddrHeader(b []byte) (Endpoint, []byte, error) {
	if len(b) < 1 {
		return Endpoint{}, nil, &ErrMalformed{Reason: "missing ATYP"}
	}
	ep := Endpoint{ATYP: b[0]}
	rest := b[1:]

	switch ep.ATYP {
	case atypIPv4:
		if len(rest) < 4+2 {
			return Endpoint{}, nil, &ErrMalformed{Reason: "truncated IPv4 address"}
		}
		ep.IP = net.IP(append([]byte(nil), rest[:4]...))
		ep.Port = binary.BigEndian.Uint16(rest[4:6])
		return ep, rest[6:], nil

	case atypDomain:
		if len(rest) < 1 {
			return Endpoint{}, nil, &ErrMalformed{Reason: "missing domain length"}
		}
		n := int(rest[0])
		if len(rest) < 1+n+2 {
			return Endpoint{}, nil, &ErrMalformed{Reason: "truncated domain name"}
		}
		ep.Domain = string(rest[1 : 1+n])
		ep.Port = binary.BigEndian.Uint16(rest[1+n : 1+n+2])
		return ep, rest[1+n+2:], nil

	case atypIPv6:
		if len(rest) < 16+2 {
			return Endpoint{}, nil, &ErrMalformed{Reason: "truncated IPv6 address"}
		}
		ep.IP = net.IP(append([]byte(nil), rest[:16]...))
		ep.Port = binary.BigEndian.Uint16(rest[16:18])
		return ep, rest[18:], nil

	default:
		return Endpoint{}, nil, &ErrMalformed{Reason: fmt.Sprintf("unknown ATYP %d", ep.ATYP)}
	}
}

// composeAddrHeader is the inverse of parseAddrHeader.
func composeAddrHeader(ep Endpoint) ([]byte, error) {
	var out []byte
	switch ep.ATYP {
	case atypIPv4:
		ip4 := ep.IP.To4()
		if ip4 == nil {
			return nil, &ErrMalformed{Reason: "ATYP=1 endpoint has no IPv4 address"}
		}
		out = make([]byte, 0, 1+4+2)
		out = append(out, atypIPv4)
		out = append(out, ip4...)
	case atypDomain:
		if len(ep.Domain) > 255 {
			return nil, &ErrMalformed{Reason: "domain name longer than 255 bytes"}
		}
		out = make([]byte, 0, 1+1+len(ep.Domain)+2)
		out = append(out, atypDomain, byte(len(ep.Domain)))
		out = append(out, ep.Domain...)
	case atypIPv6:
		ip6 := ep.IP.To16()
		if ip6 == nil || ep.IP.To4() != nil {
			return nil, &ErrMalformed{Reason: "ATYP=4 endpoint has no IPv6 address"}
		}
		out = make([]byte, 0, 1+16+2)
		out = append(out, atypIPv6)
		out = append(out, ip6...)
	default:
		return nil, &ErrMalformed{Reason: fmt.Sprintf("unknown ATYP %d", ep.ATYP)}
	}
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], ep.Port)
	return append(out, port[:]...), nil
}

// EndpointFromUDPAddr builds an Endpoint carrying a concrete IP (ATYP 1 or
// 4, chosen by address family) from a resolved net.UDPAddr — used when
// re-composing the header from the sender of an upstream reply.
func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	if ip4 := addr.IP.To4(); ip4 != nil {
		return Endpoint{ATYP: atypIPv4, IP: ip4, Port: uint16(addr.Port)}
	}
	return Endpoint{ATYP: atypIPv6, IP: addr.IP.To16(), Port: uint16(addr.Port)}
}
