// Package dhcpv4 implements the DHCPv4 client state machine: a
// retry/renew/rebind core that acquires and maintains an IPv4 lease over
// the packetio abstraction. Wire encoding/decoding is hand-rolled
// (no gvisor/tcpip dependency, unlike the teacher's client), since this
// module owns no TCP/IP stack of its own.
package dhcpv4

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DHCP op codes (RFC 2131).
const (
	opBootRequest = 1
	opBootReply   = 2

	htypeEthernet = 1
	hlenEthernet  = 6

	magicCookie = 0x63825363

	dhcpHeaderLen = 236 // up through file[128], excluding the 4-byte magic cookie
)

// DHCP message types (option 53 values).
const (
	MsgDiscover = 1
	MsgOffer    = 2
	MsgRequest  = 3
	MsgDecline  = 4
	MsgAck      = 5
	MsgNak      = 6
	MsgRelease  = 7
	MsgInform   = 8
)

// DHCP option codes this client recognizes or emits.
const (
	optSubnetMask           = 1
	optRouter               = 3
	optDNSServers           = 6
	optHostname             = 12
	optRequestedIPAddress   = 50
	optLeaseTime            = 51
	optMessageType          = 53
	optServerIdentifier     = 54
	optParameterRequestList = 55
	optMaxMessageSize       = 57
	optVendorClassID        = 60
	optClientID             = 61
	optEnd                  = 255
)

const clientPort = 68
const serverPort = 67

// Option is a single DHCP TLV option.
type Option struct {
	Type  byte
	Value []byte
}

// Packet is a DHCP-over-BOOTP message.
type Packet struct {
	Op     byte
	Htype  byte
	Hlen   byte
	Hops   byte
	Xid    uint32
	Secs   uint16
	Flags  uint16
	Ciaddr [4]byte
	Yiaddr [4]byte
	Siaddr [4]byte
	Giaddr [4]byte
	Chaddr [16]byte

	Options []Option
}

// Marshal serializes p, appending the terminating End option.
func (p *Packet) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(p.Op)
	buf.WriteByte(p.Htype)
	buf.WriteByte(p.Hlen)
	buf.WriteByte(p.Hops)

	var xid [4]byte
	binary.BigEndian.PutUint32(xid[:], p.Xid)
	buf.Write(xid[:])

	var secs, flags [2]byte
	binary.BigEndian.PutUint16(secs[:], p.Secs)
	binary.BigEndian.PutUint16(flags[:], p.Flags)
	buf.Write(secs[:])
	buf.Write(flags[:])

	buf.Write(p.Ciaddr[:])
	buf.Write(p.Yiaddr[:])
	buf.Write(p.Siaddr[:])
	buf.Write(p.Giaddr[:])
	buf.Write(p.Chaddr[:])

	buf.Write(make([]byte, 64))  // sname
	buf.Write(make([]byte, 128)) // file

	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], magicCookie)
	buf.Write(cookie[:])

	for _, opt := range p.Options {
		buf.WriteByte(opt.Type)
		buf.WriteByte(byte(len(opt.Value)))
		buf.Write(opt.Value)
	}
	buf.WriteByte(optEnd)

	return buf.Bytes()
}

// Unmarshal parses data into p, validating the fixed header and option
// framing (magic cookie, End option present). It does not validate op,
// htype, hlen, xid, or chaddr against an expected client identity — the
// Client does that at a higher layer, per the message validation rules.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < dhcpHeaderLen+4 {
		return nil, fmt.Errorf("dhcpv4: packet too short: %d bytes", len(data))
	}
	p := &Packet{}
	r := bytes.NewReader(data)

	readByte := func() byte {
		b, _ := r.ReadByte()
		return b
	}
	p.Op = readByte()
	p.Htype = readByte()
	p.Hlen = readByte()
	p.Hops = readByte()

	var xid [4]byte
	r.Read(xid[:])
	p.Xid = binary.BigEndian.Uint32(xid[:])

	var secs, flags [2]byte
	r.Read(secs[:])
	r.Read(flags[:])
	p.Secs = binary.BigEndian.Uint16(secs[:])
	p.Flags = binary.BigEndian.Uint16(flags[:])

	r.Read(p.Ciaddr[:])
	r.Read(p.Yiaddr[:])
	r.Read(p.Siaddr[:])
	r.Read(p.Giaddr[:])
	r.Read(p.Chaddr[:])

	sname := make([]byte, 64)
	file := make([]byte, 128)
	r.Read(sname)
	r.Read(file)

	var cookie [4]byte
	r.Read(cookie[:])
	if binary.BigEndian.Uint32(cookie[:]) != magicCookie {
		return nil, fmt.Errorf("dhcpv4: bad magic cookie")
	}

	opts, err := parseOptions(r)
	if err != nil {
		return nil, err
	}
	p.Options = opts
	return p, nil
}

func parseOptions(r *bytes.Reader) ([]Option, error) {
	var opts []Option
	sawEnd := false
	for r.Len() > 0 {
		t, err := r.ReadByte()
		if err != nil {
			break
		}
		if t == 0 { // pad
			continue
		}
		if t == optEnd {
			sawEnd = true
			break
		}
		l, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("dhcpv4: truncated option %d", t)
		}
		v := make([]byte, l)
		if n, _ := r.Read(v); n != int(l) {
			return nil, fmt.Errorf("dhcpv4: truncated option %d value", t)
		}
		opts = append(opts, Option{Type: t, Value: v})
	}
	if !sawEnd {
		return nil, fmt.Errorf("dhcpv4: missing End option")
	}
	return opts, nil
}

// FindOption returns the first option of the given type, if present.
func FindOption(opts []Option, t byte) ([]byte, bool) {
	for _, o := range opts {
		if o.Type == t {
			return o.Value, true
		}
	}
	return nil, false
}
