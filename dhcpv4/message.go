package dhcpv4

import "encoding/binary"

// buildMessage constructs a DISCOVER or REQUEST packet per spec.md's
// message construction rules. reqIP, when non-nil, adds
// RequestedIPAddress; includeServerID adds the ServerIdentifier learned
// from the OFFER (omitted while renewing).
func (c *Client) buildMessage(msgType byte, reqIP *[4]byte, includeServerID bool) *Packet {
	p := &Packet{
		Op:    opBootRequest,
		Htype: htypeEthernet,
		Hlen:  hlenEthernet,
		Xid:   c.xid,
	}
	copy(p.Chaddr[:6], c.clientMAC[:])

	p.Options = append(p.Options, Option{Type: optMessageType, Value: []byte{msgType}})

	maxMsgSize := make([]byte, 2)
	binary.BigEndian.PutUint16(maxMsgSize, uint16(c.mtu+28))
	p.Options = append(p.Options, Option{Type: optMaxMessageSize, Value: maxMsgSize})

	p.Options = append(p.Options, Option{
		Type:  optParameterRequestList,
		Value: []byte{optSubnetMask, optRouter, optDNSServers, optLeaseTime},
	})

	if reqIP != nil {
		p.Options = append(p.Options, Option{Type: optRequestedIPAddress, Value: reqIP[:]})
	}
	if includeServerID {
		p.Options = append(p.Options, Option{Type: optServerIdentifier, Value: c.offeredServerID[:]})
	}

	if c.opts.Hostname != "" {
		p.Options = append(p.Options, Option{Type: optHostname, Value: []byte(c.opts.Hostname)})
	}
	if c.opts.VendorClassID != "" {
		p.Options = append(p.Options, Option{Type: optVendorClassID, Value: []byte(c.opts.VendorClassID)})
	}
	if len(c.opts.ClientID) > 0 {
		p.Options = append(p.Options, Option{Type: optClientID, Value: c.opts.ClientID})
	}

	return p
}
