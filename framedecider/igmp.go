package framedecider

// IGMP message types (RFC 2236, RFC 3376).
const (
	igmpMembershipQuery   = 0x11
	igmpV1Report          = 0x12
	igmpV2Report          = 0x16
	igmpLeaveGroup        = 0x17
	igmpV3Report          = 0x22
)

// IGMPv3 group record types.
const (
	recModeIsInclude        = 1
	recModeIsExclude        = 2
	recChangeToIncludeMode  = 3
	recChangeToExcludeMode  = 4
	recAllowNewSources      = 5
	recBlockOldSources      = 6
)

type igmpMessage struct {
	msgType     uint8
	v2GroupAddr uint32 // valid for v1/v2 report, leave, and group-specific query
	v3Records   []igmpV3Record
}

type igmpV3Record struct {
	recordType uint8
	group      uint32
	numSources uint16
}

// parseIGMP parses the IGMP payload beginning at b (the IP payload, after
// the IPv4 header). Returns ok=false on any malformed input.
func parseIGMP(b []byte) (igmpMessage, bool) {
	if len(b) < 8 {
		return igmpMessage{}, false
	}
	msg := igmpMessage{msgType: b[0]}

	switch msg.msgType {
	case igmpMembershipQuery, igmpV1Report, igmpV2Report, igmpLeaveGroup:
		msg.v2GroupAddr = packIPv4(b[4:8])
		return msg, true
	case igmpV3Report:
		if len(b) < 8 {
			return igmpMessage{}, false
		}
		numRecords := int(b[6])<<8 | int(b[7])
		off := 8
		for i := 0; i < numRecords; i++ {
			if off+8 > len(b) {
				return igmpMessage{}, false
			}
			recType := b[off]
			auxLen := int(b[off+1])
			numSources := uint16(b[off+2])<<8 | uint16(b[off+3])
			group := packIPv4(b[off+4 : off+8])
			recLen := 8 + int(numSources)*4 + auxLen*4
			if off+recLen > len(b) {
				return igmpMessage{}, false
			}
			msg.v3Records = append(msg.v3Records, igmpV3Record{
				recordType: recType,
				group:      group,
				numSources: numSources,
			})
			off += recLen
		}
		return msg, true
	default:
		return igmpMessage{}, false
	}
}

// isGroupSpecificQuery reports whether msg is a Membership Query naming a
// specific group (as opposed to a General Query, group address 0.0.0.0).
func (m igmpMessage) isGroupSpecificQuery() bool {
	return m.msgType == igmpMembershipQuery && m.v2GroupAddr != 0
}

// membershipGroups returns every group this message asserts membership in,
// per the ingress-learning algorithm's accepted record-type set.
func (m igmpMessage) membershipGroups() []uint32 {
	switch m.msgType {
	case igmpV1Report, igmpV2Report:
		return []uint32{m.v2GroupAddr}
	case igmpV3Report:
		var groups []uint32
		for _, r := range m.v3Records {
			switch r.recordType {
			case recModeIsInclude, recModeIsExclude, recChangeToExcludeMode:
				groups = append(groups, r.group)
			case recChangeToIncludeMode:
				if r.numSources > 0 {
					groups = append(groups, r.group)
				}
			}
		}
		return groups
	default:
		return nil
	}
}
