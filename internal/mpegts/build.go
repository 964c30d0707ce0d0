package mpegts

// Packetize segments payload into transport packets on the given PID. The
// first packet sets the payload-unit-start flag; the final, possibly short,
// segment is padded with an adaptation field of stuffing bytes rather than a
// short payload. Continuity counters are left at zero for the output
// normalizer to assign.
func Packetize(pid uint16, payload []byte) []*Packet {
	var out []*Packet
	first := true

	for len(payload) > 0 {
		raw := make([]byte, PacketSize)
		raw[0] = SyncByte
		raw[1] = byte(pid>>8) & 0x1F
		raw[2] = byte(pid)
		if first {
			raw[1] |= 0x40
		}

		if len(payload) >= PacketSize-4 {
			raw[3] = 0x10 // payload only
			copy(raw[4:], payload[:PacketSize-4])
			payload = payload[PacketSize-4:]
		} else {
			// Stuffing adaptation field fills the gap in front of the payload.
			raw[3] = 0x30
			afLen := PacketSize - 5 - len(payload)
			raw[4] = byte(afLen)
			if afLen > 0 {
				raw[5] = 0x00
				for i := 6; i < 5+afLen; i++ {
					raw[i] = 0xFF
				}
			}
			copy(raw[5+afLen:], payload)
			payload = nil
		}

		p, err := Parse(raw)
		if err != nil {
			// Unreachable: the packet was just built with a valid header.
			continue
		}
		out = append(out, p)
		first = false
	}

	return out
}
