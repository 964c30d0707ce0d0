package mpegts

import "fmt"

// Parse decodes a 188-byte transport packet. The input bytes are copied into
// the returned Packet's Raw so the caller's buffer can be reused.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != SyncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{Raw: make([]byte, PacketSize)}
	copy(p.Raw, buf)

	p.TransportErrorIndicator = buf[1]&0x80 != 0
	p.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.HasAdaptationField = buf[3]&0x20 != 0
	p.HasPayload = buf[3]&0x10 != 0
	p.ContinuityCounter = buf[3] & 0x0F

	offset := 4

	if p.HasAdaptationField {
		afLen := int(buf[4])
		if afLen > 0 {
			flags := buf[5]
			p.RandomAccessIndicator = flags&0x40 != 0
			if flags&0x10 != 0 && afLen >= 7 {
				p.HasPCR = true
				p.PCR = DecodePCR(buf[6:12])
			}
		}
		offset += 1 + afLen
		if offset > PacketSize {
			offset = PacketSize
		}
	}

	p.payloadOffset = offset
	return p, nil
}

// Payload returns the payload bytes as a view into Raw. Nil when the packet
// carries no payload.
func (p *Packet) Payload() []byte {
	if !p.HasPayload || p.payloadOffset >= PacketSize {
		return nil
	}
	return p.Raw[p.payloadOffset:]
}

// Clone returns a deep copy. Snapshots hand clones to the output path so
// in-place timestamp rewrites never touch the source's buffered history.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Raw = make([]byte, PacketSize)
	copy(c.Raw, p.Raw)
	return &c
}

// SetPID rewrites the 13-bit PID in place.
func (p *Packet) SetPID(pid uint16) {
	p.PID = pid & MaxPID
	p.Raw[1] = p.Raw[1]&0xE0 | byte(p.PID>>8)
	p.Raw[2] = byte(p.PID)
}

// SetContinuityCounter rewrites the 4-bit continuity counter in place.
func (p *Packet) SetContinuityCounter(cc uint8) {
	p.ContinuityCounter = cc & 0x0F
	p.Raw[3] = p.Raw[3]&0xF0 | p.ContinuityCounter
}

// SetPCR rewrites the PCR field in place. No-op on packets without one.
func (p *Packet) SetPCR(v PCR) {
	if !p.HasPCR {
		return
	}
	p.PCR = v
	EncodePCR(p.Raw[6:12], v)
}
