package mpegts

// PTS is a 33-bit presentation or decode timestamp in 90 kHz units.
// PCR is the program clock reference in 27 MHz units (33-bit base * 300 +
// 9-bit extension). Keeping them as distinct types prevents mixing the two
// clock domains in rebase arithmetic.
type (
	PTS int64
	PCR int64
)

const (
	// PTSWrap is the modulo of the 33-bit 90 kHz timestamp space.
	PTSWrap = PTS(1) << 33

	// PCRWrap is the modulo of the PCR space: the 33-bit base wraps at 2^33
	// and the extension counts 0..299, so the full value wraps at 2^33 * 300.
	PCRWrap = PCR(1) << 33 * 300

	// PTSClockHz and PCRClockHz are the two MPEG clock rates.
	PTSClockHz = 90000
	PCRClockHz = 27000000
)

// ToPCR converts a 90 kHz value into 27 MHz units.
func (p PTS) ToPCR() PCR {
	return PCR(p) * 300
}

// Rebase maps a timestamp from its source timeline onto the output timeline:
// (p - base + offset) mod 2^33.
func (p PTS) Rebase(base, offset PTS) PTS {
	out := (p - base + offset) % PTSWrap
	if out < 0 {
		out += PTSWrap
	}
	return out
}

// Rebase maps a PCR from its source timeline onto the output timeline using
// 27 MHz base and offset values.
func (p PCR) Rebase(base, offset PCR) PCR {
	out := (p - base + offset) % PCRWrap
	if out < 0 {
		out += PCRWrap
	}
	return out
}

// IsWrap reports whether cur, observed after prev, is best explained by the
// 33-bit clock wrapping: an apparent backward jump larger than half the range.
func (p PTS) IsWrap(cur PTS) bool {
	return cur < p && p-cur > PTSWrap/2
}

// Delta returns cur - p treating backward jumps beyond half the range as
// forward wraps.
func (p PTS) Delta(cur PTS) PTS {
	d := cur - p
	if d < -PTSWrap/2 {
		d += PTSWrap
	}
	return d
}

// IsLoopRestart reports whether cur, observed after prev, looks like the
// source content restarting from its beginning: a large backward jump that is
// still too small to be a clock wrap. threshold is the minimum backward jump
// (in 90 kHz ticks) treated as a restart rather than reordering jitter.
func (p PTS) IsLoopRestart(cur, threshold PTS) bool {
	if cur >= p {
		return false
	}
	back := p - cur
	return back >= threshold && back <= PTSWrap/2
}

// DecodePTS extracts a 33-bit timestamp from the 5-byte marker-interleaved
// PES encoding.
func DecodePTS(b []byte) PTS {
	if len(b) < 5 {
		return 0
	}
	return PTS(b[0]>>1&0x07)<<30 |
		PTS(b[1])<<22 |
		PTS(b[2]>>1&0x7F)<<15 |
		PTS(b[3])<<7 |
		PTS(b[4]>>1&0x7F)
}

// EncodePTS writes v into dst using the 5-byte PES timestamp layout:
// a 4-bit prefix, then 3+15+15 value bits interleaved with marker bits.
// prefix is 0b0010 for a lone PTS, 0b0011 for PTS-of-pair, 0b0001 for DTS.
func EncodePTS(dst []byte, prefix byte, v PTS) {
	if len(dst) < 5 {
		return
	}
	dst[0] = prefix<<4 | (byte(v>>30)&0x07)<<1 | 0x01
	dst[1] = byte(v >> 22)
	dst[2] = byte(v>>14)&0xFE | 0x01
	dst[3] = byte(v >> 7)
	dst[4] = byte(v<<1) | 0x01
}

// DecodePCR extracts a PCR from the 6-byte adaptation-field layout:
// 33-bit base across the high bits, 6 reserved bits, 9-bit extension.
func DecodePCR(b []byte) PCR {
	if len(b) < 6 {
		return 0
	}
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4])>>7
	ext := int64(b[4]&0x01)<<8 | int64(b[5])
	return PCR(base*300 + ext)
}

// EncodePCR writes v into dst using the 6-byte adaptation-field layout.
// The reserved bits are set to all ones as the standard requires.
func EncodePCR(dst []byte, v PCR) {
	if len(dst) < 6 {
		return
	}
	base := int64(v) / 300
	ext := int64(v) % 300
	dst[0] = byte(base >> 25)
	dst[1] = byte(base >> 17)
	dst[2] = byte(base >> 9)
	dst[3] = byte(base >> 1)
	dst[4] = byte(base<<7)&0x80 | 0x7E | byte(ext>>8)&0x01
	dst[5] = byte(ext)
}
