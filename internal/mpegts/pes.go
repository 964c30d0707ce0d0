package mpegts

import "fmt"

// IsPESStart checks for the PES start code prefix (0x000001).
func IsPESStart(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// PESHeader is a parsed PES packet header. The timestamp offsets reference
// positions inside the payload slice the header was parsed from, so callers
// holding a view into Packet.Raw can rewrite timestamps in place.
type PESHeader struct {
	StreamID     uint8
	PacketLength int
	HasPTS       bool
	HasDTS       bool
	PTS          PTS
	DTS          PTS
	DataOffset   int

	ptsOffset int
	dtsOffset int
}

// ParsePESHeader decodes the PES header at the start of payload. Only the
// fixed header and the PTS/DTS fields are decoded; everything else is
// carried through untouched.
func ParsePESHeader(payload []byte) (*PESHeader, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !IsPESStart(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	h := &PESHeader{
		StreamID:     payload[3],
		PacketLength: int(payload[4])<<8 | int(payload[5]),
		ptsOffset:    -1,
		dtsOffset:    -1,
	}

	// Stream IDs that don't have an optional PES header:
	// padding_stream (0xBE), private_stream_2 (0xBF),
	// ECM (0xF0), EMM (0xF1), program_stream_directory (0xFF),
	// DSMCC (0xF2), ITU-T Rec. H.222.1 type E (0xF8)
	sid := h.StreamID
	hasOptionalHeader := sid != 0xBE && sid != 0xBF &&
		sid != 0xF0 && sid != 0xF1 &&
		sid != 0xF2 && sid != 0xF8 && sid != 0xFF

	if !hasOptionalHeader {
		h.DataOffset = 6
		return h, nil
	}

	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// Optional header
	// payload[6]: marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
	// payload[7]: PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
	// payload[8]: PES_header_data_length
	ptsDTSIndicator := (payload[7] >> 6) & 0x03
	headerDataLength := int(payload[8])

	h.DataOffset = 9 + headerDataLength
	if h.DataOffset > len(payload) {
		h.DataOffset = len(payload)
	}

	switch ptsDTSIndicator {
	case 2: // PTS only
		if len(payload) >= 14 {
			h.HasPTS = true
			h.ptsOffset = 9
			h.PTS = DecodePTS(payload[9:14])
		}
	case 3: // PTS + DTS
		if len(payload) >= 19 {
			h.HasPTS = true
			h.HasDTS = true
			h.ptsOffset = 9
			h.dtsOffset = 14
			h.PTS = DecodePTS(payload[9:14])
			h.DTS = DecodePTS(payload[14:19])
		}
	}

	return h, nil
}

// SetPTS rewrites the PTS field inside payload, which must be the same slice
// the header was parsed from. The 4-bit prefix is preserved.
func (h *PESHeader) SetPTS(payload []byte, v PTS) {
	if !h.HasPTS || h.ptsOffset < 0 || h.ptsOffset+5 > len(payload) {
		return
	}
	prefix := payload[h.ptsOffset] >> 4
	EncodePTS(payload[h.ptsOffset:h.ptsOffset+5], prefix, v)
	h.PTS = v
}

// SetDTS rewrites the DTS field inside payload.
func (h *PESHeader) SetDTS(payload []byte, v PTS) {
	if !h.HasDTS || h.dtsOffset < 0 || h.dtsOffset+5 > len(payload) {
		return
	}
	prefix := payload[h.dtsOffset] >> 4
	EncodePTS(payload[h.dtsOffset:h.dtsOffset+5], prefix, v)
	h.DTS = v
}

// BuildPES constructs a complete PES packet with a PTS-only optional header
// around data. streamID is the PES stream id (0xE0 for the first video
// stream).
func BuildPES(streamID uint8, pts PTS, data []byte) []byte {
	// 3 optional-header bytes + 5 timestamp bytes after the 6-byte fixed header.
	headerDataLength := 5
	packetLength := 3 + headerDataLength + len(data)
	if packetLength > 0xFFFF {
		packetLength = 0 // unbounded, legal for video
	}

	out := make([]byte, 0, 9+headerDataLength+len(data))
	out = append(out,
		0x00, 0x00, 0x01,
		streamID,
		byte(packetLength>>8), byte(packetLength),
		0x80,       // marker bits
		0x80,       // PTS only
		byte(headerDataLength),
	)
	var ts [5]byte
	EncodePTS(ts[:], 0x02, pts)
	out = append(out, ts[:]...)
	return append(out, data...)
}
