package mpegts

import "fmt"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// SectionAssembler reconstructs PSI sections for one PID from packet
// payloads, honoring the pointer field on payload starts and accumulating
// across packets until section_length bytes have arrived.
type SectionAssembler struct {
	buf     []byte
	started bool
}

// Feed adds a packet's payload to the assembler and returns any complete
// sections. Packets before the first payload start are ignored.
func (a *SectionAssembler) Feed(p *Packet) [][]byte {
	payload := p.Payload()
	if len(payload) == 0 {
		return nil
	}

	if p.PayloadUnitStartIndicator {
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			a.Reset()
			return nil
		}
		var out [][]byte
		if a.started {
			// A section in progress ends at the pointer boundary.
			if pointer > 0 {
				a.buf = append(a.buf, payload[1:1+pointer]...)
			}
			out = a.complete()
		}
		a.buf = append([]byte{}, payload[1+pointer:]...)
		a.started = true
		return append(out, a.complete()...)
	}

	if !a.started {
		return nil
	}
	a.buf = append(a.buf, payload...)
	return a.complete()
}

// Reset discards any partially assembled section.
func (a *SectionAssembler) Reset() {
	a.buf = nil
	a.started = false
}

// complete splits off every fully received section at the front of buf.
func (a *SectionAssembler) complete() [][]byte {
	var out [][]byte
	for {
		if len(a.buf) == 0 || a.buf[0] == 0xFF {
			// Stuffing bytes run to the end of the payload.
			a.buf = nil
			return out
		}
		if len(a.buf) < 3 {
			return out
		}
		sectionLength := int(a.buf[1]&0x0F)<<8 | int(a.buf[2])
		total := 3 + sectionLength
		if len(a.buf) < total {
			return out
		}
		section := make([]byte, total)
		copy(section, a.buf[:total])
		out = append(out, section)
		a.buf = a.buf[total:]
	}
}

// ParsePAT parses a complete PAT section, verifying its CRC32.
func ParsePAT(data []byte) (*PATData, error) {
	if len(data) < 12 { // minimum: 8 header + 4 CRC
		return nil, fmt.Errorf("mpegts: PAT too short")
	}
	if data[0] != tableIDPAT {
		return nil, fmt.Errorf("mpegts: PAT table_id 0x%02X", data[0])
	}
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  transport_stream_id
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8..N-4] program entries (4 bytes each)
	// [N-4..N] CRC32

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	entryStart := 8
	entryEnd := 3 + sectionLength - 4 // subtract CRC32
	if entryEnd > len(data)-4 {
		entryEnd = len(data) - 4
	}

	pat := &PATData{}
	for i := entryStart; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pmtPID := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])

		if programNumber == 0 {
			continue // NIT PID, skip
		}

		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  pmtPID,
		})
	}

	return pat, nil
}

// ParsePMT parses a complete PMT section, verifying its CRC32.
func ParsePMT(data []byte) (*PMTData, error) {
	if len(data) < 16 { // minimum: 12 header + 4 CRC
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if data[0] != tableIDPMT {
		return nil, fmt.Errorf("mpegts: PMT table_id 0x%02X", data[0])
	}
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  program_number
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8-9]  reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...] program descriptors
	// [...] elementary stream entries
	// [...] CRC32

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	sectionEnd := 3 + sectionLength
	if sectionEnd > len(data) {
		sectionEnd = len(data)
	}

	pmt := &PMTData{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength

	// Parse elementary stream entries until 4 bytes before section end (CRC).
	for offset+5 <= sectionEnd-4 {
		streamType := data[offset]
		elementaryPID := uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2])
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])

		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			ElementaryPID: elementaryPID,
			StreamType:    streamType,
		})

		offset += 5 + esInfoLength
	}

	return pmt, nil
}
