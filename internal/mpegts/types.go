// Package mpegts implements the transport-stream primitives the splicing
// engine is built on: packet parsing over retained raw bytes, byte-stream
// reassembly with sync recovery, PSI section assembly with PAT/PMT parsing,
// PES header access, and bit-exact PTS/DTS/PCR encoding.
package mpegts

// PacketSize is the fixed size of a transport packet in bytes.
const PacketSize = 188

// SyncByte is the marker every transport packet starts with.
const SyncByte = 0x47

// PIDPAT is the PID carrying the Program Association Table.
const PIDPAT = 0x0000

// MaxPID is the largest value representable in the 13-bit PID field.
const MaxPID = 0x1FFF

// Packet is a parsed transport packet. Raw always holds the full 188 bytes;
// header fields are decoded views into it. Mutators (SetPID, SetContinuityCounter,
// SetPCR, PES timestamp rewrites) write back into Raw so the packet can be
// emitted without a separate encode step.
type Packet struct {
	Raw []byte

	PID                       uint16
	ContinuityCounter         uint8
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	HasAdaptationField        bool
	HasPayload                bool
	RandomAccessIndicator     bool

	HasPCR bool
	PCR    PCR

	payloadOffset int
}

// ProgramMap is the discovered role-to-PID mapping for the single program the
// engine splices. It is built once PAT and PMT have both parsed, and replaced
// wholesale on reconnect, never partially mutated.
type ProgramMap struct {
	ProgramNumber uint16
	PMTPID        uint16
	VideoPID      uint16
	VideoType     uint8
	AudioPID      uint16
	AudioType     uint8
	HasAudio      bool
	PCRPID        uint16
}

// Ready reports whether the map is usable for splicing. A video PID is
// required; audio is optional.
func (pm *ProgramMap) Ready() bool {
	return pm != nil && pm.VideoPID != 0
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	Programs []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}

// Elementary stream_type codes the classifier recognizes.
const (
	StreamTypeMPEG1Video = 0x01
	StreamTypeMPEG2Video = 0x02
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypeAACADTS    = 0x0F
	StreamTypeMPEG4Video = 0x10
	StreamTypeAACLATM    = 0x11
	StreamTypeAVC        = 0x1B
	StreamTypeHEVC       = 0x24
	StreamTypeAC3        = 0x81
	StreamTypeEAC3       = 0x87
)

// IsVideoType reports whether the stream_type code is a recognized video codec.
func IsVideoType(st uint8) bool {
	switch st {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeMPEG4Video,
		StreamTypeAVC, StreamTypeHEVC:
		return true
	}
	return false
}

// IsAudioType reports whether the stream_type code is a recognized audio codec.
func IsAudioType(st uint8) bool {
	switch st {
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAACADTS,
		StreamTypeAACLATM, StreamTypeAC3, StreamTypeEAC3:
		return true
	}
	return false
}
