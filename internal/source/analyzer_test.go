package source

import (
	"testing"

	"github.com/zsiec/seam/internal/mpegts"
)

const testPMTPID = uint16(0x1000)

func patSection(programNumber, pmtPID uint16) []byte {
	body := []byte{
		0x00,       // table_id
		0xB0, 0x00, // section_syntax + length, patched below
		0x00, 0x01,
		0xC1,
		0x00, 0x00,
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	body[2] = byte(len(body) - 3 + 4)
	crc := mpegts.CRC32(body)
	return append(body, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

func pmtSection(programNumber, pcrPID uint16, streams [][2]uint16) []byte {
	body := []byte{
		0x02,
		0xB0, 0x00,
		byte(programNumber >> 8), byte(programNumber),
		0xC1,
		0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00,
	}
	for _, s := range streams {
		streamType, pid := byte(s[0]), s[1]
		body = append(body, streamType, 0xE0|byte(pid>>8), byte(pid), 0xF0, 0x00)
	}
	body[2] = byte(len(body) - 3 + 4)
	crc := mpegts.CRC32(body)
	return append(body, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// tablePackets wraps a section (with a zero pointer field) into packets.
func tablePackets(pid uint16, section []byte) []*mpegts.Packet {
	return mpegts.Packetize(pid, append([]byte{0x00}, section...))
}

func feedTables(a *Analyzer, pkts ...[]*mpegts.Packet) {
	for _, group := range pkts {
		for _, p := range group {
			a.Feed(p)
		}
	}
}

func TestAnalyzer_DiscoversProgram(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, testVideoPID, [][2]uint16{
			{mpegts.StreamTypeAVC, testVideoPID},
			{mpegts.StreamTypeAACADTS, testAudioPID},
		})),
	)

	if !a.Ready() {
		t.Fatal("analyzer not ready")
	}
	pm := a.ProgramMap()
	if pm.VideoPID != testVideoPID || pm.VideoType != mpegts.StreamTypeAVC {
		t.Errorf("video = 0x%X/0x%02X", pm.VideoPID, pm.VideoType)
	}
	if !pm.HasAudio || pm.AudioPID != testAudioPID {
		t.Errorf("audio = 0x%X has=%v", pm.AudioPID, pm.HasAudio)
	}
	if pm.PCRPID != testVideoPID {
		t.Errorf("PCR PID = 0x%X, want video PID", pm.PCRPID)
	}
	if pm.PMTPID != testPMTPID {
		t.Errorf("PMT PID = 0x%X, want 0x%X", pm.PMTPID, testPMTPID)
	}
}

func TestAnalyzer_FirstPIDOfEachClassWins(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, testVideoPID, [][2]uint16{
			{mpegts.StreamTypeAVC, testVideoPID},
			{mpegts.StreamTypeHEVC, 0x1E5}, // second video, ignored
			{mpegts.StreamTypeAACADTS, testAudioPID},
			{mpegts.StreamTypeAC3, 0x1E6}, // second audio, ignored
		})),
	)

	pm := a.ProgramMap()
	if pm.VideoPID != testVideoPID {
		t.Errorf("video PID = 0x%X, want first (0x%X)", pm.VideoPID, testVideoPID)
	}
	if pm.AudioPID != testAudioPID {
		t.Errorf("audio PID = 0x%X, want first (0x%X)", pm.AudioPID, testAudioPID)
	}
}

func TestAnalyzer_PCRFallbackToVideo(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, mpegts.MaxPID, [][2]uint16{
			{mpegts.StreamTypeAVC, testVideoPID},
		})),
	)
	if pm := a.ProgramMap(); pm.PCRPID != testVideoPID {
		t.Errorf("PCR PID = 0x%X, want video fallback", pm.PCRPID)
	}
}

func TestAnalyzer_VideoRequired(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, testAudioPID, [][2]uint16{
			{mpegts.StreamTypeAACADTS, testAudioPID},
		})),
	)
	if a.Ready() {
		t.Error("audio-only program must not be ready")
	}
}

func TestAnalyzer_RetainsTablePackets(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, testVideoPID, [][2]uint16{
			{mpegts.StreamTypeAVC, testVideoPID},
		})),
	)
	pat, pmt := a.TablePackets()
	if len(pat) == 0 || len(pmt) == 0 {
		t.Fatal("table packets not retained")
	}
	if pat[0].PID != mpegts.PIDPAT {
		t.Errorf("PAT packet PID = 0x%X", pat[0].PID)
	}
	if pmt[0].PID != testPMTPID {
		t.Errorf("PMT packet PID = 0x%X", pmt[0].PID)
	}
}

func TestAnalyzer_GenerationAdvancesOnNewTables(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, testVideoPID, [][2]uint16{
			{mpegts.StreamTypeAVC, testVideoPID},
		})),
	)
	gen := a.Generation()
	if gen == 0 {
		t.Fatal("generation still zero after tables")
	}
	feedTables(a, tablePackets(testPMTPID, pmtSection(1, testVideoPID, [][2]uint16{
		{mpegts.StreamTypeAVC, testVideoPID},
	})))
	if a.Generation() <= gen {
		t.Error("generation must advance when a table is replaced")
	}
}

func TestAnalyzer_ResetDiscardsEverything(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(nil)
	feedTables(a,
		tablePackets(mpegts.PIDPAT, patSection(1, testPMTPID)),
		tablePackets(testPMTPID, pmtSection(1, testVideoPID, [][2]uint16{
			{mpegts.StreamTypeAVC, testVideoPID},
		})),
	)
	a.Reset()
	if a.Ready() {
		t.Error("ready after reset")
	}
	if pat, pmt := a.TablePackets(); pat != nil || pmt != nil {
		t.Error("table packets survived reset")
	}
	if a.Generation() != 0 {
		t.Error("generation survived reset")
	}
}
