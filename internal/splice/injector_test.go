package splice

import (
	"bytes"
	"testing"

	"github.com/zsiec/seam/internal/mpegts"
)

func section(tableID byte, body []byte) []byte {
	full := append([]byte{tableID, 0xB0, byte(len(body) + 4)}, body...)
	crc := mpegts.CRC32(full)
	return append(full, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

func tablePackets(pid uint16, s []byte) []*mpegts.Packet {
	return mpegts.Packetize(pid, append([]byte{0x00}, s...))
}

func testTables() (pat, pmt []*mpegts.Packet) {
	patSec := section(0x00, []byte{
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xF0, 0x00, // program 1 -> PMT PID 0x1000
	})
	pmtSec := section(0x02, []byte{
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE1, 0xE1, 0xF0, 0x00, // PCR PID
		0x1B, 0xE1, 0xE1, 0xF0, 0x00, // H.264 on 0x1E1
	})
	return tablePackets(mpegts.PIDPAT, patSec), tablePackets(0x1000, pmtSec)
}

func fullParams() *ParameterSetCache {
	c := &ParameterSetCache{}
	c.SetSPS([]byte{0x67, 0x42, 0xE0, 0x1E})
	c.SetPPS([]byte{0x68, 0xCE, 0x38, 0x80})
	return c
}

func testPM() *mpegts.ProgramMap {
	return &mpegts.ProgramMap{
		ProgramNumber: 1,
		PMTPID:        0x1000,
		VideoPID:      0x1E1,
		VideoType:     mpegts.StreamTypeAVC,
		PCRPID:        0x1E1,
	}
}

func collect(t *testing.T, run func(emit func(*mpegts.Packet) error) error) []*mpegts.Packet {
	t.Helper()
	var out []*mpegts.Packet
	if err := run(func(p *mpegts.Packet) error {
		out = append(out, p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestInjector_RepeatsTablesAndEmitsParams(t *testing.T) {
	t.Parallel()
	inj := NewInjector(nil)
	pat, pmt := testTables()
	pm := testPM()

	out := collect(t, func(emit func(*mpegts.Packet) error) error {
		return inj.Inject(emit, pat, pmt, fullParams(), pm, 90_000)
	})

	var patCount, pmtCount, videoCount int
	for _, p := range out {
		switch p.PID {
		case mpegts.PIDPAT:
			patCount++
		case pm.PMTPID:
			pmtCount++
		case pm.VideoPID:
			videoCount++
		}
	}
	if patCount != 3 || pmtCount != 3 {
		t.Errorf("PAT/PMT count = %d/%d, want 3/3", patCount, pmtCount)
	}
	if videoCount == 0 {
		t.Fatal("no parameter-set PES emitted")
	}

	// The parameter-set PES carries the IDR's presentation time and both
	// NAL units.
	var pesBytes []byte
	for _, p := range out {
		if p.PID == pm.VideoPID {
			pesBytes = append(pesBytes, p.Payload()...)
		}
	}
	h, err := mpegts.ParsePESHeader(pesBytes)
	if err != nil {
		t.Fatal(err)
	}
	if !h.HasPTS || h.PTS != 90_000 {
		t.Errorf("PES PTS = %d (has=%v), want 90000", h.PTS, h.HasPTS)
	}
	es := pesBytes[h.DataOffset:]
	if !bytes.Contains(es, []byte{0x00, 0x00, 0x00, 0x01, 0x67}) ||
		!bytes.Contains(es, []byte{0x00, 0x00, 0x00, 0x01, 0x68}) {
		t.Error("SPS/PPS missing from injected PES")
	}
}

func TestInjector_RemapsPMTPID(t *testing.T) {
	t.Parallel()
	inj := NewInjector(nil)
	pat, pmt := testTables()
	pm := testPM()
	pm.PMTPID = 0x1500 // output program uses a different PMT PID

	out := collect(t, func(emit func(*mpegts.Packet) error) error {
		return inj.Inject(emit, pat, pmt, fullParams(), pm, 0)
	})
	for _, p := range out {
		if p.PID == 0x1000 {
			t.Fatal("stored PMT PID leaked into output")
		}
	}
	var remapped int
	for _, p := range out {
		if p.PID == 0x1500 {
			remapped++
		}
	}
	if remapped != 3 {
		t.Errorf("remapped PMT packets = %d, want 3", remapped)
	}
}

func TestInjector_SkipsMissingPieces(t *testing.T) {
	t.Parallel()
	inj := NewInjector(nil)
	pm := testPM()

	// No tables, no params: nothing emitted, no error.
	out := collect(t, func(emit func(*mpegts.Packet) error) error {
		return inj.Inject(emit, nil, nil, &ParameterSetCache{}, pm, 0)
	})
	if len(out) != 0 {
		t.Errorf("emitted %d packets with nothing cached, want 0", len(out))
	}

	// Tables without params: only the tables.
	pat, pmt := testTables()
	out = collect(t, func(emit func(*mpegts.Packet) error) error {
		return inj.Inject(emit, pat, pmt, &ParameterSetCache{}, pm, 0)
	})
	for _, p := range out {
		if p.PID == pm.VideoPID {
			t.Fatal("parameter-set PES emitted without cached params")
		}
	}
	if len(out) != 6 {
		t.Errorf("emitted %d packets, want 6 table packets", len(out))
	}
}

func TestInjector_ClonesStoredTables(t *testing.T) {
	t.Parallel()
	inj := NewInjector(nil)
	pat, pmt := testTables()
	pm := testPM()
	orig := pat[0].Raw[4]

	out := collect(t, func(emit func(*mpegts.Packet) error) error {
		return inj.Inject(emit, pat, pmt, fullParams(), pm, 0)
	})
	out[0].Raw[4] = 0xEE
	if pat[0].Raw[4] != orig {
		t.Error("emitted packet aliases the stored table packet")
	}
}
