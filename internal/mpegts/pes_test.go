package mpegts

import (
	"bytes"
	"testing"
)

// buildPESPayload constructs a PES header with optional PTS/DTS followed by
// data, for feeding ParsePESHeader directly.
func buildPESPayload(streamID uint8, pts, dts PTS, hasPTS, hasDTS bool, data []byte) []byte {
	headerDataLength := 0
	flags := byte(0x00)
	if hasPTS {
		headerDataLength += 5
		flags = 0x80
	}
	if hasDTS {
		headerDataLength += 5
		flags = 0xC0
	}
	packetLength := 3 + headerDataLength + len(data)

	out := []byte{
		0x00, 0x00, 0x01, streamID,
		byte(packetLength >> 8), byte(packetLength),
		0x80, flags, byte(headerDataLength),
	}
	if hasPTS {
		var ts [5]byte
		prefix := byte(0x02)
		if hasDTS {
			prefix = 0x03
		}
		EncodePTS(ts[:], prefix, pts)
		out = append(out, ts[:]...)
	}
	if hasDTS {
		var ts [5]byte
		EncodePTS(ts[:], 0x01, dts)
		out = append(out, ts[:]...)
	}
	return append(out, data...)
}

func TestParsePESHeader_PTSOnly(t *testing.T) {
	t.Parallel()
	payload := buildPESPayload(0xE0, 123456, 0, true, false, []byte{0xAA, 0xBB})
	h, err := ParsePESHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	if h.StreamID != 0xE0 {
		t.Errorf("stream id = 0x%02X, want 0xE0", h.StreamID)
	}
	if !h.HasPTS || h.HasDTS {
		t.Errorf("HasPTS=%v HasDTS=%v, want true false", h.HasPTS, h.HasDTS)
	}
	if h.PTS != 123456 {
		t.Errorf("PTS = %d, want 123456", h.PTS)
	}
	if got := payload[h.DataOffset:]; !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("data = % X", got)
	}
}

func TestParsePESHeader_PTSAndDTS(t *testing.T) {
	t.Parallel()
	payload := buildPESPayload(0xE0, 90000, 87000, true, true, nil)
	h, err := ParsePESHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !h.HasPTS || !h.HasDTS {
		t.Fatal("both timestamps expected")
	}
	if h.PTS != 90000 || h.DTS != 87000 {
		t.Errorf("PTS/DTS = %d/%d, want 90000/87000", h.PTS, h.DTS)
	}
}

func TestParsePESHeader_NoOptionalHeader(t *testing.T) {
	t.Parallel()
	payload := []byte{0x00, 0x00, 0x01, 0xBE, 0x00, 0x04, 0xFF, 0xFF, 0xFF, 0xFF}
	h, err := ParsePESHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	if h.HasPTS {
		t.Error("padding stream has no PTS")
	}
	if h.DataOffset != 6 {
		t.Errorf("DataOffset = %d, want 6", h.DataOffset)
	}
}

func TestParsePESHeader_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := ParsePESHeader([]byte{0x00, 0x00}); err == nil {
		t.Error("short payload should fail")
	}
	if _, err := ParsePESHeader([]byte{0x47, 0x00, 0x01, 0xE0, 0x00, 0x00}); err == nil {
		t.Error("bad start code should fail")
	}
}

func TestSetPTS_RewritesInPlace(t *testing.T) {
	t.Parallel()
	payload := buildPESPayload(0xE0, 1000, 900, true, true, []byte{0x11})
	h, err := ParsePESHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	h.SetPTS(payload, 500_000)
	h.SetDTS(payload, 499_000)

	reparsed, err := ParsePESHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	if reparsed.PTS != 500_000 || reparsed.DTS != 499_000 {
		t.Errorf("rewritten PTS/DTS = %d/%d, want 500000/499000", reparsed.PTS, reparsed.DTS)
	}
	// The marker prefixes must survive the rewrite.
	if payload[9]>>4 != 0x03 || payload[14]>>4 != 0x01 {
		t.Errorf("timestamp prefixes corrupted: %02X %02X", payload[9], payload[14])
	}
}

func TestBuildPES_Roundtrip(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42}
	pes := BuildPES(0xE0, 424242, data)

	h, err := ParsePESHeader(pes)
	if err != nil {
		t.Fatal(err)
	}
	if h.StreamID != 0xE0 {
		t.Errorf("stream id = 0x%02X", h.StreamID)
	}
	if !h.HasPTS || h.PTS != 424242 {
		t.Errorf("PTS = %d (has=%v), want 424242", h.PTS, h.HasPTS)
	}
	if !bytes.Equal(pes[h.DataOffset:], data) {
		t.Error("payload data mismatch")
	}
	if h.PacketLength != 3+5+len(data) {
		t.Errorf("packet length = %d, want %d", h.PacketLength, 3+5+len(data))
	}
}

func TestPacketize(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 400)
	for i := range payload {
		payload[i] = byte(i)
	}
	pkts := Packetize(0x1E1, payload)
	if len(pkts) != 3 {
		t.Fatalf("got %d packets, want 3", len(pkts))
	}
	if !pkts[0].PayloadUnitStartIndicator {
		t.Error("first packet must set PUSI")
	}
	if pkts[1].PayloadUnitStartIndicator || pkts[2].PayloadUnitStartIndicator {
		t.Error("continuation packets must not set PUSI")
	}

	var got []byte
	for _, p := range pkts {
		if p.PID != 0x1E1 {
			t.Errorf("PID = 0x%X, want 0x1E1", p.PID)
		}
		got = append(got, p.Payload()...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled %d bytes, mismatch with original %d", len(got), len(payload))
	}
}

func TestPacketize_ShortPayloadPadsWithAF(t *testing.T) {
	t.Parallel()
	payload := []byte{0x01, 0x02, 0x03}
	pkts := Packetize(0x100, payload)
	if len(pkts) != 1 {
		t.Fatalf("got %d packets, want 1", len(pkts))
	}
	p := pkts[0]
	if !p.HasAdaptationField {
		t.Error("short payload needs a stuffing adaptation field")
	}
	if !bytes.Equal(p.Payload(), payload) {
		t.Errorf("payload = % X, want % X", p.Payload(), payload)
	}
}
