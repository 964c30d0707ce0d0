package splice

import (
	"bytes"
	"testing"
)

func TestParameterSetCache(t *testing.T) {
	t.Parallel()
	var c ParameterSetCache

	if _, _, ok := c.Snapshot(); ok {
		t.Error("empty cache reported ok")
	}

	c.SetSPS([]byte{0x67, 0x42})
	if _, _, ok := c.Snapshot(); ok {
		t.Error("SPS alone reported ok")
	}

	c.SetPPS([]byte{0x68, 0xCE})
	sps, pps, ok := c.Snapshot()
	if !ok {
		t.Fatal("complete cache not ok")
	}
	if !bytes.Equal(sps, []byte{0x67, 0x42}) || !bytes.Equal(pps, []byte{0x68, 0xCE}) {
		t.Errorf("sps=% X pps=% X", sps, pps)
	}
}

func TestParameterSetCache_CopiesInAndOut(t *testing.T) {
	t.Parallel()
	var c ParameterSetCache
	in := []byte{0x67, 0x42}
	c.SetSPS(in)
	c.SetPPS([]byte{0x68})
	in[1] = 0xFF

	sps, _, _ := c.Snapshot()
	if sps[1] != 0x42 {
		t.Error("cache aliases caller memory on write")
	}
	sps[0] = 0x00
	again, _, _ := c.Snapshot()
	if again[0] != 0x67 {
		t.Error("snapshot aliases cache memory")
	}
}

func TestParameterSetCache_NewerWins(t *testing.T) {
	t.Parallel()
	var c ParameterSetCache
	c.SetSPS([]byte{0x67, 0x01})
	c.SetPPS([]byte{0x68, 0x01})
	c.SetSPS([]byte{0x67, 0x02})

	sps, _, _ := c.Snapshot()
	if sps[1] != 0x02 {
		t.Errorf("sps[1] = 0x%02X, want newest 0x02", sps[1])
	}
}

func TestParameterSetCache_Reset(t *testing.T) {
	t.Parallel()
	var c ParameterSetCache
	c.SetSPS([]byte{0x67})
	c.SetPPS([]byte{0x68})
	c.Reset()
	if _, _, ok := c.Snapshot(); ok {
		t.Error("reset cache reported ok")
	}
}
