// Package splice holds the switch-boundary machinery: the per-source
// SPS/PPS parameter-set cache and the injector that replays tables and
// parameter sets ahead of the first packets of a new segment.
package splice

import "sync"

// ParameterSetCache keeps the most recently observed SPS and PPS payloads
// for a source's video stream. The detector overwrites it whenever a fresh
// parameter set is parsed from buffered IDR data; the injector reads it at
// switch time. Owned per source, reset on reconnect.
type ParameterSetCache struct {
	mu  sync.Mutex
	sps []byte
	pps []byte
}

// SetSPS stores a copy of the SPS NAL payload.
func (c *ParameterSetCache) SetSPS(nal []byte) {
	c.mu.Lock()
	c.sps = append(c.sps[:0], nal...)
	c.mu.Unlock()
}

// SetPPS stores a copy of the PPS NAL payload.
func (c *ParameterSetCache) SetPPS(nal []byte) {
	c.mu.Lock()
	c.pps = append(c.pps[:0], nal...)
	c.mu.Unlock()
}

// Snapshot returns copies of the cached SPS and PPS. ok is false until both
// have been observed.
func (c *ParameterSetCache) Snapshot() (sps, pps []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sps) == 0 || len(c.pps) == 0 {
		return nil, nil, false
	}
	sps = append([]byte(nil), c.sps...)
	pps = append([]byte(nil), c.pps...)
	return sps, pps, true
}

// Reset clears the cache for a reconnected ingest loop.
func (c *ParameterSetCache) Reset() {
	c.mu.Lock()
	c.sps, c.pps = nil, nil
	c.mu.Unlock()
}
