package timeline

import "github.com/zsiec/seam/internal/mpegts"

// Normalizer owns one modulo-16 continuity counter per output PID,
// independent of whatever counters the sources carried. Every emitted packet
// with a payload takes the next counter value for its PID; packets without a
// payload are left untouched, as the standard requires. The spliced output
// therefore never shows a counter discontinuity, even across sources with
// unrelated counter state.
type Normalizer struct {
	next map[uint16]uint8
}

// NewNormalizer creates a Normalizer with all counters at zero.
func NewNormalizer() *Normalizer {
	return &Normalizer{next: make(map[uint16]uint8)}
}

// Apply assigns the packet its output continuity counter in place.
func (n *Normalizer) Apply(p *mpegts.Packet) {
	if !p.HasPayload {
		return
	}
	cc := n.next[p.PID]
	p.SetContinuityCounter(cc)
	n.next[p.PID] = (cc + 1) & 0x0F
}
