// Package timeline owns the single output timeline shared by all sources:
// the timestamp continuity manager that rebases PTS/DTS/PCR onto it, and the
// continuity-counter normalizer. Both are mutated only by the output task.
package timeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/zsiec/seam/internal/mpegts"
)

// defaultSpliceGuard is the gap inserted between segments on the output
// timeline: one frame at 29.97 fps in 90 kHz ticks.
const defaultSpliceGuard = mpegts.PTS(3003)

// defaultLoopThreshold is the minimum backward PTS jump, inside one segment,
// treated as the source content restarting (a file loop) rather than
// reordering jitter. Clock wraps are larger than half the 33-bit range and
// are handled separately.
const defaultLoopThreshold = mpegts.PTS(10 * mpegts.PTSClockHz)

// ErrNoTimestamps is returned when a splice snapshot contains no video PTS
// to extract a base from. The switch attempt fails and is retried later.
var ErrNoTimestamps = errors.New("timeline: no PTS found in splice window")

// Bases holds the timestamps extracted from a splice snapshot before a
// segment is activated. Scanning and activation are separate steps so a
// failed scan leaves the global offsets untouched.
type Bases struct {
	// Base is the source base: the minimum of the first video and first
	// audio PTS after the splice point, preserving A/V sync across the
	// switch.
	Base mpegts.PTS

	FirstVideoPTS mpegts.PTS
	FirstAudioPTS mpegts.PTS
	HasAudioPTS   bool

	// FirstPCR is the first PCR on the PCR PID after the splice point.
	FirstPCR mpegts.PCR
	HasPCR   bool

	// Align is the PCR/PTS alignment offset, (Base * 300) - FirstPCR: how
	// far the presentation clock runs ahead of the program clock. The
	// rebase shifts both clocks by the same amount so this headroom is
	// never collapsed.
	Align mpegts.PCR
}

// Continuity rebases every emitted timestamp onto one global timeline,
// independent of which source produced the packet and of that source looping
// or reconnecting. Per-segment bases reset on every activation; the global
// offsets persist for the life of the process.
type Continuity struct {
	log *slog.Logger

	guard         mpegts.PTS
	loopThreshold mpegts.PTS

	ptsOffset   mpegts.PTS
	pcrOffset   mpegts.PCR
	offsetsInit bool

	segActive bool
	basePTS   mpegts.PTS
	basePCR   mpegts.PCR
	align     mpegts.PCR

	videoPID uint16
	audioPID uint16
	pcrPID   uint16

	lastInPTS  mpegts.PTS
	lastInSet  bool
	maxOutPTS  mpegts.PTS
	maxOutSet  bool
	lastOutPCR mpegts.PCR

	segmentStart time.Time
	now          func() time.Time
}

// NewContinuity creates a Continuity manager. If log is nil, slog.Default()
// is used.
func NewContinuity(log *slog.Logger, opts ...func(*Continuity)) *Continuity {
	if log == nil {
		log = slog.Default()
	}
	c := &Continuity{
		log:           log.With("component", "continuity"),
		guard:         defaultSpliceGuard,
		loopThreshold: defaultLoopThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContinuityOptGuard overrides the inter-segment guard gap.
func ContinuityOptGuard(g mpegts.PTS) func(*Continuity) {
	return func(c *Continuity) {
		if g > 0 {
			c.guard = g
		}
	}
}

// ContinuityOptClock overrides the wall clock, for tests.
func ContinuityOptClock(now func() time.Time) func(*Continuity) {
	return func(c *Continuity) {
		c.now = now
	}
}

// ScanBases extracts the timestamp bases from a splice snapshot without
// touching any state, so the caller can fail the switch cleanly when the
// snapshot has no usable timestamps.
func (c *Continuity) ScanBases(snapshot []*mpegts.Packet, pm *mpegts.ProgramMap) (Bases, error) {
	var b Bases
	videoSet := false

	for _, p := range snapshot {
		if !b.HasPCR && p.HasPCR && p.PID == pm.PCRPID {
			b.FirstPCR = p.PCR
			b.HasPCR = true
		}
		if !p.PayloadUnitStartIndicator {
			continue
		}
		payload := p.Payload()
		if !mpegts.IsPESStart(payload) {
			continue
		}
		switch p.PID {
		case pm.VideoPID:
			if videoSet {
				continue
			}
			if hdr, err := mpegts.ParsePESHeader(payload); err == nil && hdr.HasPTS {
				b.FirstVideoPTS = hdr.PTS
				videoSet = true
			}
		case pm.AudioPID:
			if !pm.HasAudio || b.HasAudioPTS {
				continue
			}
			if hdr, err := mpegts.ParsePESHeader(payload); err == nil && hdr.HasPTS {
				b.FirstAudioPTS = hdr.PTS
				b.HasAudioPTS = true
			}
		}
	}

	if !videoSet {
		return b, ErrNoTimestamps
	}

	b.Base = b.FirstVideoPTS
	if b.HasAudioPTS && b.FirstVideoPTS.Delta(b.FirstAudioPTS) < 0 {
		b.Base = b.FirstAudioPTS
	}
	if b.HasPCR {
		b.Align = b.Base.ToPCR() - b.FirstPCR
	}
	return b, nil
}

// AdvanceOffsets moves the global offsets past the segment that just ended.
// Called exactly once per switch, after the outgoing segment's last packet
// and before the incoming segment's first. Before the first activation it is
// a no-op.
func (c *Continuity) AdvanceOffsets() {
	if !c.offsetsInit || !c.segActive {
		return
	}
	if c.maxOutSet {
		c.ptsOffset = (c.maxOutPTS + c.guard) % mpegts.PTSWrap
	} else {
		// No timestamp ever left this segment; fall back to elapsed wall
		// time in 90 kHz ticks.
		elapsed := c.now().Sub(c.segmentStart)
		ticks := mpegts.PTS(elapsed.Seconds() * mpegts.PTSClockHz)
		c.ptsOffset = (c.ptsOffset + ticks) % mpegts.PTSWrap
	}
	c.pcrOffset = c.ptsOffset.ToPCR()
	c.segActive = false
	c.log.Info("advanced global offsets",
		"pts_offset", int64(c.ptsOffset), "pcr_offset", int64(c.pcrOffset))
}

// ActivateSegment installs scanned bases for the incoming segment. At the
// very first activation the global offsets are initialized to the source
// base itself, making the first segment a pass-through: both PTS and PCR
// keep their original values and the decoder's PCR/PTS headroom survives
// intact.
func (c *Continuity) ActivateSegment(b Bases, pm *mpegts.ProgramMap) {
	if !c.offsetsInit {
		c.ptsOffset = b.Base
		c.pcrOffset = b.Base.ToPCR()
		c.offsetsInit = true
	}
	c.basePTS = b.Base
	c.basePCR = b.Base.ToPCR()
	c.align = b.Align
	c.videoPID = pm.VideoPID
	c.audioPID = pm.AudioPID
	c.pcrPID = pm.PCRPID
	c.lastInSet = false
	c.maxOutSet = false
	c.segActive = true
	c.segmentStart = c.now()
	c.log.Info("segment activated",
		"base_pts", int64(b.Base), "align", int64(b.Align),
		"pts_offset", int64(c.ptsOffset))
}

// RebasePTS maps a source timestamp onto the output timeline using the
// active segment's base.
func (c *Continuity) RebasePTS(v mpegts.PTS) mpegts.PTS {
	return v.Rebase(c.basePTS, c.ptsOffset)
}

// Rewrite rebases every timestamp carried by p in place: the PCR in the
// adaptation field and the PTS/DTS in a PES header starting in this packet.
// Packets processed before any segment is active pass through untouched.
func (c *Continuity) Rewrite(p *mpegts.Packet) {
	if !c.segActive {
		return
	}

	if p.HasPCR && p.PID == c.pcrPID {
		p.SetPCR(p.PCR.Rebase(c.basePCR, c.pcrOffset))
		c.lastOutPCR = p.PCR
	}

	if !p.PayloadUnitStartIndicator || (p.PID != c.videoPID && p.PID != c.audioPID) {
		return
	}
	payload := p.Payload()
	if !mpegts.IsPESStart(payload) {
		return
	}
	hdr, err := mpegts.ParsePESHeader(payload)
	if err != nil || !hdr.HasPTS {
		return
	}

	if p.PID == c.videoPID {
		c.observeVideoPTS(hdr.PTS)
	}

	out := hdr.PTS.Rebase(c.basePTS, c.ptsOffset)
	hdr.SetPTS(payload, out)
	if hdr.HasDTS {
		hdr.SetDTS(payload, hdr.DTS.Rebase(c.basePTS, c.ptsOffset))
	}

	if !c.maxOutSet || c.maxOutPTS.Delta(out) > 0 {
		c.maxOutPTS = out
		c.maxOutSet = true
	}
}

// observeVideoPTS watches the raw video timeline for discontinuities inside
// a segment. A backward jump beyond half the 33-bit range is a clock wrap
// and needs no action (the modular rebase already maps it forward). A large
// but smaller backward jump is the source content looping; the segment is
// rebased in place so the output timeline keeps advancing.
func (c *Continuity) observeVideoPTS(raw mpegts.PTS) {
	if c.lastInSet && c.lastInPTS.IsLoopRestart(raw, c.loopThreshold) {
		if c.maxOutSet {
			c.ptsOffset = (c.maxOutPTS + c.guard) % mpegts.PTSWrap
			c.pcrOffset = c.ptsOffset.ToPCR()
		}
		c.basePTS = raw
		c.basePCR = raw.ToPCR()
		c.log.Info("source loop detected, rebased in place",
			"raw_pts", int64(raw), "pts_offset", int64(c.ptsOffset))
	}
	c.lastInPTS = raw
	c.lastInSet = true
}

// MaxOutputPTS returns the highest PTS emitted so far on the output
// timeline, and whether any has been emitted.
func (c *Continuity) MaxOutputPTS() (mpegts.PTS, bool) {
	return c.maxOutPTS, c.maxOutSet
}

// Offsets returns the current global offsets, for diagnostics.
func (c *Continuity) Offsets() (mpegts.PTS, mpegts.PCR) {
	return c.ptsOffset, c.pcrOffset
}
