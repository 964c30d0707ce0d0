package source

import (
	"log/slog"
	"time"

	"github.com/zsiec/seam/internal/avc"
	"github.com/zsiec/seam/internal/mpegts"
	"github.com/zsiec/seam/internal/splice"
)

// defaultAudioSyncWait bounds how long the detector waits for the first
// audio payload start after an IDR before falling back to the splice index.
const defaultAudioSyncWait = 5 * time.Second

// Detector tags clean splice points on a source's buffer. It accumulates the
// video PES payload across payload-start boundaries; when a completed PES
// contains an IDR slice, the buffer position where that PES began is marked
// as the latest splice point. SPS/PPS units found along the way refresh the
// parameter-set cache.
//
// With an audio stream present, readiness additionally requires the first
// audio payload start at or after the splice position, found by watching the
// audio PID independently. If it does not arrive within the wait bound, the
// splice position itself is used so the engine never blocks on audio.
type Detector struct {
	log    *slog.Logger
	buf    *RollingBuffer
	params *splice.ParameterSetCache

	audioSyncWait time.Duration
	now           func() time.Time

	videoPID   uint16
	audioPID   uint16
	hasAudio   bool
	configured bool

	acc      []byte
	accStart int64
	accValid bool

	awaitingAudio bool
	awaitPos      int64
	awaitDeadline time.Time
}

// NewDetector creates a Detector writing marks into buf and parameter sets
// into params. If log is nil, slog.Default() is used.
func NewDetector(buf *RollingBuffer, params *splice.ParameterSetCache, log *slog.Logger, opts ...func(*Detector)) *Detector {
	if log == nil {
		log = slog.Default()
	}
	d := &Detector{
		log:           log.With("component", "detector"),
		buf:           buf,
		params:        params,
		audioSyncWait: defaultAudioSyncWait,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectorOptAudioSyncWait overrides the audio-sync wait bound.
func DetectorOptAudioSyncWait(d time.Duration) func(*Detector) {
	return func(det *Detector) {
		if d > 0 {
			det.audioSyncWait = d
		}
	}
}

// DetectorOptClock overrides the clock, for tests.
func DetectorOptClock(now func() time.Time) func(*Detector) {
	return func(det *Detector) {
		det.now = now
	}
}

// Configure binds the detector to the discovered program. Called once the
// analyzer's ProgramMap is ready.
func (d *Detector) Configure(pm *mpegts.ProgramMap) {
	d.videoPID = pm.VideoPID
	d.audioPID = pm.AudioPID
	d.hasAudio = pm.HasAudio
	d.configured = true
}

// Reset clears all accumulation state for a reconnected ingest loop.
func (d *Detector) Reset() {
	d.configured = false
	d.videoPID, d.audioPID, d.hasAudio = 0, 0, false
	d.acc = nil
	d.accValid = false
	d.awaitingAudio = false
}

// Feed processes one packet at its absolute buffer position.
func (d *Detector) Feed(p *mpegts.Packet, pos int64) {
	if !d.configured {
		return
	}

	if d.awaitingAudio && d.now().After(d.awaitDeadline) {
		// Audio never lined up; use the splice position itself.
		d.log.Warn("audio sync wait expired, falling back to splice index")
		d.buf.MarkAudioSync(d.awaitPos)
		d.awaitingAudio = false
	}

	switch p.PID {
	case d.videoPID:
		d.feedVideo(p, pos)
	case d.audioPID:
		if d.hasAudio && d.awaitingAudio && p.PayloadUnitStartIndicator && pos >= d.awaitPos {
			d.buf.MarkAudioSync(pos)
			d.awaitingAudio = false
		}
	}
}

func (d *Detector) feedVideo(p *mpegts.Packet, pos int64) {
	if p.PayloadUnitStartIndicator {
		if d.accValid && len(d.acc) > 0 {
			d.finishPES()
		}
		d.acc = d.acc[:0]
		d.accStart = pos
		d.accValid = true
	}
	if d.accValid {
		d.acc = append(d.acc, p.Payload()...)
	}
}

// finishPES inspects a completed video PES accumulation for parameter sets
// and an IDR slice.
func (d *Detector) finishPES() {
	hdr, err := mpegts.ParsePESHeader(d.acc)
	if err != nil {
		return
	}
	es := d.acc[hdr.DataOffset:]

	idr := false
	for _, u := range avc.ParseAnnexB(es) {
		switch u.Type {
		case avc.NALTypeSPS:
			d.params.SetSPS(u.Data)
		case avc.NALTypePPS:
			d.params.SetPPS(u.Data)
		case avc.NALTypeIDR:
			idr = true
		}
	}
	if !idr {
		return
	}

	d.buf.MarkSplice(d.accStart)
	if !d.hasAudio {
		d.buf.MarkAudioSync(d.accStart)
		return
	}
	d.awaitingAudio = true
	d.awaitPos = d.accStart
	d.awaitDeadline = d.now().Add(d.audioSyncWait)
}
