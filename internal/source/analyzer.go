package source

import (
	"log/slog"

	"github.com/zsiec/seam/internal/mpegts"
)

// Analyzer watches PID 0 for the PAT, registers interest in the announced
// PMT PID, and builds the ProgramMap once both tables have parsed. The first
// PID seen of each codec class wins; later matches of the same class are
// ignored. Malformed sections are dropped and the map simply stays not-ready
// until a valid table arrives.
//
// The raw packets carrying the most recent complete PAT and PMT sections are
// retained for the splice injector to replay.
type Analyzer struct {
	log *slog.Logger

	patAsm mpegts.SectionAssembler
	pmtAsm mpegts.SectionAssembler

	pmtPID uint16
	pm     *mpegts.ProgramMap

	patPending []*mpegts.Packet
	pmtPending []*mpegts.Packet
	patPackets []*mpegts.Packet
	pmtPackets []*mpegts.Packet

	generation int
}

// NewAnalyzer creates an Analyzer. If log is nil, slog.Default() is used.
func NewAnalyzer(log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{log: log.With("component", "analyzer")}
}

// Feed processes one packet. Only PID 0 and the discovered PMT PID are
// examined; everything else passes through untouched.
func (a *Analyzer) Feed(p *mpegts.Packet) {
	switch {
	case p.PID == mpegts.PIDPAT:
		if p.PayloadUnitStartIndicator {
			a.patPending = a.patPending[:0]
		}
		a.patPending = append(a.patPending, p.Clone())
		for _, section := range a.patAsm.Feed(p) {
			a.handlePAT(section)
		}

	case a.pmtPID != 0 && p.PID == a.pmtPID:
		if p.PayloadUnitStartIndicator {
			a.pmtPending = a.pmtPending[:0]
		}
		a.pmtPending = append(a.pmtPending, p.Clone())
		for _, section := range a.pmtAsm.Feed(p) {
			a.handlePMT(section)
		}
	}
}

func (a *Analyzer) handlePAT(section []byte) {
	pat, err := mpegts.ParsePAT(section)
	if err != nil || len(pat.Programs) == 0 {
		return
	}
	prog := pat.Programs[0]
	if a.pmtPID != prog.ProgramMapID {
		a.pmtPID = prog.ProgramMapID
		a.pmtAsm.Reset()
		a.log.Debug("PAT parsed", "program", prog.ProgramNumber, "pmt_pid", a.pmtPID)
	}
	a.patPackets = append([]*mpegts.Packet(nil), a.patPending...)
	a.generation++
}

func (a *Analyzer) handlePMT(section []byte) {
	pmt, err := mpegts.ParsePMT(section)
	if err != nil {
		return
	}

	// Build a fresh map; never mutate an existing one in place.
	pm := &mpegts.ProgramMap{
		ProgramNumber: pmt.ProgramNumber,
		PMTPID:        a.pmtPID,
		PCRPID:        pmt.PCRPID,
	}
	for _, es := range pmt.ElementaryStreams {
		switch {
		case mpegts.IsVideoType(es.StreamType) && pm.VideoPID == 0:
			pm.VideoPID = es.ElementaryPID
			pm.VideoType = es.StreamType
		case mpegts.IsAudioType(es.StreamType) && !pm.HasAudio:
			pm.AudioPID = es.ElementaryPID
			pm.AudioType = es.StreamType
			pm.HasAudio = true
		}
	}
	if pm.PCRPID == 0 || pm.PCRPID == mpegts.MaxPID {
		pm.PCRPID = pm.VideoPID
	}

	if !pm.Ready() {
		return
	}
	a.pm = pm
	a.pmtPackets = append([]*mpegts.Packet(nil), a.pmtPending...)
	a.generation++
	a.log.Info("program map ready",
		"program", pm.ProgramNumber,
		"video_pid", pm.VideoPID, "video_type", pm.VideoType,
		"audio_pid", pm.AudioPID, "has_audio", pm.HasAudio,
		"pcr_pid", pm.PCRPID,
	)
}

// Ready reports whether a complete ProgramMap is available.
func (a *Analyzer) Ready() bool {
	return a.pm.Ready()
}

// ProgramMap returns the discovered map, or nil before readiness.
func (a *Analyzer) ProgramMap() *mpegts.ProgramMap {
	return a.pm
}

// TablePackets returns the stored packets of the last complete PAT and PMT.
func (a *Analyzer) TablePackets() (pat, pmt []*mpegts.Packet) {
	return a.patPackets, a.pmtPackets
}

// Generation increments whenever a stored table is replaced, letting the
// caller republish only on change.
func (a *Analyzer) Generation() int {
	return a.generation
}

// Reset discards all table state for a reconnected ingest loop. Old and new
// table state are never merged.
func (a *Analyzer) Reset() {
	a.patAsm.Reset()
	a.pmtAsm.Reset()
	a.pmtPID = 0
	a.pm = nil
	a.patPending = nil
	a.pmtPending = nil
	a.patPackets = nil
	a.pmtPackets = nil
	a.generation = 0
}
