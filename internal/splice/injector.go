package splice

import (
	"log/slog"

	"github.com/zsiec/seam/internal/mpegts"
)

// defaultTableRepeat is how many times the PAT and PMT are replayed at a
// splice so a decoder catches the update promptly.
const defaultTableRepeat = 3

// videoStreamID is the PES stream id the parameter-set packet is sent on.
const videoStreamID = 0xE0

// Injector emits synthetic packets at a switch boundary, before packet flow
// resumes: the stored PAT and PMT (repeated), then a PES packet carrying the
// cached SPS and PPS timestamped at the upcoming IDR. Injection is
// best-effort; anything not cached yet is silently skipped.
type Injector struct {
	log    *slog.Logger
	repeat int
}

// NewInjector creates an Injector. If log is nil, slog.Default() is used.
func NewInjector(log *slog.Logger) *Injector {
	if log == nil {
		log = slog.Default()
	}
	return &Injector{
		log:    log.With("component", "injector"),
		repeat: defaultTableRepeat,
	}
}

// Inject emits the boundary packets through emit. pat and pmt are the stored
// table packets from whichever source last parsed valid tables; PMT packets
// carried on a different PID than the output program's PMT PID are remapped
// before emission. idrPTS is the rebased presentation time of the upcoming
// IDR, used to timestamp the parameter-set PES.
func (i *Injector) Inject(
	emit func(*mpegts.Packet) error,
	pat, pmt []*mpegts.Packet,
	params *ParameterSetCache,
	pm *mpegts.ProgramMap,
	idrPTS mpegts.PTS,
) error {
	if len(pat) == 0 || len(pmt) == 0 {
		i.log.Debug("no stored tables, skipping table replay")
	} else {
		for n := 0; n < i.repeat; n++ {
			for _, p := range pat {
				if err := emit(p.Clone()); err != nil {
					return err
				}
			}
			for _, p := range pmt {
				c := p.Clone()
				if c.PID != pm.PMTPID {
					c.SetPID(pm.PMTPID)
				}
				if err := emit(c); err != nil {
					return err
				}
			}
		}
	}

	sps, pps, ok := params.Snapshot()
	if !ok {
		i.log.Debug("no cached parameter sets, skipping")
		return nil
	}

	es := make([]byte, 0, 8+len(sps)+len(pps))
	es = append(es, 0x00, 0x00, 0x00, 0x01)
	es = append(es, sps...)
	es = append(es, 0x00, 0x00, 0x00, 0x01)
	es = append(es, pps...)

	pes := mpegts.BuildPES(videoStreamID, idrPTS, es)
	for _, p := range mpegts.Packetize(pm.VideoPID, pes) {
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}
