package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/seam/internal/ingest"
	"github.com/zsiec/seam/internal/mpegts"
	"github.com/zsiec/seam/internal/splice"
)

const (
	defaultReadBufferSize = 32 * 1024
	defaultBackoffMin     = 500 * time.Millisecond
	defaultBackoffMax     = 10 * time.Second

	// bitrateWindow is the sliding window over which ingest bitrate is
	// estimated for the health floor check.
	bitrateWindow = 3 * time.Second
)

// Config describes one ingest source.
type Config struct {
	Name          string
	Dialer        ingest.Dialer
	BufferCap     int
	AudioSyncWait time.Duration
	ReadBuffer    int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
}

// Stats is a read-only snapshot of a source's connection and stream state,
// exposed for the external monitoring layer.
type Stats struct {
	Name          string                  `json:"name"`
	Connected     bool                    `json:"connected"`
	Ready         bool                    `json:"ready"`
	BytesReceived int64                   `json:"bytesReceived"`
	Packets       int64                   `json:"packets"`
	BitrateBps    int64                   `json:"bitrateBps"`
	HealthyStreak int64                   `json:"healthyStreak"`
	Reconnects    int64                   `json:"reconnects"`
	Reassembler   mpegts.ReassemblerStats `json:"reassembler"`
}

type bitratePoint struct {
	at    time.Time
	bytes int64
}

// Source runs one ingest path: dial, reassemble, analyze, detect, buffer;
// reconnect with backoff forever on failure. It is the sole writer of its
// RollingBuffer and parameter-set cache. Readiness, health, and the
// discovered program map are published for cross-task reads.
type Source struct {
	log *slog.Logger
	cfg Config

	buf    *RollingBuffer
	params *splice.ParameterSetCache
	reasm  *mpegts.Reassembler

	pm     atomic.Pointer[mpegts.ProgramMap]
	tables atomic.Pointer[tableSet]

	connected     atomic.Bool
	lastData      atomic.Int64 // unix nanos
	bytesReceived atomic.Int64
	packets       atomic.Int64
	healthyStreak atomic.Int64
	reconnects    atomic.Int64

	windowMu sync.Mutex
	window   []bitratePoint
}

type tableSet struct {
	pat []*mpegts.Packet
	pmt []*mpegts.Packet
}

// New creates a Source from cfg. Zero config fields take defaults.
func New(cfg Config, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = defaultReadBufferSize
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	return &Source{
		log:    log.With("component", "source", "source", cfg.Name),
		cfg:    cfg,
		buf:    NewRollingBuffer(cfg.BufferCap),
		params: &splice.ParameterSetCache{},
		reasm:  mpegts.NewReassembler(),
	}
}

// Name returns the source's configured name.
func (s *Source) Name() string { return s.cfg.Name }

// Buffer returns the source's rolling buffer.
func (s *Source) Buffer() *RollingBuffer { return s.buf }

// Params returns the source's parameter-set cache.
func (s *Source) Params() *splice.ParameterSetCache { return s.params }

// ProgramMap returns the published program map, nil until discovery.
func (s *Source) ProgramMap() *mpegts.ProgramMap { return s.pm.Load() }

// Tables returns the stored PAT and PMT packets from the last valid parse.
func (s *Source) Tables() (pat, pmt []*mpegts.Packet) {
	t := s.tables.Load()
	if t == nil {
		return nil, nil
	}
	return t.pat, t.pmt
}

// Connected reports whether the ingest connection is currently up.
func (s *Source) Connected() bool { return s.connected.Load() }

// Ready reports structural readiness: program map complete and an IDR found.
func (s *Source) Ready() bool {
	return s.pm.Load().Ready() && s.buf.InitialSpliceKnown()
}

// Healthy reports whether the source is connected, delivering data fresher
// than staleness, and above the bitrate floor.
func (s *Source) Healthy(staleness time.Duration, bitrateFloor int64) bool {
	if !s.connected.Load() {
		return false
	}
	last := s.lastData.Load()
	if last == 0 || time.Since(time.Unix(0, last)) > staleness {
		return false
	}
	if bitrateFloor > 0 && s.Bitrate() < bitrateFloor {
		return false
	}
	return true
}

// HealthyStreak returns the number of packets ingested since the last
// disconnect, used to damp Fallback-to-Live oscillation.
func (s *Source) HealthyStreak() int64 { return s.healthyStreak.Load() }

// Bitrate estimates the ingest bitrate in bits per second over the sliding
// window.
func (s *Source) Bitrate() int64 {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()
	if len(s.window) < 2 {
		return 0
	}
	first, last := s.window[0], s.window[len(s.window)-1]
	elapsed := last.at.Sub(first.at)
	if elapsed <= 0 {
		return 0
	}
	return (last.bytes - first.bytes) * 8 * int64(time.Second) / int64(elapsed)
}

// Stats returns a snapshot for the monitoring layer.
func (s *Source) Stats() Stats {
	return Stats{
		Name:          s.cfg.Name,
		Connected:     s.connected.Load(),
		Ready:         s.Ready(),
		BytesReceived: s.bytesReceived.Load(),
		Packets:       s.packets.Load(),
		BitrateBps:    s.Bitrate(),
		HealthyStreak: s.healthyStreak.Load(),
		Reconnects:    s.reconnects.Load(),
		Reassembler:   s.reasm.Stats(),
	}
}

// Run dials and re-dials the source until ctx is cancelled. Reconnection is
// the only unbounded retry loop in the engine, and it backs off rather than
// spins.
func (s *Source) Run(ctx context.Context) error {
	backoff := s.cfg.BackoffMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.cfg.Dialer.Dial(ctx)
		if err != nil {
			s.log.Warn("dial failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, s.cfg.BackoffMax)
			continue
		}
		backoff = s.cfg.BackoffMin
		s.reconnects.Add(1)

		s.runConnection(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Info("connection lost, reconnecting")
	}
}

// runConnection resets all per-connection state, then reads until error or
// cancellation. Program map, parameter sets, and buffer contents never
// survive a reconnect.
func (s *Source) runConnection(ctx context.Context, conn io.ReadCloser) {
	defer conn.Close()

	analyzer := NewAnalyzer(s.log)
	detector := NewDetector(s.buf, s.params, s.log,
		DetectorOptAudioSyncWait(s.cfg.AudioSyncWait))

	s.reasm.Reset()
	s.buf.Reset()
	s.params.Reset()
	s.pm.Store(nil)
	s.tables.Store(nil)
	s.healthyStreak.Store(0)
	s.resetWindow()

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.log.Info("connected", "dialer", s.cfg.Dialer.Name())

	// Close the connection when ctx ends so the blocking Read returns.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-readCtx.Done()
		conn.Close()
	}()

	buf := make([]byte, s.cfg.ReadBuffer)
	lastGen := 0
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.ingestChunk(buf[:n], analyzer, detector, &lastGen)
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.log.Warn("read error", "error", err)
			}
			return
		}
	}
}

func (s *Source) ingestChunk(chunk []byte, analyzer *Analyzer, detector *Detector, lastGen *int) {
	now := time.Now()
	s.lastData.Store(now.UnixNano())
	s.bytesReceived.Add(int64(len(chunk)))
	s.recordWindow(now)

	s.reasm.Write(chunk)
	for {
		pkt, ok := s.reasm.Next()
		if !ok {
			return
		}
		pos := s.buf.Append(pkt)
		s.packets.Add(1)
		s.healthyStreak.Add(1)

		analyzer.Feed(pkt)
		if analyzer.Ready() {
			if !detector.configured {
				pm := analyzer.ProgramMap()
				detector.Configure(pm)
				s.pm.Store(pm)
			}
			if gen := analyzer.Generation(); gen != *lastGen {
				pat, pmt := analyzer.TablePackets()
				s.tables.Store(&tableSet{pat: pat, pmt: pmt})
				*lastGen = gen
			}
		}
		detector.Feed(pkt, pos)
	}
}

func (s *Source) recordWindow(now time.Time) {
	s.windowMu.Lock()
	s.window = append(s.window, bitratePoint{at: now, bytes: s.bytesReceived.Load()})
	for len(s.window) > 1 && now.Sub(s.window[0].at) > bitrateWindow {
		s.window = s.window[1:]
	}
	s.windowMu.Unlock()
}

func (s *Source) resetWindow() {
	s.windowMu.Lock()
	s.window = nil
	s.windowMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
