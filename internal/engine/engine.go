// Package engine runs the switching state machine and the single output
// task. It reads published state from the sources, decides which one should
// be on air, executes splice-aligned switches, and pushes every emitted
// packet through the shared timeline before it reaches the sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/seam/internal/mpegts"
	"github.com/zsiec/seam/internal/source"
	"github.com/zsiec/seam/internal/splice"
	"github.com/zsiec/seam/internal/timeline"
)

const (
	defaultPollInterval     = 200 * time.Millisecond
	defaultSpliceWait       = 5 * time.Second
	defaultStaleness        = 2 * time.Second
	defaultBitrateFloor     = 100_000
	defaultMinHealthyStreak = 500
	defaultReceiveMax       = 64

	// maxEvents bounds the retained splice-event history.
	maxEvents = 64
)

// Feed is the engine's view of one ingest source. *source.Source satisfies
// it; tests substitute stubs.
type Feed interface {
	Name() string
	Run(ctx context.Context) error
	Connected() bool
	Ready() bool
	Healthy(staleness time.Duration, bitrateFloor int64) bool
	HealthyStreak() int64
	Buffer() *source.RollingBuffer
	Params() *splice.ParameterSetCache
	Tables() (pat, pmt []*mpegts.Packet)
	ProgramMap() *mpegts.ProgramMap
	Stats() source.Stats
}

// SpliceEvent records one executed switch.
type SpliceEvent struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Config describes the engine's sources, sink, and switching policy.
type Config struct {
	Sink     PacketWriter
	Live     []Feed
	Fallback Feed

	// PollInterval is how often the switching decision is re-evaluated.
	PollInterval time.Duration
	// SpliceWait bounds how long one switch attempt waits for a fresh
	// splice point before failing in place.
	SpliceWait time.Duration
	// Staleness and BitrateFloor parameterize per-feed health.
	Staleness    time.Duration
	BitrateFloor int64
	// MinHealthyStreak is how many packets a live feed must deliver after a
	// disconnect before it can take over from the fallback again.
	MinHealthyStreak int64
	// ReceiveMax is the output loop's per-iteration packet batch size.
	ReceiveMax int
}

// Engine is the single consumer of all source buffers and the sole writer of
// the output stream.
type Engine struct {
	log *slog.Logger
	cfg Config

	cont *timeline.Continuity
	norm *timeline.Normalizer
	inj  *splice.Injector

	privacy atomic.Bool

	mu        sync.Mutex
	active    Feed
	preferred string
	events    []SpliceEvent
}

// New creates an Engine. Zero policy fields take defaults.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("engine: sink is required")
	}
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("engine: fallback feed is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SpliceWait <= 0 {
		cfg.SpliceWait = defaultSpliceWait
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = defaultStaleness
	}
	if cfg.BitrateFloor == 0 {
		cfg.BitrateFloor = defaultBitrateFloor
	}
	if cfg.MinHealthyStreak <= 0 {
		cfg.MinHealthyStreak = defaultMinHealthyStreak
	}
	if cfg.ReceiveMax <= 0 {
		cfg.ReceiveMax = defaultReceiveMax
	}
	return &Engine{
		log:  log.With("component", "engine"),
		cfg:  cfg,
		cont: timeline.NewContinuity(log),
		norm: timeline.NewNormalizer(),
		inj:  splice.NewInjector(log),
	}, nil
}

// SetPrivacy forces the fallback on (true) or releases it (false). The
// actual switch happens at the next evaluation, splice-aligned as always.
func (e *Engine) SetPrivacy(on bool) {
	e.privacy.Store(on)
	e.log.Info("privacy mode", "on", on)
}

// Privacy reports whether privacy mode is engaged.
func (e *Engine) Privacy() bool { return e.privacy.Load() }

// SetPreferred names the live feed that should take over as soon as it is
// ready and healthy, bypassing the healthy-streak damping. An empty name
// clears the preference.
func (e *Engine) SetPreferred(name string) {
	e.mu.Lock()
	e.preferred = name
	e.mu.Unlock()
	e.log.Info("preferred source set", "name", name)
}

// Active returns the name of the on-air feed, or "" before first activation.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.Name()
}

// Events returns a copy of the retained splice-event history, oldest first.
func (e *Engine) Events() []SpliceEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SpliceEvent(nil), e.events...)
}

// SourceStats returns a stats snapshot for every configured feed.
func (e *Engine) SourceStats() []source.Stats {
	out := make([]source.Stats, 0, len(e.cfg.Live)+1)
	for _, f := range e.cfg.Live {
		out = append(out, f.Stats())
	}
	out = append(out, e.cfg.Fallback.Stats())
	return out
}

// Run drives the engine until ctx is cancelled: re-evaluate the on-air
// decision, execute at most one switch per iteration, and drain the active
// buffer into the sink. A sink write error is fatal.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		e.evaluate(ctx)

		e.mu.Lock()
		active := e.active
		e.mu.Unlock()
		if active == nil {
			if !sleepCtx(ctx, e.cfg.PollInterval) {
				return nil
			}
			continue
		}

		// Receive's timeout doubles as the evaluation cadence.
		for _, p := range active.Buffer().Receive(e.cfg.ReceiveMax, e.cfg.PollInterval) {
			e.cont.Rewrite(p)
			e.norm.Apply(p)
			if err := e.cfg.Sink.WritePacket(p); err != nil {
				return fmt.Errorf("engine: sink write: %w", err)
			}
		}
	}
}

// evaluate compares the desired feed against the active one and executes the
// switch when they differ. A failed switch leaves the active feed on air.
func (e *Engine) evaluate(ctx context.Context) {
	e.mu.Lock()
	active := e.active
	preferred := e.preferred
	e.mu.Unlock()

	target, reason := e.desired(active, preferred)
	if target == nil || target == active {
		return
	}
	if err := e.switchTo(ctx, target, reason); err != nil {
		e.log.Warn("switch failed, staying on current source",
			"target", target.Name(), "reason", reason, "error", err)
	}
}

// desired picks the feed that should be on air right now.
func (e *Engine) desired(active Feed, preferred string) (Feed, string) {
	if e.privacy.Load() {
		if active == e.cfg.Fallback {
			return nil, ""
		}
		return e.cfg.Fallback, "privacy"
	}

	healthy := func(f Feed) bool {
		return f.Ready() && f.Healthy(e.cfg.Staleness, e.cfg.BitrateFloor)
	}

	// An explicit preference bypasses the streak damping.
	if preferred != "" {
		for _, f := range e.cfg.Live {
			if f.Name() == preferred && f != active && healthy(f) {
				return f, "preferred"
			}
		}
	}

	if active != nil && active != e.cfg.Fallback {
		if healthy(active) {
			return nil, ""
		}
		return e.cfg.Fallback, "live unhealthy"
	}

	// On fallback (or nothing yet): promote a live feed only once it has
	// proven itself, so a flapping link does not cause switch storms.
	for _, f := range e.cfg.Live {
		if healthy(f) && f.HealthyStreak() >= e.cfg.MinHealthyStreak {
			if active == nil {
				return f, "startup"
			}
			return f, "live recovered"
		}
	}

	if active == nil && e.cfg.Fallback.Ready() {
		return e.cfg.Fallback, "startup"
	}
	return nil, ""
}

// switchTo executes one splice-aligned switch onto target. Nothing about the
// shared timeline is mutated until the target has produced a usable splice
// window, so failure at any step leaves the output exactly as it was.
func (e *Engine) switchTo(ctx context.Context, target Feed, reason string) error {
	buf := target.Buffer()
	buf.ResetForNewLoop()
	if err := buf.WaitSpliceReady(ctx, e.cfg.SpliceWait); err != nil {
		return err
	}

	pm := target.ProgramMap()
	if !pm.Ready() {
		return fmt.Errorf("engine: %s has no program map", target.Name())
	}

	snapshot := buf.Snapshot(source.FromSplice)
	bases, err := e.cont.ScanBases(snapshot, pm)
	if err != nil {
		return err
	}

	// Point of no return: advance past the outgoing segment and activate
	// the incoming one.
	e.cont.AdvanceOffsets()
	e.cont.ActivateSegment(bases, pm)

	// Injected packets already carry output-timeline timestamps, so they
	// bypass the rewrite and only take a continuity counter.
	emit := func(p *mpegts.Packet) error {
		e.norm.Apply(p)
		return e.cfg.Sink.WritePacket(p)
	}
	pat, pmt := target.Tables()
	idrPTS := e.cont.RebasePTS(bases.FirstVideoPTS)
	if err := e.inj.Inject(emit, pat, pmt, target.Params(), pm, idrPTS); err != nil {
		return fmt.Errorf("engine: inject: %w", err)
	}

	for _, p := range snapshot {
		e.cont.Rewrite(p)
		e.norm.Apply(p)
		if err := e.cfg.Sink.WritePacket(p); err != nil {
			return fmt.Errorf("engine: sink write: %w", err)
		}
	}
	buf.SeekToSnapshotEnd()

	e.mu.Lock()
	from := ""
	if e.active != nil {
		from = e.active.Name()
	}
	e.active = target
	ev := SpliceEvent{
		ID:     uuid.NewString(),
		From:   from,
		To:     target.Name(),
		Reason: reason,
		At:     time.Now(),
	}
	e.events = append(e.events, ev)
	if len(e.events) > maxEvents {
		e.events = e.events[len(e.events)-maxEvents:]
	}
	e.mu.Unlock()

	e.log.Info("switched source", "from", from, "to", target.Name(), "reason", reason)
	return nil
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
