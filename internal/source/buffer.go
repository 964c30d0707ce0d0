// Package source implements one ingest path: program discovery, splice-point
// detection, the rolling packet history buffer, and the reconnecting read
// loop that feeds them. Each source owns its path exclusively; the switching
// engine only reads published state and consumes buffered packets.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/seam/internal/mpegts"
)

// defaultBufferCap bounds the rolling history to ~3 seconds at 2 Mbps.
const defaultBufferCap = 1500

// ErrSpliceWaitTimeout is returned when no fresh splice point (with audio
// sync) became available within the caller's deadline.
var ErrSpliceWaitTimeout = errors.New("source: timed out waiting for splice point")

// SnapshotStart selects where a buffer snapshot begins.
type SnapshotStart int

const (
	// FromSplice starts the snapshot at the most recent IDR.
	FromSplice SnapshotStart = iota
	// FromAudioSync starts at the first audio payload-start at or after the
	// most recent IDR.
	FromAudioSync
)

// BufferIndices is a snapshot of the buffer's named positions, relative to
// the current front of the buffer (clamped at zero after trims).
type BufferIndices struct {
	InitialSplice int
	LatestSplice  int
	AudioSync     int
	ConsumeCursor int
	SnapshotEnd   int
}

// RollingBuffer holds one source's packet history together with the named
// indices the splicer needs: the first and latest IDR positions, the audio
// sync position, the output consume cursor, and the end of the last snapshot.
//
// Internally positions are absolute (monotonic over the life of the
// connection) so marks recorded before a trim stay valid; trims move the
// window base instead of renumbering. The exported views are front-relative.
//
// A single mutex serializes appends, trims, marks, snapshots, and receives,
// so a snapshot can never interleave with a trim.
type RollingBuffer struct {
	mu     sync.Mutex
	signal chan struct{}

	packets []*mpegts.Packet
	base    int64 // absolute position of packets[0]
	cap     int

	initialSplice int64
	initialSet    bool
	latestSplice  int64
	spliceFresh   bool
	audioSync     int64
	audioSyncSet  bool
	consumeCursor int64
	snapshotEnd   int64
}

// NewRollingBuffer creates a buffer capped at capPackets (0 means the
// default of 1500).
func NewRollingBuffer(capPackets int) *RollingBuffer {
	if capPackets <= 0 {
		capPackets = defaultBufferCap
	}
	return &RollingBuffer{
		signal: make(chan struct{}),
		cap:    capPackets,
	}
}

// Append adds a packet to the history and returns its absolute position.
// Once the first splice point is known, the history is trimmed to capacity;
// it is never trimmed before then, so the first splice point stays
// addressable.
func (b *RollingBuffer) Append(p *mpegts.Packet) int64 {
	b.mu.Lock()
	pos := b.base + int64(len(b.packets))
	b.packets = append(b.packets, p)
	if b.initialSet && len(b.packets) > b.cap {
		b.dropFront(len(b.packets) - b.cap)
	}
	b.notify()
	b.mu.Unlock()
	return pos
}

// MarkSplice records an IDR at absolute position pos. The first mark ever
// also sets the initial splice index, exactly once.
func (b *RollingBuffer) MarkSplice(pos int64) {
	b.mu.Lock()
	b.latestSplice = pos
	b.spliceFresh = true
	if !b.initialSet {
		b.initialSplice = pos
		b.initialSet = true
	}
	b.notify()
	b.mu.Unlock()
}

// MarkAudioSync records the audio sync position for the latest splice.
func (b *RollingBuffer) MarkAudioSync(pos int64) {
	b.mu.Lock()
	b.audioSync = pos
	b.audioSyncSet = true
	b.notify()
	b.mu.Unlock()
}

// InitialSpliceKnown reports whether an IDR has ever been found.
func (b *RollingBuffer) InitialSpliceKnown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialSet
}

// SpliceReady reports whether a fresh splice point, with its audio sync
// position, is available since the last ResetForNewLoop.
func (b *RollingBuffer) SpliceReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spliceFresh && b.audioSyncSet
}

// WaitSpliceReady blocks until SpliceReady, the timeout elapses, or ctx is
// cancelled. On timeout it returns ErrSpliceWaitTimeout so the caller can
// fail the switch attempt instead of blocking the processing loop.
func (b *RollingBuffer) WaitSpliceReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		b.mu.Lock()
		ready := b.spliceFresh && b.audioSyncSet
		ch := b.signal
		b.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-deadline.C:
			return ErrSpliceWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResetForNewLoop re-arms splice detection: it clears only the splice and
// audio-sync readiness so the detector must find a fresh clean point, while
// keeping the buffered backlog and the set-once initial splice index.
// Calling it repeatedly without new data changes nothing further.
func (b *RollingBuffer) ResetForNewLoop() {
	b.mu.Lock()
	b.spliceFresh = false
	b.audioSyncSet = false
	b.mu.Unlock()
}

// Reset clears everything for a reconnected ingest loop: packets, indices,
// and readiness, including the initial splice index.
func (b *RollingBuffer) Reset() {
	b.mu.Lock()
	b.packets = nil
	b.base = 0
	b.initialSplice, b.latestSplice, b.audioSync = 0, 0, 0
	b.consumeCursor, b.snapshotEnd = 0, 0
	b.initialSet, b.spliceFresh, b.audioSyncSet = false, false, false
	b.notify()
	b.mu.Unlock()
}

// Snapshot returns clones of every packet from the chosen start position to
// the end, and records the snapshot end so the consume cursor can be handed
// over with SeekToSnapshotEnd. Clones keep the output path's in-place
// timestamp rewrites out of the source's history.
func (b *RollingBuffer) Snapshot(start SnapshotStart) []*mpegts.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.latestSplice
	if start == FromAudioSync && b.audioSyncSet {
		from = b.audioSync
	}
	rel := from - b.base
	if rel < 0 {
		rel = 0
	}
	if rel > int64(len(b.packets)) {
		rel = int64(len(b.packets))
	}

	out := make([]*mpegts.Packet, 0, int64(len(b.packets))-rel)
	for _, p := range b.packets[rel:] {
		out = append(out, p.Clone())
	}
	b.snapshotEnd = b.base + int64(len(b.packets))
	return out
}

// SeekToSnapshotEnd moves the consume cursor to the end of the last
// snapshot, so Receive continues where the snapshot drain stopped.
func (b *RollingBuffer) SeekToSnapshotEnd() {
	b.mu.Lock()
	b.consumeCursor = b.snapshotEnd
	if b.consumeCursor < b.base {
		b.consumeCursor = b.base
	}
	b.mu.Unlock()
}

// Receive returns up to max packets at the consume cursor, advancing it.
// When nothing is available it waits up to timeout for new data and then
// returns nil. Consumed history is compacted away periodically.
func (b *RollingBuffer) Receive(max int, timeout time.Duration) []*mpegts.Packet {
	if max <= 0 {
		max = 1
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if b.consumeCursor < b.base {
			b.consumeCursor = b.base
		}
		avail := b.base + int64(len(b.packets)) - b.consumeCursor
		if avail > 0 {
			n := avail
			if n > int64(max) {
				n = int64(max)
			}
			rel := b.consumeCursor - b.base
			out := make([]*mpegts.Packet, n)
			copy(out, b.packets[rel:rel+n])
			b.consumeCursor += n
			b.compact()
			b.mu.Unlock()
			return out
		}
		ch := b.signal
		b.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return nil
		}
	}
}

// Len returns the number of buffered packets.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Indices returns the named positions relative to the buffer front.
func (b *RollingBuffer) Indices() BufferIndices {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferIndices{
		InitialSplice: b.rel(b.initialSplice),
		LatestSplice:  b.rel(b.latestSplice),
		AudioSync:     b.rel(b.audioSync),
		ConsumeCursor: b.rel(b.consumeCursor),
		SnapshotEnd:   b.rel(b.snapshotEnd),
	}
}

func (b *RollingBuffer) rel(pos int64) int {
	r := pos - b.base
	if r < 0 {
		return 0
	}
	return int(r)
}

// dropFront removes n packets from the front by advancing the window base.
// Marks that pointed into the removed range clamp to the new front.
func (b *RollingBuffer) dropFront(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.packets) {
		n = len(b.packets)
	}
	b.packets = b.packets[:copy(b.packets, b.packets[n:])]
	b.base += int64(n)
}

// compact drops fully consumed history once enough has accumulated, but
// never before the first splice point is known.
func (b *RollingBuffer) compact() {
	if !b.initialSet {
		return
	}
	consumed := b.consumeCursor - b.base
	if consumed >= int64(b.cap) {
		b.dropFront(int(consumed))
	}
}

// notify wakes all waiters. Callers hold the mutex.
func (b *RollingBuffer) notify() {
	close(b.signal)
	b.signal = make(chan struct{})
}
