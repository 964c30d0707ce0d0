package mpegts

import "sync/atomic"

const (
	// defaultVerifyDepth is how many consecutive valid headers, spaced one
	// packet apart, are required before declaring sync.
	defaultVerifyDepth = 3

	// defaultMaxBacklog caps the unconsumed byte backlog at 1 MiB.
	defaultMaxBacklog = 1 << 20
)

type reassemblerState int

const (
	stateSearching reassemblerState = iota
	stateVerifying
	stateSynced
)

// ReassemblerStats are diagnostic counters. They never drive control flow.
type ReassemblerStats struct {
	BytesDiscarded int64 `json:"bytesDiscarded"`
	SyncLosses     int64 `json:"syncLosses"`
	PacketsEmitted int64 `json:"packetsEmitted"`
}

// Reassembler turns a byte stream delivered in arbitrary chunks into a
// sequence of transport packets. It searches for the sync byte, verifies
// alignment over several packet lengths, then emits packets until the
// alignment breaks, at which point it re-searches. The emitted sequence is
// independent of how the input was chunked.
type Reassembler struct {
	backlog     []byte
	state       reassemblerState
	verifyDepth int
	maxBacklog  int

	bytesDiscarded atomic.Int64
	syncLosses     atomic.Int64
	packetsEmitted atomic.Int64
}

// NewReassembler creates a Reassembler with default verify depth and backlog cap.
func NewReassembler(opts ...func(*Reassembler)) *Reassembler {
	r := &Reassembler{
		state:       stateSearching,
		verifyDepth: defaultVerifyDepth,
		maxBacklog:  defaultMaxBacklog,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReassemblerOptVerifyDepth sets the number of consecutive valid headers
// required to declare sync.
func ReassemblerOptVerifyDepth(n int) func(*Reassembler) {
	return func(r *Reassembler) {
		if n > 0 {
			r.verifyDepth = n
		}
	}
}

// ReassemblerOptMaxBacklog sets the backlog cap in bytes.
func ReassemblerOptMaxBacklog(n int) func(*Reassembler) {
	return func(r *Reassembler) {
		if n >= PacketSize {
			r.maxBacklog = n
		}
	}
}

// Write feeds a chunk of bytes into the backlog. It never fails; overflow is
// handled by discarding from the front. Implements io.Writer so sources can
// io.Copy into the reassembler.
func (r *Reassembler) Write(chunk []byte) (int, error) {
	r.backlog = append(r.backlog, chunk...)
	r.capBacklog()
	return len(chunk), nil
}

// Next returns the next packet if one can be emitted from the backlog.
// It returns false when more input is needed.
func (r *Reassembler) Next() (*Packet, bool) {
	for {
		switch r.state {
		case stateSearching:
			idx := r.findCandidate()
			if idx < 0 {
				// Keep the tail that could still start a header.
				keep := len(r.backlog)
				if keep > 3 {
					r.discard(len(r.backlog) - 3)
				}
				return nil, false
			}
			r.discard(idx)
			r.state = stateVerifying

		case stateVerifying:
			need := (r.verifyDepth-1)*PacketSize + 4
			if len(r.backlog) < need {
				return nil, false
			}
			if r.verifyRun() {
				r.state = stateSynced
				continue
			}
			// A single failed check discards one leading byte; never
			// blind-advance by a full packet.
			r.discard(1)
			r.state = stateSearching

		case stateSynced:
			if len(r.backlog) < PacketSize {
				return nil, false
			}
			if !validHeader(r.backlog) {
				r.syncLosses.Add(1)
				r.state = stateSearching
				continue
			}
			pkt, err := Parse(r.backlog[:PacketSize])
			r.consume(PacketSize)
			if err != nil {
				// Header validated, so Parse only fails on impossible
				// lengths; treat as a sync loss to be safe.
				r.syncLosses.Add(1)
				r.state = stateSearching
				continue
			}
			r.packetsEmitted.Add(1)
			return pkt, true
		}
	}
}

// Reset drops all backlog and returns to the searching state. Counters are
// preserved; they describe the connection's whole lifetime.
func (r *Reassembler) Reset() {
	r.backlog = r.backlog[:0]
	r.state = stateSearching
}

// Stats returns a snapshot of the diagnostic counters.
func (r *Reassembler) Stats() ReassemblerStats {
	return ReassemblerStats{
		BytesDiscarded: r.bytesDiscarded.Load(),
		SyncLosses:     r.syncLosses.Load(),
		PacketsEmitted: r.packetsEmitted.Load(),
	}
}

// validHeader checks the 4-byte header at the start of buf: the sync byte
// and a non-reserved adaptation_field_control.
func validHeader(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	if buf[0] != SyncByte {
		return false
	}
	return buf[3]&0x30 != 0
}

func (r *Reassembler) findCandidate() int {
	for i := 0; i+4 <= len(r.backlog); i++ {
		if validHeader(r.backlog[i:]) {
			return i
		}
	}
	return -1
}

func (r *Reassembler) verifyRun() bool {
	for i := 0; i < r.verifyDepth; i++ {
		off := i * PacketSize
		if off+4 > len(r.backlog) {
			return false
		}
		if !validHeader(r.backlog[off:]) {
			return false
		}
	}
	return true
}

// discard drops n leading bytes as junk, counting them.
func (r *Reassembler) discard(n int) {
	if n > len(r.backlog) {
		n = len(r.backlog)
	}
	r.consume(n)
	r.bytesDiscarded.Add(int64(n))
}

// consume drops n leading bytes without counting them as discarded.
func (r *Reassembler) consume(n int) {
	r.backlog = r.backlog[:copy(r.backlog, r.backlog[n:])]
}

// capBacklog enforces the backlog cap. When synced, the discarded amount is
// rounded up to a packet multiple so alignment survives and the state machine
// need not re-search.
func (r *Reassembler) capBacklog() {
	if len(r.backlog) <= r.maxBacklog {
		return
	}
	excess := len(r.backlog) - r.maxBacklog
	if r.state == stateSynced {
		if rem := excess % PacketSize; rem != 0 {
			excess += PacketSize - rem
		}
	}
	r.discard(excess)
}
