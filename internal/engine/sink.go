package engine

import (
	"io"
	"sync"

	"github.com/zsiec/seam/internal/mpegts"
)

// PacketWriter receives the engine's single output stream, one packet at a
// time, in emission order.
type PacketWriter interface {
	WritePacket(p *mpegts.Packet) error
}

// WriterSink adapts an io.Writer into a PacketWriter. Writes are serialized
// so the switch executor and the output loop never interleave mid-packet.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WritePacket writes the packet's raw 188 bytes.
func (s *WriterSink) WritePacket(p *mpegts.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p.Raw)
	return err
}
