package ingest

import (
	"context"
	"io"
	"os"
	"time"
)

// defaultFileBitrate paces fallback file reads at 4 Mbps so the looping
// content arrives at roughly real time instead of being slurped at once.
const defaultFileBitrate = 4_000_000

// FileDialer serves a local MPEG-TS file as an endless stream: at EOF the
// read position seeks back to the start and continues. Reads are paced to
// Bitrate so the downstream buffer behaves as it would for a live feed.
type FileDialer struct {
	Path    string
	Bitrate int64 // bits per second, 0 means 4 Mbps
	// NoPacing disables the rate limit, for tests.
	NoPacing bool
}

// Name implements Dialer.
func (d *FileDialer) Name() string { return "file" }

// Dial implements Dialer.
func (d *FileDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, err
	}
	bitrate := d.Bitrate
	if bitrate <= 0 {
		bitrate = defaultFileBitrate
	}
	return &loopingFile{
		f:       f,
		ctx:     ctx,
		pacing:  !d.NoPacing,
		bitrate: bitrate,
		started: time.Now(),
	}, nil
}

type loopingFile struct {
	f       *os.File
	ctx     context.Context
	pacing  bool
	bitrate int64
	started time.Time
	sent    int64
}

func (l *loopingFile) Read(p []byte) (int, error) {
	if l.pacing {
		if err := l.pace(); err != nil {
			return 0, err
		}
	}
	for {
		n, err := l.f.Read(p)
		if n > 0 {
			l.sent += int64(n)
			return n, nil
		}
		if err != io.EOF {
			return 0, err
		}
		if _, err := l.f.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}
}

// pace sleeps until the bytes already delivered fit the target bitrate.
func (l *loopingFile) pace() error {
	due := l.started.Add(time.Duration(l.sent * 8 * int64(time.Second) / l.bitrate))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

func (l *loopingFile) Close() error {
	return l.f.Close()
}
