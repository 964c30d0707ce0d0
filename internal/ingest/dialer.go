// Package ingest provides the transport dialers the sources read MPEG-TS
// bytes from: SRT callers for live contribution, plain TCP, and a looping
// local file for the fallback content.
package ingest

import (
	"context"
	"io"
)

// Dialer opens one byte-stream connection to a configured endpoint. Each
// source dials through exactly one Dialer and redials it on failure.
type Dialer interface {
	// Name identifies the transport for logging ("srt", "tcp", "file").
	Name() string
	// Dial opens the connection. The returned ReadCloser must unblock its
	// Read when closed, so the caller can tear it down on cancellation.
	Dial(ctx context.Context) (io.ReadCloser, error)
}
