package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtDialTimeout bounds one SRT handshake attempt.
const srtDialTimeout = 10 * time.Second

// SRTDialer dials a remote SRT listener in caller mode.
type SRTDialer struct {
	Address  string
	StreamID string
	Latency  int64 // nanoseconds, 0 means the 120ms default
}

// Name implements Dialer.
func (d *SRTDialer) Name() string { return "srt" }

// Dial connects to the SRT listener. The handshake runs in a goroutine so it
// can be abandoned on timeout or cancellation; an abandoned connection that
// completes late is closed in the background.
func (d *SRTDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if d.Latency > 0 {
		cfg.Latency = time.Duration(d.Latency)
	}
	cfg.StreamID = d.StreamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(d.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("SRT dial timed out after %s", srtDialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
