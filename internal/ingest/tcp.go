package ingest

import (
	"context"
	"io"
	"net"
	"time"
)

// TCPDialer dials a plain TCP endpoint serving raw MPEG-TS bytes.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

// Name implements Dialer.
func (d *TCPDialer) Name() string { return "tcp" }

// Dial implements Dialer.
func (d *TCPDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
