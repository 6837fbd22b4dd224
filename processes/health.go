package processes

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	defaultProbeInterval = 2 * time.Second
	defaultProbeTimeout  = 90 * time.Second
)

// Prober checks whether a freshly started process accepts TCP connections on
// its assigned port. It is a liveness probe only: something listening is
// enough, application-level correctness is not validated.
type Prober struct {
	Interval time.Duration // Time between connection attempts. Defaults to 2s.
	Timeout  time.Duration // Overall deadline for the probe. Defaults to 90s.
}

// Probe waits for a listener on 127.0.0.1:port. It sleeps one interval before
// each attempt and reports false once the overall timeout elapses or the
// context is cancelled.
func (p Prober) Probe(ctx context.Context, port int) bool {
	interval := p.Interval
	if interval == 0 {
		interval = defaultProbeInterval
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaultProbeTimeout
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}

		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			conn.Close()
			return true
		}

		if time.Now().After(deadline) {
			return false
		}
	}
}
