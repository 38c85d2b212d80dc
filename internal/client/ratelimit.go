package client

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter that caps upload throughput to
// bytesPerSec. The burst is set to 1 MB to allow natural write-size chunks
// through without unnecessary blocking on small writes.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// chunkInterval is roughly how often a throttled writer puts bytes on the
// wire. The peer's idle deadline must stay well above it.
const chunkInterval = 50 * time.Millisecond

// rateLimitedWriter wraps an io.Writer and enforces a rate limit. Writes are
// split into chunks of at most one chunkInterval's worth of tokens, capped at
// the limiter's burst.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (rw *rateLimitedWriter) Write(p []byte) (int, error) {
	chunk := rw.chunkSize()
	written := 0
	for len(p) > 0 {
		n := min(len(p), chunk)
		if err := rw.limiter.WaitN(rw.ctx, n); err != nil {
			return written, err
		}
		nw, err := rw.w.Write(p[:n])
		written += nw
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func (rw *rateLimitedWriter) chunkSize() int {
	perInterval := float64(rw.limiter.Limit()) * chunkInterval.Seconds()
	return max(1, min(rw.limiter.Burst(), int(perInterval)))
}
