package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/caption/internal/platform"
	"github.com/bamsammich/caption/internal/proto"
)

const (
	// DefaultRetryDelay is the wait between a busy response and the next attempt.
	DefaultRetryDelay = 1000 * time.Millisecond

	// DefaultDialTimeout bounds resolve + connect for one attempt.
	DefaultDialTimeout = 10 * time.Second

	// DefaultIOTimeout bounds each frame read or write.
	DefaultIOTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	// Limiter caps upload throughput. Nil means unlimited.
	Limiter *rate.Limiter
	// Sleep waits between attempts. Nil uses a context-aware timer; tests
	// replace it to observe retries without waiting.
	Sleep       func(ctx context.Context, d time.Duration) error
	Addr        string
	RetryDelay  time.Duration
	DialTimeout time.Duration
	// IOTimeout bounds each unthrottled frame write and any stall while
	// reading a frame. Zero waits forever.
	IOTimeout time.Duration
}

// Client submits a payload to a caption daemon, retrying while the daemon
// reports it is busy. A Client runs one exchange at a time.
type Client struct {
	cfg      Config
	attempts int
}

// New creates a client for the daemon at cfg.Addr.
func New(cfg Config) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Client{cfg: cfg}
}

// Attempts returns the number of connections opened by the last Process call.
func (c *Client) Attempts() int { return c.attempts }

// Process sends label and payload to the daemon and returns the transformed
// payload. Busy responses are retried after RetryDelay on a new connection,
// with no limit on the number of attempts; ctx cancellation ends the loop.
// Any other failure aborts.
func (c *Client) Process(ctx context.Context, label string, payload []byte) ([]byte, error) {
	c.attempts = 0
	if len(payload) >= proto.MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", proto.ErrPayloadTooLarge, len(payload), proto.MaxPayload)
	}

	req := proto.Frame{Label: []byte(label), Payload: payload}
	for {
		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, proto.ErrOverCapacity) {
			return nil, err
		}

		slog.Info("server busy, retrying", "delay", c.cfg.RetryDelay, "attempt", c.attempts)
		if err := c.cfg.Sleep(ctx, c.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// attempt runs one connection: status, request, response.
func (c *Client) attempt(ctx context.Context, req proto.Frame) ([]byte, error) {
	c.attempts++
	conn, err := platform.Dialer(c.cfg.DialTimeout).DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", proto.ErrConnection, err)
	}
	defer conn.Close()

	status, err := c.read(conn)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	switch {
	case status.IsStatus(proto.StatusBusy):
		return nil, proto.ErrOverCapacity
	case !status.IsStatus(proto.StatusOK):
		return nil, fmt.Errorf("%w: status %q", proto.ErrProtocolViolation, status.Label)
	}

	slog.Debug("server ready", "addr", c.cfg.Addr,
		"label_bytes", len(req.Label), "payload_bytes", len(req.Payload))
	if err := c.write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("send payload: %w", err)
	}

	resp, err := c.read(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !resp.IsStatus(proto.StatusOK) {
		return nil, fmt.Errorf("%w: status %q", proto.ErrProcessing, resp.Label)
	}
	return resp.Payload, nil
}

func (c *Client) read(conn net.Conn) (proto.Frame, error) {
	return proto.ReadFrame(platform.NewIdleReader(conn, c.cfg.IOTimeout))
}

func (c *Client) write(ctx context.Context, conn net.Conn, f proto.Frame) error {
	var w io.Writer = conn
	if c.cfg.Limiter != nil {
		w = &rateLimitedWriter{w: conn, limiter: c.cfg.Limiter, ctx: ctx}
	}
	// Throttled uploads run without a write deadline.
	if c.cfg.IOTimeout > 0 && c.cfg.Limiter == nil {
		//nolint:errcheck // deadline errors surface on the write itself
		conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout))
	}
	return proto.WriteFrame(w, f)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
