package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bamsammich/caption/internal/metrics"
	"github.com/bamsammich/caption/internal/platform"
	"github.com/bamsammich/caption/internal/proto"
)

// Transformer turns a request payload into a response payload. A returned
// error is reported to the client as StatusError.
type Transformer interface {
	Transform(ctx context.Context, label string, payload []byte) ([]byte, error)
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, label string, payload []byte) ([]byte, error)

// Transform calls f.
func (f TransformFunc) Transform(ctx context.Context, label string, payload []byte) ([]byte, error) {
	return f(ctx, label, payload)
}

// Session serves one accepted connection: status frame, request frame,
// transform, response frame. A Session owns its connection and its admission
// ticket and releases both when Run returns.
type Session struct {
	conn      net.Conn
	ticket    *Ticket
	transform Transformer
	metrics   *metrics.Metrics
	log       *slog.Logger
	ioTimeout time.Duration
}

// SessionConfig holds what a Session needs besides its connection.
type SessionConfig struct {
	Transformer Transformer
	Metrics     *metrics.Metrics // nil disables metrics
	Logger      *slog.Logger     // nil uses slog.Default()
	// IOTimeout bounds each frame write and any stall while reading a frame.
	// Zero waits forever.
	IOTimeout time.Duration
}

// NewSession enters the connection into admission control. The session counts
// toward the live total from this point until Run returns.
func NewSession(conn net.Conn, adm *Admission, cfg SessionConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:      conn,
		ticket:    adm.Enter(),
		transform: cfg.Transformer,
		metrics:   cfg.Metrics,
		log:       log,
		ioTimeout: cfg.IOTimeout,
	}
}

// Admitted reports whether the session will be served or turned away.
func (s *Session) Admitted() bool { return s.ticket.Admitted() }

// Run drives the session to completion. Every failure is local to the session:
// it is logged and ends the session, nothing is returned to the acceptor.
func (s *Session) Run(ctx context.Context) {
	defer s.ticket.Release()
	defer s.conn.Close()

	start := time.Now()
	outcome := s.run(ctx)
	s.metrics.RecordSession(outcome, time.Since(start))
	s.log.Debug("session closed", "outcome", outcome, "elapsed", time.Since(start))
}

func (s *Session) run(ctx context.Context) string {
	if !s.ticket.Admitted() {
		s.log.Warn("server busy, rejecting", "live", s.ticket.Seen(), "max", s.ticket.a.Max())
		if err := s.write(proto.BusyFrame()); err != nil {
			s.log.Debug("send busy failed", "error", err)
		}
		return metrics.OutcomeRejected
	}

	if err := s.write(proto.ReadyFrame()); err != nil {
		s.log.Warn("send ready failed", "error", err)
		return metrics.OutcomeWriteFailed
	}

	req, err := s.read()
	if err != nil {
		s.log.Warn("failed to read request", "error", err)
		return metrics.OutcomeReadFailed
	}

	s.log.Info("processing payload", "label_bytes", len(req.Label), "payload_bytes", len(req.Payload))
	resp, outcome := s.process(ctx, req)

	if err := s.write(resp); err != nil {
		s.log.Warn("response send error", "error", err)
		return metrics.OutcomeWriteFailed
	}
	s.metrics.AddBytes(len(req.Payload), len(resp.Payload))
	s.log.Info("response sent", "status", resp.Status(), "payload_bytes", len(resp.Payload))
	return outcome
}

// process applies the transform and builds the response frame.
func (s *Session) process(ctx context.Context, req proto.Frame) (proto.Frame, string) {
	out, err := s.transform.Transform(ctx, string(req.Label), req.Payload)
	if err != nil {
		if !errors.Is(err, proto.ErrTransform) {
			err = fmt.Errorf("%w: %w", proto.ErrTransform, err)
		}
		s.log.Warn("failed to process payload", "error", err)
		return proto.Frame{Label: []byte(proto.StatusError)}, metrics.OutcomeTransformFail
	}
	return proto.Frame{Label: []byte(proto.StatusOK), Payload: out}, metrics.OutcomeOK
}

func (s *Session) read() (proto.Frame, error) {
	return proto.ReadFrame(platform.NewIdleReader(s.conn, s.ioTimeout))
}

func (s *Session) write(f proto.Frame) error {
	if s.ioTimeout > 0 {
		//nolint:errcheck // deadline errors surface on the write itself
		s.conn.SetWriteDeadline(time.Now().Add(s.ioTimeout))
	}
	return proto.WriteFrame(s.conn, f)
}
