package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes recorded by the daemon.
const (
	OutcomeOK            = "ok"
	OutcomeRejected      = "rejected"
	OutcomeReadFailed    = "read_failed"
	OutcomeTransformFail = "transform_failed"
	OutcomeWriteFailed   = "write_failed"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	liveSessions    prometheus.Gauge
	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
}

// New creates and registers the daemon collectors. liveFn reports the current
// live session count and is sampled on every scrape.
func New(liveFn func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "caption",
				Subsystem: "daemon",
				Name:      "sessions_total",
				Help:      "Sessions handled, by outcome.",
			},
			[]string{"outcome"},
		),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "caption",
			Subsystem: "daemon",
			Name:      "session_duration_seconds",
			Help:      "Time from accept to session end.",
			Buckets:   prometheus.DefBuckets,
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caption",
			Subsystem: "daemon",
			Name:      "request_payload_bytes_total",
			Help:      "Payload bytes received in request frames.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caption",
			Subsystem: "daemon",
			Name:      "response_payload_bytes_total",
			Help:      "Payload bytes sent in response frames.",
		}),
	}
	live := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "caption",
		Subsystem: "daemon",
		Name:      "live_sessions",
		Help:      "Sessions currently counted by admission control.",
	}, liveFn)

	m.registry.MustRegister(
		live,
		m.sessions,
		m.sessionDuration,
		m.bytesIn,
		m.bytesOut,
		collectors.NewGoCollector(),
	)
	return m
}

// RecordSession counts one finished session.
func (m *Metrics) RecordSession(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

// AddBytes records request and response payload sizes.
func (m *Metrics) AddBytes(in, out int) {
	if m == nil {
		return
	}
	m.bytesIn.Add(float64(in))
	m.bytesOut.Add(float64(out))
}

// Sessions returns the session counter for outcome.
func (m *Metrics) Sessions(outcome string) prometheus.Counter {
	return m.sessions.WithLabelValues(outcome)
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the HTTP exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck // best-effort on exit
	}()

	slog.Info("metrics listening", "addr", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics serve: %w", err)
	}
	return nil
}
