package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/caption/internal/metrics"
	"github.com/bamsammich/caption/internal/platform"
	"github.com/bamsammich/caption/internal/proto"
)

const (
	// DefaultPort is the port the daemon listens on when none is configured.
	DefaultPort = 1300

	// DefaultJobs is the default concurrent session limit.
	DefaultJobs = 5

	// DefaultIOTimeout bounds each frame read or write on a session.
	DefaultIOTimeout = 30 * time.Second

	// shutdownGrace is how long active sessions get to finish after shutdown starts.
	shutdownGrace = 30 * time.Second

	// Accept failures back off from minAcceptDelay, doubling up to maxAcceptDelay.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Config configures a caption daemon.
type Config struct {
	Transformer Transformer
	ListenAddr  string

	// MetricsListen is the address serving Prometheus /metrics. Empty disables it.
	MetricsListen string

	// IOTimeout bounds each frame read or write. Zero waits forever.
	IOTimeout time.Duration
	Jobs      int
}

// Daemon accepts connections and runs one Session per connection, turning
// away connections beyond the job limit.
type Daemon struct {
	listener  net.Listener
	admission *Admission
	metrics   *metrics.Metrics
	conns     map[net.Conn]struct{}
	cfg       Config
	mu        sync.Mutex
}

// New creates a daemon listening on cfg.ListenAddr. Call Serve to start
// accepting connections.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	if cfg.Transformer == nil {
		return nil, errors.New("daemon requires a transformer")
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = DefaultJobs
	}

	listener, err := platform.Listen(ctx, cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	return newDaemon(listener, cfg), nil
}

func newDaemon(listener net.Listener, cfg Config) *Daemon {
	d := &Daemon{
		cfg:       cfg,
		listener:  listener,
		admission: NewAdmission(cfg.Jobs),
		conns:     make(map[net.Conn]struct{}),
	}
	d.metrics = metrics.New(func() float64 { return float64(d.admission.Live()) })
	return d
}

// Addr returns the listener's address (useful when listening on :0).
func (d *Daemon) Addr() net.Addr {
	return d.listener.Addr()
}

// Admission returns the daemon's admission controller.
func (d *Daemon) Admission() *Admission {
	return d.admission
}

// Metrics returns the daemon's collectors.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Serve accepts connections until ctx is cancelled. Blocks until shutdown completes.
func (d *Daemon) Serve(ctx context.Context) error {
	slog.Info("caption daemon listening", "addr", d.listener.Addr(), "jobs", d.cfg.Jobs)

	var wg sync.WaitGroup

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if d.cfg.MetricsListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.metrics.Serve(metricsCtx, d.cfg.MetricsListen); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	// Shutdown goroutine: when ctx is cancelled, stop the listener and drain sessions.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		d.listener.Close()

		timer := time.AfterFunc(shutdownGrace, d.closeConns)
		<-stopped
		timer.Stop()
	}()

	var acceptDelay time.Duration
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break // graceful shutdown
			}
			acceptDelay = min(max(2*acceptDelay, minAcceptDelay), maxAcceptDelay)
			slog.Error("accept error", "retry_in", acceptDelay,
				"error", fmt.Errorf("%w: accept: %w", proto.ErrConnection, err))
			if !waitAccept(ctx, acceptDelay) {
				break
			}
			continue
		}
		acceptDelay = 0

		d.track(conn)
		session := NewSession(conn, d.admission, SessionConfig{
			Transformer: d.cfg.Transformer,
			Metrics:     d.metrics,
			Logger:      slog.With("session", uuid.NewString(), "remote", conn.RemoteAddr().String()),
			IOTimeout:   d.cfg.IOTimeout,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.untrack(conn)
			session.Run(ctx)
		}()
	}

	stopMetrics()
	wg.Wait()
	slog.Info("caption daemon stopped")
	return nil
}

// waitAccept pauses the accept loop for d. It returns false if ctx ends first.
func waitAccept(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting connections. Active sessions are not interrupted.
func (d *Daemon) Close() error {
	return d.listener.Close()
}

func (d *Daemon) track(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[conn] = struct{}{}
}

func (d *Daemon) untrack(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, conn)
}

func (d *Daemon) closeConns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.conns {
		conn.Close()
	}
}
