package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/caption/internal/caption"
	"github.com/bamsammich/caption/internal/config"
	"github.com/bamsammich/caption/internal/daemon"
	"github.com/bamsammich/caption/internal/logging"
)

// daemonOptions holds the daemon subcommand's flag values.
type daemonOptions struct {
	listenHost    string
	metricsListen string
	ioTimeout     time.Duration
	port          int
	jobs          int
	verbose       bool
}

func newDaemonCmd() *cobra.Command {
	var o daemonOptions

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a caption daemon",
		Long: `Run a caption daemon that stamps captions onto images sent by clients.

Each connection is one request: the daemon answers "200" when it has a free job
slot or "429" when --jobs sessions are already in progress, then reads the
caption and image, draws the caption and replies with a PNG. Images that cannot
be decoded are answered with "500".

The daemon publishes its port in $XDG_RUNTIME_DIR/caption/daemon.toml so that
local clients can pass "-" as the port. The file is removed on shutdown.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, &o)
		},
	}

	cmd.Flags().IntVarP(&o.port, "port", "p", daemon.DefaultPort, "TCP port to listen on (0 picks a free port)")
	cmd.Flags().IntVarP(&o.jobs, "jobs", "j", daemon.DefaultJobs, "maximum concurrent sessions")
	cmd.Flags().StringVar(&o.listenHost, "listen-host", "", "address to bind (empty for all interfaces)")
	cmd.Flags().
		DurationVar(&o.ioTimeout, "io-timeout", daemon.DefaultIOTimeout, "timeout per frame read or write (0 disables)")
	cmd.Flags().
		StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus /metrics on this address (e.g. :9100)")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	return cmd
}

func runDaemon(cmd *cobra.Command, o *daemonOptions) error {
	closeLog, err := logging.Setup(logging.Options{Verbose: o.verbose})
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}
	if err := applyDaemonDefaults(cmd.Flags(), cfg.Daemon, o); err != nil {
		return err
	}
	if o.jobs < 1 {
		return fmt.Errorf("invalid --jobs %d: must be at least 1", o.jobs)
	}
	if o.port < 0 || o.port > 65535 {
		return fmt.Errorf("invalid --port %d: out of range", o.port)
	}

	// Set up signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, daemon.Config{
		Transformer:   caption.NewStamper(),
		ListenAddr:    net.JoinHostPort(o.listenHost, strconv.Itoa(o.port)),
		MetricsListen: o.metricsListen,
		IOTimeout:     o.ioTimeout,
		Jobs:          o.jobs,
	})
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	// Write discovery file so local clients can find us.
	tcpAddr, ok := d.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address type: %T", d.Addr())
	}
	if err := config.WriteDaemonDiscovery(config.DaemonDiscovery{
		Port: tcpAddr.Port,
		Jobs: o.jobs,
		PID:  os.Getpid(),
	}); err != nil {
		slog.Warn("failed to write daemon discovery file", "error", err)
	}
	defer config.RemoveDaemonDiscovery()

	if err := d.Serve(ctx); err != nil {
		return &exitError{code: 1, err: err}
	}
	return nil
}

// applyDaemonDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyDaemonDefaults(flags *pflag.FlagSet, defaults config.DaemonConfig, o *daemonOptions) error {
	if !flags.Changed("port") && defaults.Port != nil {
		o.port = *defaults.Port
	}
	if !flags.Changed("jobs") && defaults.Jobs != nil {
		o.jobs = *defaults.Jobs
	}
	if !flags.Changed("listen-host") && defaults.ListenHost != nil {
		o.listenHost = *defaults.ListenHost
	}
	if !flags.Changed("metrics-listen") && defaults.MetricsListen != nil {
		o.metricsListen = *defaults.MetricsListen
	}
	if !flags.Changed("io-timeout") && defaults.IOTimeout != nil {
		d, err := config.Duration(defaults.IOTimeout)
		if err != nil {
			return fmt.Errorf("config io-timeout: %w", err)
		}
		o.ioTimeout = d
	}
	return nil
}
