package main

import (
	"context"
	"errors"
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
	"golang.org/x/time/rate"

	"github.com/bamsammich/caption/internal/client"
	"github.com/bamsammich/caption/internal/config"
	"github.com/bamsammich/caption/internal/logging"
	"github.com/bamsammich/caption/internal/proto"
	"github.com/bamsammich/caption/internal/storage"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// clientOptions holds the root command's flag values.
type clientOptions struct {
	retryDelay  time.Duration
	dialTimeout time.Duration
	ioTimeout   time.Duration
	bwLimitStr  string
	logFile     string
	verbose     bool
	quiet       bool
	showVersion bool
}

func run(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var o clientOptions

	rootCmd := &cobra.Command{
		Use:   "caption [flags] <host> <port> <caption> <input-file> <output-file>",
		Short: "Stamp a caption onto an image using a caption daemon",
		Long: `Send an image to a caption daemon and save the captioned result.

The daemon draws <caption> in the top-left corner of <input-file> and returns a
PNG, which is written to <output-file>. When the daemon is at its job limit the
client waits --retry-delay and tries again on a new connection until it is
admitted.

Pass "-" as <port> to use the port published by a daemon running on this host.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if o.showVersion {
				return nil
			}
			return cobra.ExactArgs(5)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "caption %s\n", version)
				return nil
			}
			return runClient(cmd, args, &o)
		},
	}

	// Version flag handled in RunE, but also register the flag.
	rootCmd.Flags().BoolVar(&o.showVersion, "version", false, "print version and exit")

	rootCmd.Flags().
		DurationVar(&o.retryDelay, "retry-delay", client.DefaultRetryDelay, "wait between attempts while the server is busy")
	rootCmd.Flags().
		DurationVar(&o.dialTimeout, "dial-timeout", client.DefaultDialTimeout, "connect timeout per attempt")
	rootCmd.Flags().
		DurationVar(&o.ioTimeout, "io-timeout", client.DefaultIOTimeout, "timeout per frame read or write (0 disables)")
	rootCmd.Flags().StringVar(&o.bwLimitStr, "bwlimit", "", "upload bandwidth limit (e.g. 100K, 1M)")
	rootCmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.Flags().StringVar(&o.logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

func runClient(cmd *cobra.Command, args []string, o *clientOptions) error {
	host, port, text, inPath, outPath := args[0], args[1], args[2], args[3], args[4]

	closeLog, err := logging.Setup(logging.Options{
		LogFile: o.logFile,
		Verbose: o.verbose,
		Quiet:   o.quiet,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	// Load optional config file.
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}
	if err := applyClientDefaults(cmd.Flags(), cfg.Client, o); err != nil {
		return err
	}

	addr, err := resolveAddr(host, port)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if o.bwLimitStr != "" {
		bwLimit, parseErr := config.ParseSize(o.bwLimitStr)
		if parseErr != nil {
			return fmt.Errorf("invalid --bwlimit: %w", parseErr)
		}
		if bwLimit > 0 {
			limiter = client.NewBWLimiter(bwLimit)
		}
	}

	payload, err := storage.Load(inPath)
	if err != nil {
		if errors.Is(err, proto.ErrPayloadTooLarge) {
			return &exitError{code: 1, err: fmt.Errorf("input too large: %w", err)}
		}
		return &exitError{code: 1, err: fmt.Errorf("failed to read input: %w", err)}
	}
	slog.Debug("input loaded", "path", inPath,
		"size", logging.FormatBytes(int64(len(payload))), "blake3", storage.Digest(payload))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		Addr:        addr,
		RetryDelay:  o.retryDelay,
		DialTimeout: o.dialTimeout,
		IOTimeout:   o.ioTimeout,
		Limiter:     limiter,
	})

	start := time.Now()
	out, err := c.Process(ctx, text, payload)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	if err := storage.Save(outPath, out); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("failed to save output: %w", err)}
	}

	elapsed := time.Since(start)
	slog.Info("caption applied",
		"output", outPath,
		"size", logging.FormatBytes(int64(len(out))),
		"attempts", c.Attempts(),
		"elapsed", elapsed.Round(time.Millisecond),
		"rate", logging.Throughput(int64(len(payload)+len(out)), elapsed),
		"blake3", storage.Digest(out),
	)
	return nil
}

// resolveAddr joins host and port. A port of "-" is read from the local
// daemon discovery file; named ports are looked up.
func resolveAddr(host, port string) (string, error) {
	if port == "-" {
		d, err := config.ReadDaemonDiscovery()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("no local caption daemon found at %s", config.DaemonDiscoveryPath())
			}
			return "", err
		}
		slog.Debug("using discovered daemon", "port", d.Port, "jobs", d.Jobs)
		return net.JoinHostPort(host, strconv.Itoa(d.Port)), nil
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		n, err = net.LookupPort("tcp", port)
		if err != nil {
			return "", fmt.Errorf("invalid port %q: %w", port, err)
		}
	}
	if n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port %q: out of range", port)
	}
	return net.JoinHostPort(host, strconv.Itoa(n)), nil
}

// applyClientDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyClientDefaults(flags *pflag.FlagSet, defaults config.ClientConfig, o *clientOptions) error {
	durations := []struct {
		flag  string
		value *string
		dst   *time.Duration
	}{
		{"retry-delay", defaults.RetryDelay, &o.retryDelay},
		{"dial-timeout", defaults.DialTimeout, &o.dialTimeout},
		{"io-timeout", defaults.IOTimeout, &o.ioTimeout},
	}
	for _, d := range durations {
		if flags.Changed(d.flag) || d.value == nil {
			continue
		}
		v, err := config.Duration(d.value)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.flag, err)
		}
		*d.dst = v
	}
	if !flags.Changed("bwlimit") && defaults.BWLimit != nil {
		o.bwLimitStr = *defaults.BWLimit
	}
	return nil
}

// exitError carries a process exit code. A nil err prints nothing.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }
