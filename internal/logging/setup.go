package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Options selects the stderr level and an optional JSON log file.
type Options struct {
	// Stderr receives human-readable text. Nil means os.Stderr.
	Stderr  io.Writer
	LogFile string
	Verbose bool
	Quiet   bool
}

// Level returns the stderr level: Debug when verbose, Warn when quiet, Info otherwise.
func (o Options) Level() slog.Level {
	switch {
	case o.Verbose:
		return slog.LevelDebug
	case o.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default logger. The JSON log file, when set, records
// everything at Debug regardless of the stderr level. The returned func
// closes the log file.
func Setup(o Options) (func(), error) {
	stderr := o.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	var h slog.Handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: o.Level()})

	closeFn := func() {}
	if o.LogFile != "" {
		lf, err := os.Create(o.LogFile)
		if err != nil {
			return closeFn, fmt.Errorf("open log file: %w", err)
		}
		closeFn = func() { lf.Close() }
		h = NewMultiHandler(h, slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	slog.SetDefault(slog.New(h))
	return closeFn, nil
}
