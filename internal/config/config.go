package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional caption configuration file.
type Config struct {
	Client ClientConfig `toml:"client"`
	Daemon DaemonConfig `toml:"daemon"`
}

// ClientConfig holds persistent defaults for the client command.
type ClientConfig struct {
	RetryDelay  *string `toml:"retry_delay"`
	DialTimeout *string `toml:"dial_timeout"`
	IOTimeout   *string `toml:"io_timeout"`
	BWLimit     *string `toml:"bwlimit"`
}

// DaemonConfig holds persistent defaults for the daemon command.
type DaemonConfig struct {
	Port          *int    `toml:"port"`
	Jobs          *int    `toml:"jobs"`
	ListenHost    *string `toml:"listen_host"`
	IOTimeout     *string `toml:"io_timeout"`
	MetricsListen *string `toml:"metrics_listen"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "caption", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// validate checks that every duration and size string parses, so bad values
// are reported at load time rather than when a flag default is applied.
func (c Config) validate() error {
	durations := map[string]*string{
		"client.retry_delay":  c.Client.RetryDelay,
		"client.dial_timeout": c.Client.DialTimeout,
		"client.io_timeout":   c.Client.IOTimeout,
		"daemon.io_timeout":   c.Daemon.IOTimeout,
	}
	for key, v := range durations {
		if _, err := Duration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Client.BWLimit != nil {
		if _, err := ParseSize(*c.Client.BWLimit); err != nil {
			return fmt.Errorf("client.bwlimit: %w", err)
		}
	}
	if c.Daemon.Jobs != nil && *c.Daemon.Jobs < 1 {
		return fmt.Errorf("daemon.jobs: must be at least 1, got %d", *c.Daemon.Jobs)
	}
	if c.Daemon.Port != nil && (*c.Daemon.Port < 0 || *c.Daemon.Port > 65535) {
		return fmt.Errorf("daemon.port: out of range: %d", *c.Daemon.Port)
	}
	return nil
}

// Duration parses an optional duration string. A nil value yields zero.
func Duration(v *string) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", *v)
	}
	return d, nil
}
