package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// daemonDiscoveryPathOverride allows tests to redirect the discovery file path.
var daemonDiscoveryPathOverride string //nolint:gochecknoglobals // test hook

// SetDaemonDiscoveryPathOverride sets a test override for the discovery path.
// Pass "" to restore the default. This is intended for tests only.
func SetDaemonDiscoveryPathOverride(path string) {
	daemonDiscoveryPathOverride = path
}

// DaemonDiscovery holds what a local client needs to find a running daemon.
type DaemonDiscovery struct {
	Port int `toml:"port"`
	Jobs int `toml:"jobs"`
	PID  int `toml:"pid"`
}

// DaemonDiscoveryPath returns the path to the daemon discovery file:
// $XDG_RUNTIME_DIR/caption/daemon.toml, falling back to the OS temp dir.
func DaemonDiscoveryPath() string {
	if daemonDiscoveryPathOverride != "" {
		return daemonDiscoveryPathOverride
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "caption", "daemon.toml")
}

// WriteDaemonDiscovery writes the daemon discovery file, creating the parent
// directory if needed.
func WriteDaemonDiscovery(d DaemonDiscovery) error {
	path := DaemonDiscoveryPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode daemon discovery: %w", err)
	}

	//nolint:gosec // G306: readable by other local users of the daemon
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadDaemonDiscovery reads the daemon discovery file. Returns os.ErrNotExist
// if the file does not exist.
func ReadDaemonDiscovery() (DaemonDiscovery, error) {
	path := DaemonDiscoveryPath()

	var d DaemonDiscovery
	_, err := toml.DecodeFile(path, &d)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DaemonDiscovery{}, os.ErrNotExist
		}
		return DaemonDiscovery{}, err
	}
	if d.Port <= 0 {
		return DaemonDiscovery{}, fmt.Errorf("daemon discovery %s: missing port", path)
	}
	return d, nil
}

// RemoveDaemonDiscovery removes the daemon discovery file (best-effort).
func RemoveDaemonDiscovery() {
	os.Remove(DaemonDiscoveryPath()) //nolint:errcheck // best-effort cleanup on shutdown
}
