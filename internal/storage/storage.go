// Package storage loads request payloads from disk and persists responses.
package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/caption/internal/platform"
	"github.com/bamsammich/caption/internal/proto"
)

// Digest returns the hex-encoded BLAKE3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load reads the payload at path. A file of proto.MaxPayload bytes or more is
// rejected with proto.ErrPayloadTooLarge; the frame could not carry it whole.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, proto.MaxPayload))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) >= proto.MaxPayload {
		return nil, fmt.Errorf("%w: %s: limit %d bytes", proto.ErrPayloadTooLarge, path, proto.MaxPayload)
	}
	return data, nil
}

// Save writes data to path atomically: it is written to a temp file in the
// same directory and renamed into place, so a failed save never leaves a
// truncated output behind.
func Save(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	platform.Preallocate(tmp, int64(len(data)))
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write %s: %w", path, err)
	}

	//nolint:gosec // G302: output is a regular user file
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
