package proto

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the frame header in bytes:
	// 4 bytes label size + 4 bytes payload size, little-endian.
	HeaderSize = 8

	// MaxLabel is the largest label a frame can carry.
	MaxLabel = 1024

	// MaxPayload is the largest payload a frame can carry.
	MaxPayload = 10 * 1024 * 1024 // 10 MB
)

// Reserved labels. A frame exchanged as a status carries one of these instead
// of caption text.
const (
	StatusOK    = "200"
	StatusBusy  = "429"
	StatusError = "500"
)

// Frame is a single protocol message on the wire.
type Frame struct {
	Label   []byte
	Payload []byte
}

// Header declares the byte counts of the label and payload that follow it.
type Header struct {
	LabelSize   uint32
	PayloadSize uint32
}

// ReadyFrame returns the frame a session sends when it accepts work.
func ReadyFrame() Frame { return Frame{Label: []byte(StatusOK)} }

// BusyFrame returns the frame a session sends when the server is at capacity.
func BusyFrame() Frame { return Frame{Label: []byte(StatusBusy)} }

// Status returns the label as a string. Only meaningful for status frames.
func (f Frame) Status() string { return string(f.Label) }

// IsStatus reports whether the frame's label equals code.
func (f Frame) IsStatus(code string) bool { return string(f.Label) == code }

// BuildHeader computes the header for f. Sizes beyond MaxLabel/MaxPayload are
// clamped, so the frame goes out truncated rather than rejected.
//
//nolint:gosec // G115: both sizes are clamped below MaxUint32
func BuildHeader(f Frame) Header {
	return Header{
		LabelSize:   uint32(min(len(f.Label), MaxLabel)),
		PayloadSize: uint32(min(len(f.Payload), MaxPayload)),
	}
}

// AppendHeader appends the wire encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.LabelSize)
	return binary.LittleEndian.AppendUint32(dst, h.PayloadSize)
}

// ParseHeader decodes exactly HeaderSize bytes. Declared sizes are returned
// as-is; the reader clamps them before allocating.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("invalid header length: %d", len(b))
	}
	return Header{
		LabelSize:   binary.LittleEndian.Uint32(b[0:4]),
		PayloadSize: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// clamped returns the sizes the reader will actually consume for h.
func (h Header) clamped() (label, payload int) {
	return int(min(h.LabelSize, MaxLabel)), int(min(h.PayloadSize, MaxPayload))
}
