package proto

import (
	"fmt"
	"io"
	"net"
)

// WriteFrame writes f to w as a single frame:
// [4-byte label size][4-byte payload size][label][payload], sizes little-endian.
//
// Header, label and payload go out as one vectored write (writev on TCP
// connections), so the peer sees one contiguous frame. A label or payload
// longer than its maximum is truncated to that maximum.
//
// A connection must not have two WriteFrame calls in flight at once.
func WriteFrame(w io.Writer, f Frame) error {
	h := BuildHeader(f)
	bufs := net.Buffers{
		AppendHeader(make([]byte, 0, HeaderSize), h),
		f.Label[:h.LabelSize],
		f.Payload[:h.PayloadSize],
	}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrFraming, err)
	}
	return nil
}
