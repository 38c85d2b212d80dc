package proto

import (
	"errors"
	"fmt"
	"io"
)

type readState int

const (
	stateHeader readState = iota
	stateLabel
	statePayload
	stateDone
	stateFailed
)

func (s readState) String() string {
	switch s {
	case stateHeader:
		return "header"
	case stateLabel:
		return "label"
	case statePayload:
		return "payload"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// FrameReader decodes one frame from a byte stream in three ordered stages:
// header, label, payload. It tolerates any fragmentation of the input: each
// stage is resumed with whatever bytes arrive next until it is filled.
//
// The reader is driven either by ReadFrom (pull from an io.Reader) or by
// Next/Advance and Feed (push). Reset starts the next frame.
type FrameReader struct {
	header  [HeaderSize]byte
	frame   Frame
	off     int
	state   readState
	started bool
}

// NewFrameReader returns a reader positioned at the start of a frame.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Reset discards any previous frame and waits for a new header.
func (fr *FrameReader) Reset() {
	fr.frame = Frame{}
	fr.off = 0
	fr.state = stateHeader
	fr.started = false
}

// Done reports whether a complete frame has been decoded.
func (fr *FrameReader) Done() bool { return fr.state == stateDone }

// Frame returns the decoded frame. ok is false until the frame is complete,
// and stays false after a failure.
func (fr *FrameReader) Frame() (f Frame, ok bool) {
	if fr.state != stateDone {
		return Frame{}, false
	}
	return fr.frame, true
}

// Next returns the buffer the current stage still needs filled. It is empty
// once the frame is complete or the reader has failed.
func (fr *FrameReader) Next() []byte {
	switch fr.state {
	case stateHeader:
		return fr.header[fr.off:]
	case stateLabel:
		return fr.frame.Label[fr.off:]
	case statePayload:
		return fr.frame.Payload[fr.off:]
	default:
		return nil
	}
}

// Advance records that n bytes were written into the buffer last returned by
// Next, moving through stages as each one fills.
func (fr *FrameReader) Advance(n int) {
	if n <= 0 || fr.state >= stateDone {
		return
	}
	fr.started = true
	fr.off += n
	if len(fr.Next()) > 0 {
		return
	}

	switch fr.state {
	case stateHeader:
		// ParseHeader cannot fail on a full header buffer.
		h, _ := ParseHeader(fr.header[:]) //nolint:errcheck // fixed-size input
		labelSize, payloadSize := h.clamped()
		fr.frame = Frame{
			Label:   make([]byte, labelSize),
			Payload: make([]byte, payloadSize),
		}
		fr.enter(stateLabel)
	case stateLabel:
		fr.enter(statePayload)
	case statePayload:
		fr.enter(stateDone)
	}
}

// enter moves to s, skipping stages that have nothing to read.
func (fr *FrameReader) enter(s readState) {
	fr.off = 0
	fr.state = s
	for fr.state < stateDone && len(fr.Next()) == 0 {
		fr.state++
	}
}

// Feed copies bytes from p into the current frame and reports how many were
// consumed and whether the frame is now complete. Bytes beyond the end of the
// frame are left unconsumed.
func (fr *FrameReader) Feed(p []byte) (n int, done bool) {
	for len(p) > 0 && fr.state < stateDone {
		c := copy(fr.Next(), p)
		fr.Advance(c)
		p = p[c:]
		n += c
	}
	return n, fr.state == stateDone
}

// ReadFrom reads from r until the frame is complete. Any read error fails the
// reader; the partially decoded frame is discarded and never returned by Frame.
func (fr *FrameReader) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for fr.state < stateDone {
		buf := fr.Next()
		n, err := r.Read(buf)
		fr.Advance(n)
		total += int64(n)
		if fr.state == stateDone {
			return total, nil
		}
		if err != nil {
			return total, fr.fail(err)
		}
	}
	if fr.state == stateFailed {
		return total, fmt.Errorf("%w: reader already failed", ErrFraming)
	}
	return total, nil
}

func (fr *FrameReader) fail(err error) error {
	stage := fr.state
	if errors.Is(err, io.EOF) && (fr.started || stage != stateHeader) {
		err = io.ErrUnexpectedEOF
	}
	fr.frame = Frame{}
	fr.state = stateFailed
	return fmt.Errorf("%w: read %s: %w", ErrFraming, stage, err)
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	fr := NewFrameReader()
	if _, err := fr.ReadFrom(r); err != nil {
		return Frame{}, err
	}
	f, _ := fr.Frame()
	return f, nil
}
