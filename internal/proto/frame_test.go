package proto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/caption/internal/proto"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame proto.Frame
	}{
		{
			name:  "caption and image bytes",
			frame: proto.Frame{Label: []byte("caption"), Payload: []byte{0x89, 0x50, 0x4e, 0x47}},
		},
		{
			name:  "status frame",
			frame: proto.ReadyFrame(),
		},
		{
			name:  "label at maximum",
			frame: proto.Frame{Label: bytes.Repeat([]byte("l"), proto.MaxLabel), Payload: []byte("x")},
		},
		{
			name:  "payload at maximum",
			frame: proto.Frame{Label: []byte("big"), Payload: bytes.Repeat([]byte("p"), proto.MaxPayload)},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, proto.WriteFrame(&buf, tt.frame))
			assert.Equal(t, proto.HeaderSize+len(tt.frame.Label)+len(tt.frame.Payload), buf.Len())

			got, err := proto.ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, len(tt.frame.Label), len(got.Label))
			assert.True(t, bytes.Equal(tt.frame.Label, got.Label))
			assert.True(t, bytes.Equal(tt.frame.Payload, got.Payload))
			assert.Zero(t, buf.Len(), "reader must consume exactly one frame")
		})
	}
}

func TestFrameTruncatesOversized(t *testing.T) {
	t.Parallel()

	label := make([]byte, proto.MaxLabel+10)
	for i := range label {
		label[i] = byte(i)
	}
	payload := make([]byte, proto.MaxPayload+3)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	var buf bytes.Buffer
	require.NoError(t, proto.WriteFrame(&buf, proto.Frame{Label: label, Payload: payload}))
	assert.Equal(t, proto.HeaderSize+proto.MaxLabel+proto.MaxPayload, buf.Len())

	got, err := proto.ReadFrame(&buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(label[:proto.MaxLabel], got.Label))
	assert.True(t, bytes.Equal(payload[:proto.MaxPayload], got.Payload))
}

func TestBuildHeader(t *testing.T) {
	t.Parallel()

	h := proto.BuildHeader(proto.Frame{Label: []byte("abc"), Payload: make([]byte, 17)})
	assert.Equal(t, proto.Header{LabelSize: 3, PayloadSize: 17}, h)

	h = proto.BuildHeader(proto.Frame{
		Label:   make([]byte, proto.MaxLabel*2),
		Payload: make([]byte, proto.MaxPayload+1),
	})
	assert.Equal(t, uint32(proto.MaxLabel), h.LabelSize)
	assert.Equal(t, uint32(proto.MaxPayload), h.PayloadSize)
}

func TestHeaderWireLayout(t *testing.T) {
	t.Parallel()

	b := proto.AppendHeader(nil, proto.Header{LabelSize: 0x01020304, PayloadSize: 7})
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x07, 0x00, 0x00, 0x00}, b)

	h, err := proto.ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), h.LabelSize)
	assert.Equal(t, uint32(7), h.PayloadSize)
}

func TestParseHeaderWrongLength(t *testing.T) {
	t.Parallel()

	_, err := proto.ParseHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestParseHeaderDoesNotClamp(t *testing.T) {
	t.Parallel()

	b := proto.AppendHeader(nil, proto.Header{LabelSize: 1 << 30, PayloadSize: 1 << 31})
	h, err := proto.ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<30), h.LabelSize)
	assert.Equal(t, uint32(1<<31), h.PayloadSize)
}

func TestStatusFrames(t *testing.T) {
	t.Parallel()

	assert.True(t, proto.ReadyFrame().IsStatus(proto.StatusOK))
	assert.True(t, proto.BusyFrame().IsStatus(proto.StatusBusy))
	assert.Empty(t, proto.BusyFrame().Payload)
	assert.Equal(t, "429", proto.BusyFrame().Status())

	// Callers may mutate their copy without affecting later canned frames.
	f := proto.ReadyFrame()
	f.Label[0] = 'x'
	assert.Equal(t, proto.StatusOK, proto.ReadyFrame().Status())
}
