package daemon

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/caption/internal/metrics"
	"github.com/bamsammich/caption/internal/proto"
)

var upper = TransformFunc(func(_ context.Context, _ string, payload []byte) ([]byte, error) {
	return bytes.ToUpper(payload), nil
})

// runSession starts a session on one end of a pipe and returns the other end
// plus a channel closed when Run returns.
func runSession(t *testing.T, adm *Admission, tr Transformer, m *metrics.Metrics) (net.Conn, <-chan struct{}) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })

	s := NewSession(server, adm, SessionConfig{Transformer: tr, Metrics: m, IOTimeout: 5 * time.Second})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background())
	}()
	return peer, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSessionServesRequest(t *testing.T) {
	t.Parallel()

	adm := NewAdmission(1)
	peer, done := runSession(t, adm, upper, nil)

	status, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	assert.True(t, status.IsStatus(proto.StatusOK))
	assert.Empty(t, status.Payload)

	require.NoError(t, proto.WriteFrame(peer, proto.Frame{Label: []byte("cap"), Payload: []byte("data")}))

	resp, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOK, resp.Status())
	assert.Equal(t, []byte("DATA"), resp.Payload)

	waitDone(t, done)
	assert.Zero(t, adm.Live())
}

func TestSessionPassesLabelToTransform(t *testing.T) {
	t.Parallel()

	var gotLabel string
	tr := TransformFunc(func(_ context.Context, label string, payload []byte) ([]byte, error) {
		gotLabel = label
		return payload, nil
	})
	peer, done := runSession(t, NewAdmission(1), tr, nil)

	_, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	require.NoError(t, proto.WriteFrame(peer, proto.Frame{Label: []byte("hello caption"), Payload: []byte("x")}))
	_, err = proto.ReadFrame(peer)
	require.NoError(t, err)

	waitDone(t, done)
	assert.Equal(t, "hello caption", gotLabel)
}

func TestSessionTransformFailure(t *testing.T) {
	t.Parallel()

	failing := TransformFunc(func(context.Context, string, []byte) ([]byte, error) {
		return []byte("partial output"), errors.New("cannot decode")
	})
	m := metrics.New(func() float64 { return 0 })
	adm := NewAdmission(1)
	peer, done := runSession(t, adm, failing, m)

	_, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	require.NoError(t, proto.WriteFrame(peer, proto.Frame{Label: []byte("x"), Payload: []byte("junk")}))

	resp, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusError, resp.Status())
	assert.Empty(t, resp.Payload, "payload cleared on failure")

	waitDone(t, done)
	assert.Zero(t, adm.Live())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sessions(metrics.OutcomeTransformFail)), 0)
}

func TestSessionRejectsWhenBusy(t *testing.T) {
	t.Parallel()

	adm := NewAdmission(1)
	held := adm.Enter()
	defer held.Release()

	m := metrics.New(func() float64 { return float64(adm.Live()) })
	peer, done := runSession(t, adm, upper, m)

	status, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	assert.True(t, status.IsStatus(proto.StatusBusy))

	// The session hangs up without reading a request.
	_, err = proto.ReadFrame(peer)
	require.ErrorIs(t, err, proto.ErrFraming)

	waitDone(t, done)
	assert.Equal(t, int64(1), adm.Live(), "only the held ticket remains")
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sessions(metrics.OutcomeRejected)), 0)
}

func TestSessionReadFailure(t *testing.T) {
	t.Parallel()

	called := false
	tr := TransformFunc(func(_ context.Context, _ string, p []byte) ([]byte, error) {
		called = true
		return p, nil
	})
	adm := NewAdmission(1)
	peer, done := runSession(t, adm, tr, nil)

	_, err := proto.ReadFrame(peer)
	require.NoError(t, err)

	// Half a header, then hang up.
	_, err = peer.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	peer.Close()

	waitDone(t, done)
	assert.False(t, called)
	assert.Zero(t, adm.Live())
}

func TestSessionPeerGoneBeforeReady(t *testing.T) {
	t.Parallel()

	adm := NewAdmission(1)
	peer, done := runSession(t, adm, upper, nil)
	peer.Close()

	waitDone(t, done)
	assert.Zero(t, adm.Live())
}

func TestSessionIOTimeout(t *testing.T) {
	t.Parallel()

	server, peer := net.Pipe()
	defer peer.Close()

	adm := NewAdmission(1)
	s := NewSession(server, adm, SessionConfig{Transformer: upper, IOTimeout: 50 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background())
	}()

	_, err := proto.ReadFrame(peer)
	require.NoError(t, err)
	// Never send the request; the session gives up on its own.

	waitDone(t, done)
	assert.Zero(t, adm.Live())
}
