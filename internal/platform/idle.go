package platform

import (
	"io"
	"net"
	"time"
)

// idleReader pushes the read deadline forward after every read that makes
// progress, so the deadline bounds stalls rather than total transfer time.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

// NewIdleReader returns a reader over conn that fails only when no bytes
// arrive for timeout. It arms the first deadline itself. A timeout of zero
// or less returns conn unchanged.
func NewIdleReader(conn net.Conn, timeout time.Duration) io.Reader {
	if timeout <= 0 {
		return conn
	}
	//nolint:errcheck // deadline errors surface on the read itself
	conn.SetReadDeadline(time.Now().Add(timeout))
	return &idleReader{conn: conn, timeout: timeout}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.conn.Read(p)
	if n > 0 {
		//nolint:errcheck // deadline errors surface on the next read
		r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	}
	return n, err
}
