package platform

import (
	"context"
	"net"
	"syscall"
	"time"
)

// TCPKeepAlive is the keep-alive period set on accepted and dialed connections.
const TCPKeepAlive = 30 * time.Second

// ListenConfig returns a net.ListenConfig that applies the platform's
// listener socket options before bind.
func ListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		KeepAlive: TCPKeepAlive,
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setListenerOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}

// Listen opens a TCP listener on addr with ListenConfig.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	return ListenConfig().Listen(ctx, "tcp", addr)
}

// Dialer returns a dialer with the given connect timeout and the platform
// keep-alive period.
func Dialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{Timeout: timeout, KeepAlive: TCPKeepAlive}
}
