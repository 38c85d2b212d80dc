//go:build unix

package platform

import "golang.org/x/sys/unix"

// setListenerOptions enables SO_REUSEADDR so a restarted daemon can rebind
// while old connections sit in TIME_WAIT.
//
//nolint:gosec // G115: fd values are small non-negative integers
func setListenerOptions(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}
