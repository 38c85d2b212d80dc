//go:build !unix

package platform

// setListenerOptions is a no-op where x/sys/unix socket options are unavailable.
func setListenerOptions(_ uintptr) error { return nil }
