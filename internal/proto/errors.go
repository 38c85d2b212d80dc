package proto

import "errors"

// Error kinds shared by the daemon and the client. Call sites wrap these with
// context; match them with errors.Is.
var (
	// ErrConnection covers resolve, dial and accept failures.
	ErrConnection = errors.New("connection failed")

	// ErrFraming is an I/O failure while reading or writing a frame.
	ErrFraming = errors.New("framing error")

	// ErrProtocolViolation is a status label other than the one required.
	ErrProtocolViolation = errors.New("unexpected response")

	// ErrOverCapacity is the server's busy signal. The client retries on it
	// and never returns it.
	ErrOverCapacity = errors.New("server busy")

	// ErrPayloadTooLarge is returned before sending input of MaxPayload bytes or more.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrTransform is a failure reported by the payload transform.
	ErrTransform = errors.New("transform failed")

	// ErrProcessing is the client's view of a StatusError response.
	ErrProcessing = errors.New("server failed to process payload")
)
