package tunnel

import "errors"

var (
	// ErrReconnectExhausted is returned by Run once the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("max reconnection attempts reached")

	// ErrConnClosed is returned when sending on a connection that was closed or replaced.
	ErrConnClosed = errors.New("tunnel connection closed")

	// ErrShuttingDown is returned by Connect after Close.
	ErrShuttingDown = errors.New("tunnel client shutting down")

	// ErrInvalidRequest marks a relayed request without method or url.
	ErrInvalidRequest = errors.New("invalid request message")
)
