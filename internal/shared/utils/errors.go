package utils

import (
	"errors"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// IsNetworkError checks if an error message indicates a common network error
// that should be handled gracefully (not logged as severe errors).
func IsNetworkError(errStr string) bool {
	return ContainsAny(errStr,
		"EOF",
		"connection reset by peer",
		"broken pipe",
		"connection refused",
		"use of closed network connection",
		"websocket: close",
	)
}

// IsExpectedClose reports whether err ends a tunnel connection in an ordinary way:
// a close frame from the relay, a locally closed socket, or the peer going away.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return IsNetworkError(err.Error())
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ContainsAny checks if a string contains any of the given substrings.
func ContainsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
