package constants

import "time"

const (
	// ClientVersion is reported in the User-Agent header and in registration clientInfo
	ClientVersion = "1.0.0"

	// ClientPlatform is the platform label sent in registration clientInfo
	ClientPlatform = "Go"

	// UserAgentPrefix identifies this client to the relay during the handshake
	UserAgentPrefix = "TunnelProxy-GoClient/"

	// DefaultServerURL is the relay used when nothing else is configured
	DefaultServerURL = "wss://opi-tunnel.onrender.com"

	// DefaultLocalPort is the local target port used when nothing else is configured
	DefaultLocalPort = 8080

	// DefaultTunnelName is the tunnel label used when nothing else is configured
	DefaultTunnelName = "dev1"

	// ==================== Liveness Configuration ====================

	// PingInterval is how often a transport ping is sent on the tunnel connection
	PingInterval = 30 * time.Second

	// PongTimeout is the grace added to PingInterval before a silent connection is declared stale
	PongTimeout = 10 * time.Second

	// PingPayload is the fixed payload carried by every liveness ping
	PingPayload = "ping"

	// ControlWriteTimeout bounds writes of ping and close control frames
	ControlWriteTimeout = 5 * time.Second

	// ==================== Connection Configuration ====================

	// HandshakeTimeout bounds the websocket opening handshake
	HandshakeTimeout = 10 * time.Second

	// CloseGracePeriod is how long shutdown waits for the relay to echo the close frame
	CloseGracePeriod = 1 * time.Second

	// MaxMessageSize caps a single inbound tunnel frame
	MaxMessageSize = 32 * 1024 * 1024

	// ==================== Request/Response Timeouts ====================

	// RequestTimeout is the maximum time a local call may take
	RequestTimeout = 25 * time.Second

	// LocalDialTimeout bounds connecting to the local target
	LocalDialTimeout = 10 * time.Second

	// PreflightTimeout bounds the startup probe of the local target
	PreflightTimeout = 2 * time.Second

	// ShutdownDrainTimeout is how long shutdown waits for in-flight local calls
	ShutdownDrainTimeout = 2 * time.Second

	// ==================== Reconnection Configuration ====================

	// ReconnectBaseDelay is multiplied by 2^attempt to get the backoff delay
	ReconnectBaseDelay = 1 * time.Second

	// ReconnectMaxDelay is the maximum delay between reconnection attempts
	ReconnectMaxDelay = 30 * time.Second

	// MaxReconnectAttempts is the number of consecutive failures tolerated before giving up
	MaxReconnectAttempts = 10
)

// Error messages placed in synthetic response bodies
const (
	ErrMsgLocalConnect    = "Failed to connect to local server"
	ErrMsgProcessResponse = "Failed to process response"
	ErrMsgInternal        = "Internal client error"
	ErrMsgInvalidRequest  = "Invalid request message"
	ErrMsgShutdownReason  = "Client shutting down"
)
