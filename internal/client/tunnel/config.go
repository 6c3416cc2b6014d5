package tunnel

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"tunnelproxy/internal/shared/constants"
	"tunnelproxy/internal/shared/protocol"
)

// RequestResult describes one relayed request after its response was sent.
type RequestResult struct {
	ID         string
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	BytesOut   int
	// Err is the local-call or send failure, nil when the local server answered
	// and the response reached the relay.
	Err error
}

// Events are optional callbacks invoked from the client's goroutines.
// They must not block.
type Events struct {
	OnConnecting         func(serverURL string)
	OnConnected          func()
	OnConnectFailed      func(err error)
	OnRegistered         func(publicURL, tunnelName string)
	OnDisconnected       func(code int, reason string)
	OnStale              func(silence time.Duration)
	OnReconnectScheduled func(attempt, maxAttempts int, delay time.Duration)
	OnReconnectExhausted func(maxAttempts int)
	OnRequestDone        func(result RequestResult)
}

// Config holds the tunables of a tunnel client.
type Config struct {
	ServerURL  string
	LocalPort  int
	TunnelName string
	// Insecure skips TLS verification of a wss relay. Testing only.
	Insecure bool

	PingInterval time.Duration
	PongTimeout  time.Duration

	RequestTimeout   time.Duration
	LocalDialTimeout time.Duration

	HandshakeTimeout    time.Duration
	ControlWriteTimeout time.Duration
	CloseGracePeriod    time.Duration
	MaxMessageSize      int64

	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxReconnectAttempts int

	ClientInfo *protocol.ClientInfo
	Events     Events
}

// DefaultClientInfo describes this build to the relay.
func DefaultClientInfo() *protocol.ClientInfo {
	return &protocol.ClientInfo{
		Version:  constants.ClientVersion,
		Platform: constants.ClientPlatform,
		Runtime:  runtime.Version(),
	}
}

// UserAgent is sent with the opening handshake.
func UserAgent() string {
	return constants.UserAgentPrefix + constants.ClientVersion
}

// DefaultConfig returns a config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:            constants.DefaultServerURL,
		LocalPort:            constants.DefaultLocalPort,
		TunnelName:           constants.DefaultTunnelName,
		PingInterval:         constants.PingInterval,
		PongTimeout:          constants.PongTimeout,
		RequestTimeout:       constants.RequestTimeout,
		LocalDialTimeout:     constants.LocalDialTimeout,
		HandshakeTimeout:     constants.HandshakeTimeout,
		ControlWriteTimeout:  constants.ControlWriteTimeout,
		CloseGracePeriod:     constants.CloseGracePeriod,
		MaxMessageSize:       constants.MaxMessageSize,
		BaseDelay:            constants.ReconnectBaseDelay,
		MaxDelay:             constants.ReconnectMaxDelay,
		MaxReconnectAttempts: constants.MaxReconnectAttempts,
		ClientInfo:           DefaultClientInfo(),
	}
}

// Validate checks the config for values the client cannot run with.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if _, err := TransportURL(c.ServerURL); err != nil {
		return err
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return fmt.Errorf("invalid local port: %d (must be 1-65535)", c.LocalPort)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"ping interval", c.PingInterval},
		{"pong timeout", c.PongTimeout},
		{"request timeout", c.RequestTimeout},
		{"local dial timeout", c.LocalDialTimeout},
		{"handshake timeout", c.HandshakeTimeout},
		{"control write timeout", c.ControlWriteTimeout},
		{"close grace period", c.CloseGracePeriod},
		{"reconnect base delay", c.BaseDelay},
		{"reconnect max delay", c.MaxDelay},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("reconnect max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	return nil
}

// TransportURL maps the relay URL onto the websocket scheme: http becomes ws
// and https becomes wss. ws and wss URLs are returned unchanged.
func TransportURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		u.Scheme = strings.ToLower(u.Scheme)
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be http, https, ws or wss", serverURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	return u.String(), nil
}
