package tunnel

import (
	"sync"
)

// State is the connection lifecycle state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateShuttingDown
)

var stateNames = []string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateFailed:       "failed",
	StateShuttingDown: "shutting_down",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further connection attempts follow this state.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateShuttingDown
}

// Session is the single logical tunnel to the relay. It outlives the
// connections made for it; each new connection supersedes the previous one.
type Session struct {
	serverURL  string
	localPort  int
	tunnelName string

	mu         sync.RWMutex
	publicURL  string
	remoteName string
	conn       *tunnelConn
}

func newSession(cfg *Config) *Session {
	return &Session{
		serverURL:  cfg.ServerURL,
		localPort:  cfg.LocalPort,
		tunnelName: cfg.TunnelName,
	}
}

// PublicURL returns the URL assigned by the relay, empty until registered.
func (s *Session) PublicURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicURL
}

// RemoteName returns the tunnel name echoed by the relay.
func (s *Session) RemoteName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteName
}

// setRegistration records the relay's acknowledgment. The public URL is kept
// from the first acknowledgment; it reports false when a later one differs.
func (s *Session) setRegistration(publicURL, remoteName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteName = remoteName
	if s.publicURL == "" {
		s.publicURL = publicURL
		return true
	}
	return s.publicURL == publicURL
}

func (s *Session) currentConn() *tunnelConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// replaceConn installs c and returns the handle it superseded.
func (s *Session) replaceConn(c *tunnelConn) *tunnelConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.conn
	s.conn = c
	return old
}

// releaseConn drops c if it is still the current handle.
func (s *Session) releaseConn(c *tunnelConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c {
		return false
	}
	s.conn = nil
	return true
}
