package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tunnelproxy/internal/client/metrics"
	"tunnelproxy/internal/shared/constants"
	"tunnelproxy/internal/shared/protocol"
	"tunnelproxy/internal/shared/stats"
	"tunnelproxy/internal/shared/utils"
	"tunnelproxy/pkg/config"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// connLoss reports the end of one connection's read pump.
type connLoss struct {
	conn   *tunnelConn
	code   int
	reason string
}

// Client supervises the tunnel connection: it connects, registers,
// dispatches relayed requests and reconnects with backoff.
type Client struct {
	cfg    *Config
	logger *zap.Logger
	dialer Dialer
	wsURL  string

	session   *Session
	reconnect *ReconnectState
	executor  *Executor
	stats     *stats.TunnelStats

	state atomic.Int32

	connMu   sync.Mutex
	liveness *LivenessMonitor

	lostCh chan connLoss
	stopCh chan struct{}
	once   sync.Once

	requests sync.WaitGroup
}

// NewClient validates cfg and creates a client. Nothing is dialed until Connect or Run.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wsURL, err := TransportURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientInfo == nil {
		cfg.ClientInfo = DefaultClientInfo()
	}

	st := stats.NewTunnelStats()
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		dialer:    newDialer(cfg, wsURL),
		wsURL:     wsURL,
		session:   newSession(cfg),
		reconnect: NewReconnectState(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxReconnectAttempts),
		executor:  NewExecutor(cfg.LocalPort, cfg.RequestTimeout, cfg.LocalDialTimeout, st, logger),
		stats:     st,
		lostCh:    make(chan connLoss, 1),
		stopCh:    make(chan struct{}),
	}
	c.executor.onDone = cfg.Events.OnRequestDone
	c.setState(StateDisconnected)
	return c, nil
}

func newDialer(cfg *Config, wsURL string) *websocket.Dialer {
	tlsConfig := config.GetClientTLSConfigInsecure()
	if !cfg.Insecure {
		host := ""
		if u, err := url.Parse(wsURL); err == nil {
			host = u.Hostname()
		}
		tlsConfig = config.GetClientTLSConfig(host)
	}
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
}

// SetDialer replaces the websocket dialer. It must be called before Connect.
func (c *Client) SetDialer(d Dialer) {
	c.dialer = d
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetConnectionState(s.String(), stateNames)
}

func (c *Client) isShuttingDown() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// PublicURL returns the URL assigned by the relay, empty until registered.
func (c *Client) PublicURL() string {
	return c.session.PublicURL()
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Stats() *stats.TunnelStats {
	return c.stats
}

func (c *Client) ReconnectAttempts() int {
	return c.reconnect.Attempts()
}

// Connect dials the relay, registers the tunnel and starts the read pump
// and the liveness monitor. It is a no-op while connected.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

func (c *Client) connect(ctx context.Context) (*tunnelConn, error) {
	if c.isShuttingDown() {
		return nil, ErrShuttingDown
	}
	if c.State() == StateConnected {
		return c.session.currentConn(), nil
	}

	c.setState(StateConnecting)
	if cb := c.cfg.Events.OnConnecting; cb != nil {
		cb(c.cfg.ServerURL)
	}

	header := http.Header{}
	header.Set("User-Agent", UserAgent())

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	c.logger.Debug("Dialing relay", zap.String("url", c.wsURL))
	ws, resp, err := c.dialer.DialContext(dialCtx, c.wsURL, header)
	if err != nil {
		if c.stopping(ctx) {
			return nil, fmt.Errorf("dial to %s abandoned: %w", c.wsURL, ErrShuttingDown)
		}
		metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		c.setState(StateReconnecting)
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s (status %d): %w", c.wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.wsURL, err)
	}
	metrics.ConnectAttempts.WithLabelValues("success").Inc()

	conn := newTunnelConn(ws, c.cfg.ControlWriteTimeout, c.stats)
	ws.SetReadLimit(c.cfg.MaxMessageSize)

	monitor := NewLivenessMonitor(conn, c.cfg.PingInterval, c.cfg.PongTimeout, c.logger)
	monitor.onStale = c.cfg.Events.OnStale
	ws.SetPongHandler(func(string) error {
		monitor.Ack()
		return nil
	})

	c.connMu.Lock()
	if c.liveness != nil {
		c.liveness.Stop()
	}
	if old := c.session.replaceConn(conn); old != nil {
		_ = old.Abort()
	}
	c.liveness = monitor
	c.connMu.Unlock()

	if c.isShuttingDown() {
		c.session.releaseConn(conn)
		_ = conn.Abort()
		close(conn.done)
		return nil, ErrShuttingDown
	}

	c.setState(StateConnected)
	c.reconnect.Reset()
	c.stats.MarkConnected(time.Now())
	c.logger.Info("Connected to tunnel server", zap.String("url", c.wsURL))
	if cb := c.cfg.Events.OnConnected; cb != nil {
		cb()
	}

	register := protocol.NewRegisterMessage(c.cfg.LocalPort, c.cfg.TunnelName, c.cfg.ClientInfo)
	if err := conn.Send(register); err != nil {
		c.session.releaseConn(conn)
		_ = conn.Abort()
		close(conn.done)
		c.setState(StateReconnecting)
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	monitor.Start()
	go c.readPump(conn, monitor)
	return conn, nil
}

func (c *Client) readPump(conn *tunnelConn, monitor *LivenessMonitor) {
	defer close(conn.done)

	code, reason := websocket.CloseAbnormalClosure, ""
	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			}
			if utils.IsExpectedClose(err) || conn.IsClosed() {
				c.logger.Debug("Tunnel connection closed", zap.Error(err))
			} else {
				c.logger.Warn("Tunnel connection error", zap.Error(err))
			}
			break
		}

		c.stats.AddBytesIn(int64(len(data)))
		metrics.BytesReceived.Add(float64(len(data)))

		if msgType != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame", zap.Int("type", msgType))
			continue
		}
		c.dispatch(conn, data)
	}

	monitor.Stop()
	_ = conn.Abort()
	c.session.releaseConn(conn)

	if c.isShuttingDown() {
		return
	}

	c.setState(StateDisconnected)
	c.logger.Info("Disconnected from tunnel server",
		zap.Int("code", code),
		zap.String("reason", reason),
	)
	if cb := c.cfg.Events.OnDisconnected; cb != nil {
		cb(code, reason)
	}

	select {
	case c.lostCh <- connLoss{conn: conn, code: code, reason: reason}:
	default:
	}
}

func (c *Client) dispatch(conn *tunnelConn, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		metrics.DecodeFailures.Inc()
		c.logger.Warn("Dropping malformed message", zap.Error(err))
		return
	}

	switch env.Type {
	case protocol.MessageTypeRegistered:
		msg, err := env.Registered()
		if err != nil {
			metrics.DecodeFailures.Inc()
			c.logger.Warn("Dropping malformed registered message", zap.Error(err))
			return
		}
		c.handleRegistered(msg)

	case protocol.MessageTypeRequest:
		req, err := env.Request()
		if req == nil {
			metrics.DecodeFailures.Inc()
			c.logger.Warn("Dropping malformed request message", zap.Error(err))
			return
		}
		if err != nil {
			c.logger.Warn("Request message is incomplete", zap.Error(err))
		}

		c.requests.Add(1)
		go func() {
			defer c.requests.Done()
			c.executor.Handle(conn, req)
		}()

	default:
		c.logger.Info("Unknown message type", zap.String("type", string(env.Type)))
	}
}

func (c *Client) handleRegistered(msg *protocol.RegisteredMessage) {
	c.reconnect.Reset()
	metrics.Registrations.Inc()

	if !c.session.setRegistration(msg.URL, msg.TunnelName) {
		c.logger.Warn("Relay assigned a different public URL, keeping the first one",
			zap.String("kept", c.session.PublicURL()),
			zap.String("offered", msg.URL),
		)
	}
	c.logger.Info("Tunnel registered",
		zap.String("public_url", msg.URL),
		zap.String("tunnel_name", msg.TunnelName),
	)
	if cb := c.cfg.Events.OnRegistered; cb != nil {
		cb(c.session.PublicURL(), msg.TunnelName)
	}
}

// Run connects and keeps the tunnel up until ctx is done or Close is called,
// both of which return nil. It returns ErrReconnectExhausted once the
// configured number of consecutive attempts has failed.
func (c *Client) Run(ctx context.Context) error {
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-runDone:
		}
	}()

	for {
		if c.stopping(ctx) {
			return c.closed()
		}

		conn, err := c.connect(ctx)
		if err == nil {
			if !c.waitLoss(conn) {
				return c.closed()
			}
		} else {
			// A cancelled ctx can fail the dial before Close has run.
			if c.stopping(ctx) {
				return c.closed()
			}
			c.logger.Warn("Failed to connect", zap.Error(err))
			if cb := c.cfg.Events.OnConnectFailed; cb != nil {
				cb(err)
			}
		}

		attempt, delay, ok := c.reconnect.Next()
		if !ok {
			c.setState(StateFailed)
			c.logger.Error("Max reconnection attempts reached", zap.Int("attempts", attempt))
			if cb := c.cfg.Events.OnReconnectExhausted; cb != nil {
				cb(c.reconnect.MaxAttempts())
			}
			return fmt.Errorf("%w (%d/%d)", ErrReconnectExhausted, attempt, c.reconnect.MaxAttempts())
		}

		c.setState(StateReconnecting)
		c.stats.AddReconnect()
		metrics.ReconnectsScheduled.Inc()
		c.logger.Info("Reconnecting",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.reconnect.MaxAttempts()),
		)
		if cb := c.cfg.Events.OnReconnectScheduled; cb != nil {
			cb(attempt, c.reconnect.MaxAttempts(), delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return c.closed()
		}
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	return c.isShuttingDown() || ctx.Err() != nil
}

// closed waits for a concurrent Close to finish its closing handshake.
func (c *Client) closed() error {
	_ = c.Close()
	return nil
}

// waitLoss blocks until conn's read pump reports its end. It returns false on shutdown.
func (c *Client) waitLoss(conn *tunnelConn) bool {
	for {
		select {
		case loss := <-c.lostCh:
			if conn == nil || loss.conn == conn {
				return true
			}
		case <-c.stopCh:
			return false
		}
	}
}

// Close sends a normal-closure frame on the open connection, stops the
// liveness monitor and cancels any pending reconnect. No connection is
// attempted afterwards. In-flight requests are left to finish; see WaitRequests.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.setState(StateShuttingDown)
		close(c.stopCh)

		c.connMu.Lock()
		monitor := c.liveness
		c.connMu.Unlock()
		if monitor != nil {
			monitor.Stop()
		}

		conn := c.session.currentConn()
		if conn == nil {
			return
		}
		if cerr := conn.CloseNormal(constants.ErrMsgShutdownReason); cerr != nil && !errors.Is(cerr, ErrConnClosed) {
			err = fmt.Errorf("failed to send close frame: %w", cerr)
		}
		select {
		case <-conn.done:
		case <-time.After(c.cfg.CloseGracePeriod):
			c.logger.Debug("Relay did not complete the closing handshake")
		}
		_ = conn.Abort()
	})
	return err
}

// WaitRequests waits up to timeout for in-flight requests and reports whether they all finished.
func (c *Client) WaitRequests(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.requests.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
