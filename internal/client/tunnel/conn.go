package tunnel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tunnelproxy/internal/client/metrics"
	"tunnelproxy/internal/shared/protocol"
	"tunnelproxy/internal/shared/stats"
)

// Sender delivers one outbound message on the tunnel.
type Sender interface {
	Send(v any) error
}

// tunnelConn is one websocket connection to the relay. Writers share it
// through Send, which is serialized; once closed every send fails with
// ErrConnClosed.
type tunnelConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	stats        *stats.TunnelStats

	writeMu sync.Mutex
	closed  atomic.Bool

	// done is closed when the read pump for this connection has exited.
	done chan struct{}
}

func newTunnelConn(ws *websocket.Conn, writeTimeout time.Duration, st *stats.TunnelStats) *tunnelConn {
	return &tunnelConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		stats:        st,
		done:         make(chan struct{}),
	}
}

// Send encodes v and writes it as one text frame.
func (c *tunnelConn) Send(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.stats.AddBytesOut(int64(len(data)))
	metrics.BytesSent.Add(float64(len(data)))
	return nil
}

// Ping sends a transport ping control frame.
func (c *tunnelConn) Ping(payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(c.writeTimeout))
}

// CloseNormal starts the closing handshake with a normal-closure frame.
// Further sends fail; the socket itself stays open so the relay's echo can be read.
func (c *tunnelConn) CloseNormal(reason string) error {
	if c.closed.Swap(true) {
		return ErrConnClosed
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
}

// Abort closes the socket without a closing handshake.
func (c *tunnelConn) Abort() error {
	c.closed.Store(true)
	return c.ws.Close()
}

func (c *tunnelConn) IsClosed() bool {
	return c.closed.Load()
}
