package tunnel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRelay accepts tunnel connections and hands them to the test.
type fakeRelay struct {
	srv        *httptest.Server
	conns      chan *websocket.Conn
	userAgents chan string
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{
		conns:      make(chan *websocket.Conn, 8),
		userAgents: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.userAgents <- req.UserAgent()
		r.conns <- ws
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-r.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(3 * time.Second):
		t.Fatal("relay saw no connection")
		return nil
	}
}

func (r *fakeRelay) expectNoConnection(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-r.conns:
		t.Fatal("unexpected reconnection")
	case <-time.After(within):
	}
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func testConfig(serverURL string, localPort int) *Config {
	cfg := DefaultConfig()
	cfg.ServerURL = serverURL
	cfg.LocalPort = localPort
	cfg.PingInterval = time.Minute
	cfg.RequestTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.CloseGracePeriod = 500 * time.Millisecond
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func startClient(t *testing.T, cfg *Config) (*Client, <-chan error) {
	t.Helper()
	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	})
	return c, done
}

func TestClientRegistersOnConnect(t *testing.T) {
	relay := newFakeRelay(t)
	startClient(t, testConfig(relay.srv.URL, 3000))

	ws := relay.accept(t)
	assert.Equal(t, "TunnelProxy-GoClient/1.0.0", <-relay.userAgents)

	msg := readJSON(t, ws)
	assert.Equal(t, "register", msg["type"])
	assert.Equal(t, float64(3000), msg["localPort"])
	assert.Equal(t, "dev1", msg["tunnelName"])

	info, ok := msg["clientInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", info["version"])
	assert.Equal(t, "Go", info["platform"])
	assert.Equal(t, runtime.Version(), info["runtime"])
}

func TestClientRegisteredSetsPublicURL(t *testing.T) {
	relay := newFakeRelay(t)

	registered := make(chan string, 1)
	cfg := testConfig(relay.srv.URL, 3000)
	cfg.Events.OnRegistered = func(publicURL, tunnelName string) { registered <- publicURL }
	c, _ := startClient(t, cfg)

	ws := relay.accept(t)
	readJSON(t, ws)
	require.NoError(t, ws.WriteJSON(map[string]string{
		"type":       "registered",
		"url":        "https://dev1.relay.example",
		"tunnelName": "dev1",
	}))

	select {
	case u := <-registered:
		assert.Equal(t, "https://dev1.relay.example", u)
	case <-time.After(3 * time.Second):
		t.Fatal("registered event not delivered")
	}
	assert.Equal(t, "https://dev1.relay.example", c.PublicURL())
	assert.Equal(t, "dev1", c.Session().RemoteName())
	assert.Equal(t, StateConnected, c.State())
}

func TestClientRelaysRequest(t *testing.T) {
	port, seen := newLocalServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	relay := newFakeRelay(t)
	startClient(t, testConfig(relay.srv.URL, port))

	ws := relay.accept(t)
	readJSON(t, ws)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"request","method":"GET","url":"/ping","headers":{"Host":"x"}}`)))

	resp := readJSON(t, ws)
	assert.Equal(t, "response", resp["type"])
	assert.Equal(t, float64(200), resp["statusCode"])
	assert.Equal(t, map[string]any{"ok": true}, resp["body"])

	got := <-seen
	assert.NotEqual(t, "x", got.host)
}

func TestClientAnswersEveryRequest(t *testing.T) {
	port, _ := newLocalServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	})

	relay := newFakeRelay(t)
	startClient(t, testConfig(relay.srv.URL, port))

	ws := relay.accept(t)
	readJSON(t, ws)

	const n = 10
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		require.NoError(t, ws.WriteJSON(map[string]string{
			"type": "request", "id": id, "method": "GET", "url": "/" + id,
		}))
	}
	// malformed and unknown frames are dropped without a reply
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))

	ids := map[string]bool{}
	for i := 0; i < n; i++ {
		resp := readJSON(t, ws)
		id, _ := resp["id"].(string)
		assert.Equal(t, "/"+id, resp["body"])
		ids[id] = true
	}
	assert.Len(t, ids, n)

	_ = ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "no reply expected for dropped frames")
}

func TestClientCloseSendsNormalClosure(t *testing.T) {
	relay := newFakeRelay(t)
	c, done := startClient(t, testConfig(relay.srv.URL, 3000))

	ws := relay.accept(t)
	readJSON(t, ws)

	closed := make(chan error, 1)
	go func() {
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := ws.ReadMessage()
		closed <- err
	}()

	require.NoError(t, c.Close())

	err := <-closed
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "Client shutting down", closeErr.Text)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.Equal(t, StateShuttingDown, c.State())
	relay.expectNoConnection(t, 200*time.Millisecond)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrShuttingDown)
}

func TestClientReconnectsAfterRelayDrop(t *testing.T) {
	relay := newFakeRelay(t)

	var mu sync.Mutex
	var codes []int
	cfg := testConfig(relay.srv.URL, 3000)
	cfg.Events.OnDisconnected = func(code int, reason string) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	}
	c, _ := startClient(t, cfg)

	first := relay.accept(t)
	readJSON(t, first)
	require.NoError(t, first.Close())

	second := relay.accept(t)
	msg := readJSON(t, second)
	assert.Equal(t, "register", msg["type"])

	mu.Lock()
	assert.Equal(t, []int{websocket.CloseAbnormalClosure}, codes)
	mu.Unlock()

	assert.Equal(t, int64(1), c.Stats().GetSnapshot().Reconnects)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
}

func TestClientReportsRelayCloseCode(t *testing.T) {
	relay := newFakeRelay(t)

	disconnected := make(chan [2]any, 1)
	cfg := testConfig(relay.srv.URL, 3000)
	cfg.Events.OnDisconnected = func(code int, reason string) {
		select {
		case disconnected <- [2]any{code, reason}:
		default:
		}
	}
	startClient(t, cfg)

	ws := relay.accept(t)
	readJSON(t, ws)
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay restarting")))

	select {
	case got := <-disconnected:
		assert.Equal(t, websocket.CloseGoingAway, got[0])
		assert.Equal(t, "relay restarting", got[1])
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect not reported")
	}
	relay.accept(t)
}

// flakyDialer fails the first n dials.
type flakyDialer struct {
	remaining atomic.Int32
	inner     Dialer
}

func (d *flakyDialer) DialContext(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	if d.remaining.Add(-1) >= 0 {
		return nil, nil, errors.New("dial tcp: connection refused")
	}
	return d.inner.DialContext(ctx, u, h)
}

func TestClientRetriesFailedDials(t *testing.T) {
	relay := newFakeRelay(t)

	var scheduled []int
	var mu sync.Mutex
	cfg := testConfig(relay.srv.URL, 3000)
	cfg.Events.OnReconnectScheduled = func(attempt, max int, delay time.Duration) {
		mu.Lock()
		scheduled = append(scheduled, attempt)
		mu.Unlock()
	}

	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	d := &flakyDialer{inner: websocket.DefaultDialer}
	d.remaining.Store(3)
	c.SetDialer(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	ws := relay.accept(t)
	readJSON(t, ws)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, scheduled)
	mu.Unlock()
	assert.Equal(t, 0, c.ReconnectAttempts())
}

func TestRegisteredResetsReconnectAttempts(t *testing.T) {
	c, err := NewClient(testConfig("ws://relay.invalid", 3000), zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.reconnect.Next()
	}
	require.Equal(t, 4, c.ReconnectAttempts())

	c.dispatch(nil, []byte(`{"type":"registered","url":"https://a.example","tunnelName":"dev1"}`))
	assert.Equal(t, 0, c.ReconnectAttempts())
	assert.Equal(t, "https://a.example", c.PublicURL())

	// the first assigned URL is kept
	c.dispatch(nil, []byte(`{"type":"registered","url":"https://b.example","tunnelName":"dev1"}`))
	assert.Equal(t, "https://a.example", c.PublicURL())
}

func TestClientRunExhaustsAttempts(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1", 3000)
	cfg.MaxReconnectAttempts = 3

	var exhausted atomic.Int32
	cfg.Events.OnReconnectExhausted = func(int) { exhausted.Add(1) }

	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	d := &flakyDialer{inner: websocket.DefaultDialer}
	d.remaining.Store(100)
	c.SetDialer(d)

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.True(t, strings.Contains(err.Error(), "3/3"))
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, int32(1), exhausted.Load())
}

func TestClientStaleConnectionIsReplaced(t *testing.T) {
	relay := newFakeRelay(t)

	stale := make(chan struct{}, 1)
	cfg := testConfig(relay.srv.URL, 3000)
	cfg.PingInterval = 30 * time.Millisecond
	cfg.PongTimeout = 10 * time.Millisecond
	cfg.Events.OnStale = func(time.Duration) {
		select {
		case stale <- struct{}{}:
		default:
		}
	}
	startClient(t, cfg)

	// The relay reads the registration and then stops reading, so pings
	// are never answered.
	first := relay.accept(t)
	readJSON(t, first)

	select {
	case <-stale:
	case <-time.After(3 * time.Second):
		t.Fatal("stale connection not detected")
	}

	second := relay.accept(t)
	assert.Equal(t, "register", readJSON(t, second)["type"])
}

func TestClientRunStopsOnContextCancel(t *testing.T) {
	relay := newFakeRelay(t)
	c, err := NewClient(testConfig(relay.srv.URL, 3000), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ws := relay.accept(t)
	readJSON(t, ws)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	relay.expectNoConnection(t, 100*time.Millisecond)
}

func TestClientWaitRequests(t *testing.T) {
	release := make(chan struct{})
	port, _ := newLocalServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("done"))
	})

	relay := newFakeRelay(t)
	c, _ := startClient(t, testConfig(relay.srv.URL, port))

	ws := relay.accept(t)
	readJSON(t, ws)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "request", "method": "GET", "url": "/wait"}))

	require.Eventually(t, func() bool { return c.Stats().GetInFlight() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.WaitRequests(20*time.Millisecond))

	close(release)
	assert.True(t, c.WaitRequests(2*time.Second))
	assert.Equal(t, "done", readJSON(t, ws)["body"])
}

// blockingDialer holds every dial until its context ends.
type blockingDialer struct {
	started chan struct{}
}

func (d *blockingDialer) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	close(d.started)
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func TestClientCancelDuringDialSchedulesNoReconnect(t *testing.T) {
	var failed, scheduled atomic.Int32
	cfg := testConfig("ws://relay.invalid", 3000)
	cfg.Events.OnConnectFailed = func(error) { failed.Add(1) }
	cfg.Events.OnReconnectScheduled = func(int, int, time.Duration) { scheduled.Add(1) }

	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	d := &blockingDialer{started: make(chan struct{})}
	c.SetDialer(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-d.started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(0), failed.Load())
	assert.Equal(t, int32(0), scheduled.Load())
	assert.Equal(t, 0, c.ReconnectAttempts())
	assert.Equal(t, StateShuttingDown, c.State())
}

func TestClientAnswersLooselyTypedRequests(t *testing.T) {
	port, _ := newLocalServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	relay := newFakeRelay(t)
	startClient(t, testConfig(relay.srv.URL, port))

	ws := relay.accept(t)
	readJSON(t, ws)

	frames := []string{
		`{"type":"request","id":42,"method":"GET","url":"/ping"}`,
		`{"type":"request","method":"GET","url":"/ping","headers":[]}`,
		`{"type":"request","method":"GET","url":"/ping","headers":"x"}`,
	}
	for _, f := range frames {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	var numericID int
	for range frames {
		resp := readJSON(t, ws)
		assert.Equal(t, float64(200), resp["statusCode"])
		if id, ok := resp["id"]; ok {
			assert.Equal(t, float64(42), id)
			numericID++
		}
	}
	assert.Equal(t, 1, numericID)
}
