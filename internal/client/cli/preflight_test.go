package cli

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenerPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	return tcp.Port
}

func TestProbeLocalServer(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := probeLocalServer(listenerPort(t, srv.Listener.Addr()), time.Second)
	assert.NoError(t, err, "any status means a server is listening")
	assert.Equal(t, http.MethodHead, method)
}

func TestProbeLocalServerNothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listenerPort(t, ln.Addr())
	require.NoError(t, ln.Close())

	assert.Error(t, probeLocalServer(port, time.Second))
}

func TestProbeLocalServerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := probeLocalServer(listenerPort(t, srv.Listener.Addr()), 100*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
