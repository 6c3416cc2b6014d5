package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Connection metrics
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunnelproxy_connection_state",
		Help: "1 for the current connection state of the tunnel, 0 for all others",
	}, []string{"state"})

	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_connect_attempts_total",
		Help: "Total number of connection attempts to the relay",
	}, []string{"result"})

	ReconnectsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_reconnects_scheduled_total",
		Help: "Total number of backoff-delayed reconnects scheduled",
	})

	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_registrations_total",
		Help: "Total number of registration acknowledgments received",
	})

	// Liveness metrics
	PingsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_pings_sent_total",
		Help: "Total number of liveness pings sent",
	})

	PongsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_pongs_received_total",
		Help: "Total number of liveness pongs received",
	})

	StaleConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_stale_connections_total",
		Help: "Total number of connections torn down after a liveness timeout",
	})

	// Traffic metrics
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_bytes_received_total",
		Help: "Total bytes received from the relay",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_bytes_sent_total",
		Help: "Total bytes sent to the relay",
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_decode_failures_total",
		Help: "Total number of inbound frames dropped because they could not be decoded",
	})

	// Request metrics
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_requests_total",
		Help: "Total number of relayed requests by response status",
	}, []string{"method", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tunnelproxy_request_duration_seconds",
		Help:    "Local call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunnelproxy_requests_in_flight",
		Help: "Current number of relayed requests being processed",
	})

	// System metrics
	PanicTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunnelproxy_panic_total",
		Help: "Total number of panics recovered",
	})
)

// SetConnectionState marks state as current and clears every other known state.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		if s == state {
			ConnectionState.WithLabelValues(s).Set(1)
		} else {
			ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}

// Server exposes the default registry on /metrics.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Metrics endpoint listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
