package tunnel

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tunnelproxy/internal/client/metrics"
	"tunnelproxy/internal/shared/constants"
)

// Prober is the part of a connection the liveness monitor drives.
type Prober interface {
	Ping(payload []byte) error
	Abort() error
}

// LivenessMonitor pings the connection on a fixed period and tears it down
// once no acknowledgment has arrived for longer than interval+timeout.
// A monitor serves exactly one connection.
type LivenessMonitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	payload  []byte
	logger   *zap.Logger

	now     func() time.Time
	onStale func(silence time.Duration)

	lastAck atomic.Int64

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewLivenessMonitor(prober Prober, interval, timeout time.Duration, logger *zap.Logger) *LivenessMonitor {
	m := &LivenessMonitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		payload:  []byte(constants.PingPayload),
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.lastAck.Store(m.now().UnixNano())
	return m
}

// Start refreshes the last acknowledgment to now and begins probing.
func (m *LivenessMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.stopped {
		return
	}
	m.running = true
	m.lastAck.Store(m.now().UnixNano())
	go m.loop()
}

// Ack records a received pong.
func (m *LivenessMonitor) Ack() {
	m.lastAck.Store(m.now().UnixNano())
	metrics.PongsReceived.Inc()
}

func (m *LivenessMonitor) LastAck() time.Time {
	return time.Unix(0, m.lastAck.Load())
}

// Stop halts probing and returns once the probe goroutine has exited.
// It is safe to call more than once and from any goroutine.
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	running := m.running
	m.mu.Unlock()

	if running {
		<-m.doneCh
	}
}

func (m *LivenessMonitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		if !m.tick() {
			return
		}
	}
}

// tick runs one probe period. It returns false after tearing the connection down.
func (m *LivenessMonitor) tick() bool {
	silence := m.now().Sub(m.LastAck())
	if silence > m.interval+m.timeout {
		m.logger.Warn("Pong timeout, connection is stale",
			zap.Duration("silence", silence),
			zap.Duration("limit", m.interval+m.timeout),
		)
		metrics.StaleConnections.Inc()
		if m.onStale != nil {
			m.onStale(silence)
		}
		_ = m.prober.Abort()
		return false
	}

	if err := m.prober.Ping(m.payload); err != nil {
		m.logger.Debug("Failed to send ping", zap.Error(err))
		return true
	}
	metrics.PingsSent.Inc()
	return true
}
