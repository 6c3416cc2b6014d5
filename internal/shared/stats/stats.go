package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// TunnelStats counts traffic relayed through one tunnel session. It survives
// reconnects; only connectedAt moves with each new connection.
type TunnelStats struct {
	totalBytesIn  int64
	totalBytesOut int64

	totalRequests  int64
	failedRequests int64
	inFlight       int64

	reconnects int64

	mu          sync.Mutex
	connectedAt time.Time
	startTime   time.Time
}

func NewTunnelStats() *TunnelStats {
	return &TunnelStats{startTime: time.Now()}
}

func (s *TunnelStats) AddBytesIn(n int64) {
	atomic.AddInt64(&s.totalBytesIn, n)
}

func (s *TunnelStats) AddBytesOut(n int64) {
	atomic.AddInt64(&s.totalBytesOut, n)
}

// BeginRequest marks a relayed request as in flight.
func (s *TunnelStats) BeginRequest() {
	atomic.AddInt64(&s.totalRequests, 1)
	atomic.AddInt64(&s.inFlight, 1)
}

// EndRequest marks a relayed request as answered. failed counts synthetic error responses.
func (s *TunnelStats) EndRequest(failed bool) {
	if failed {
		atomic.AddInt64(&s.failedRequests, 1)
	}
	for {
		old := atomic.LoadInt64(&s.inFlight)
		if old <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&s.inFlight, old, old-1) {
			return
		}
	}
}

func (s *TunnelStats) AddReconnect() {
	atomic.AddInt64(&s.reconnects, 1)
}

// MarkConnected records the time the current connection was established.
func (s *TunnelStats) MarkConnected(t time.Time) {
	s.mu.Lock()
	s.connectedAt = t
	s.mu.Unlock()
}

func (s *TunnelStats) GetInFlight() int64 {
	return atomic.LoadInt64(&s.inFlight)
}

func (s *TunnelStats) GetTotalRequests() int64 {
	return atomic.LoadInt64(&s.totalRequests)
}

type Snapshot struct {
	TotalBytesIn   int64
	TotalBytesOut  int64
	TotalRequests  int64
	FailedRequests int64
	InFlight       int64
	Reconnects     int64
	ConnectedAt    time.Time
	Uptime         time.Duration
}

func (s *TunnelStats) GetSnapshot() Snapshot {
	s.mu.Lock()
	connectedAt := s.connectedAt
	s.mu.Unlock()

	return Snapshot{
		TotalBytesIn:   atomic.LoadInt64(&s.totalBytesIn),
		TotalBytesOut:  atomic.LoadInt64(&s.totalBytesOut),
		TotalRequests:  atomic.LoadInt64(&s.totalRequests),
		FailedRequests: atomic.LoadInt64(&s.failedRequests),
		InFlight:       atomic.LoadInt64(&s.inFlight),
		Reconnects:     atomic.LoadInt64(&s.reconnects),
		ConnectedAt:    connectedAt,
		Uptime:         time.Since(s.startTime),
	}
}
