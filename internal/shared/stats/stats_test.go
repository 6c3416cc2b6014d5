package stats

import (
	"sync"
	"testing"
	"time"
)

func TestTunnelStatsRequests(t *testing.T) {
	s := NewTunnelStats()

	s.BeginRequest()
	s.BeginRequest()
	s.EndRequest(false)
	s.EndRequest(true)
	s.EndRequest(false) // extra end must not go negative

	snap := s.GetSnapshot()
	if snap.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", snap.TotalRequests)
	}
	if snap.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snap.FailedRequests)
	}
	if snap.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", snap.InFlight)
	}
}

func TestTunnelStatsConcurrent(t *testing.T) {
	s := NewTunnelStats()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.BeginRequest()
			s.AddBytesIn(10)
			s.AddBytesOut(20)
			s.EndRequest(false)
		}()
	}
	wg.Wait()

	snap := s.GetSnapshot()
	if snap.TotalBytesIn != 500 || snap.TotalBytesOut != 1000 {
		t.Errorf("bytes = %d/%d, want 500/1000", snap.TotalBytesIn, snap.TotalBytesOut)
	}
	if snap.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", snap.InFlight)
	}
}

func TestTunnelStatsConnectedAt(t *testing.T) {
	s := NewTunnelStats()
	if !s.GetSnapshot().ConnectedAt.IsZero() {
		t.Fatal("ConnectedAt should be zero before the first connection")
	}

	now := time.Now()
	s.MarkConnected(now)
	s.AddReconnect()

	snap := s.GetSnapshot()
	if !snap.ConnectedAt.Equal(now) {
		t.Errorf("ConnectedAt = %v, want %v", snap.ConnectedAt, now)
	}
	if snap.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", snap.Reconnects)
	}
}
