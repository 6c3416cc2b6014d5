package recovery

import (
	"testing"

	"go.uber.org/zap"
)

func TestRecoverConvertsPanic(t *testing.T) {
	pm := NewPanicMetrics(zap.NewNop())

	var got interface{}
	func() {
		defer pm.Recover("test", func(v interface{}) { got = v })
		panic("boom")
	}()

	if got != "boom" {
		t.Fatalf("onPanic value = %v, want boom", got)
	}
	if pm.Total() != 1 {
		t.Errorf("Total() = %d, want 1", pm.Total())
	}
	recent := pm.Recent()
	if len(recent) != 1 || recent[0].Location != "test" {
		t.Errorf("Recent() = %+v, want one record at location test", recent)
	}
}

func TestRecoverNoPanic(t *testing.T) {
	pm := NewPanicMetrics(zap.NewNop())

	called := false
	func() {
		defer pm.Recover("test", func(interface{}) { called = true })
	}()

	if called {
		t.Error("onPanic must not run without a panic")
	}
	if pm.Total() != 0 {
		t.Errorf("Total() = %d, want 0", pm.Total())
	}
}

func TestRecentIsBounded(t *testing.T) {
	pm := NewPanicMetrics(zap.NewNop())
	for i := 0; i < maxRecentPanics+5; i++ {
		pm.RecordPanic("loop", i)
	}
	if n := len(pm.Recent()); n != maxRecentPanics {
		t.Errorf("len(Recent()) = %d, want %d", n, maxRecentPanics)
	}
}
