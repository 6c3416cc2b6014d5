package recovery

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tunnelproxy/internal/client/metrics"
)

const maxRecentPanics = 100

type PanicMetrics struct {
	totalPanics  uint64
	recentPanics []PanicRecord
	mu           sync.Mutex
	logger       *zap.Logger
}

type PanicRecord struct {
	Location  string
	Timestamp time.Time
	Value     interface{}
	Stack     string
}

func NewPanicMetrics(logger *zap.Logger) *PanicMetrics {
	return &PanicMetrics{
		recentPanics: make([]PanicRecord, 0, maxRecentPanics),
		logger:       logger,
	}
}

func (pm *PanicMetrics) RecordPanic(location string, panicValue interface{}) {
	atomic.AddUint64(&pm.totalPanics, 1)
	metrics.PanicTotal.Inc()

	record := PanicRecord{
		Location:  location,
		Timestamp: time.Now(),
		Value:     panicValue,
		Stack:     string(debug.Stack()),
	}

	pm.mu.Lock()
	pm.recentPanics = append(pm.recentPanics, record)
	if len(pm.recentPanics) > maxRecentPanics {
		pm.recentPanics = pm.recentPanics[1:]
	}
	pm.mu.Unlock()

	pm.logger.Error("Recovered from panic",
		zap.String("location", location),
		zap.String("value", fmt.Sprint(panicValue)),
		zap.String("stack", record.Stack),
	)
}

// Total returns the number of panics recorded.
func (pm *PanicMetrics) Total() uint64 {
	return atomic.LoadUint64(&pm.totalPanics)
}

// Recent returns a copy of the most recent panic records, oldest first.
func (pm *PanicMetrics) Recent() []PanicRecord {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]PanicRecord, len(pm.recentPanics))
	copy(out, pm.recentPanics)
	return out
}

// Recover must be deferred directly. It records a panic and then runs onPanic,
// which is how callers turn a crashed task into an ordinary failure.
func (pm *PanicMetrics) Recover(location string, onPanic func(v interface{})) {
	if r := recover(); r != nil {
		pm.RecordPanic(location, r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}
