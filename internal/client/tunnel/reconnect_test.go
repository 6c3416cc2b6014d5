package tunnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectStateDelays(t *testing.T) {
	r := NewReconnectState(time.Second, 30*time.Second, 10)

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	for i, w := range want {
		attempt, delay, ok := r.Next()
		assert.True(t, ok, "attempt %d should be allowed", i+1)
		assert.Equal(t, i+1, attempt)
		assert.Equal(t, w, delay, "delay for attempt %d", i+1)
	}

	attempt, delay, ok := r.Next()
	assert.False(t, ok, "11th failure must exhaust the budget")
	assert.Equal(t, 10, attempt)
	assert.Zero(t, delay)
	assert.Equal(t, 10, r.Attempts())
}

func TestReconnectStateReset(t *testing.T) {
	r := NewReconnectState(time.Second, 30*time.Second, 10)
	for i := 0; i < 4; i++ {
		r.Next()
	}
	assert.Equal(t, 4, r.Attempts())

	r.Reset()
	assert.Equal(t, 0, r.Attempts())

	attempt, delay, ok := r.Next()
	assert.True(t, ok)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, 2*time.Second, delay)
}

func TestReconnectStateZeroBudget(t *testing.T) {
	r := NewReconnectState(time.Second, 30*time.Second, 0)
	_, _, ok := r.Next()
	assert.False(t, ok)
}
