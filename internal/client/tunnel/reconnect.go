package tunnel

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// ReconnectState tracks consecutive failed or aborted connection attempts.
// The delay for the Nth consecutive failure is min(base*2^N, max).
type ReconnectState struct {
	mu          sync.Mutex
	attempts    int
	maxAttempts int
	backoff     *backoff.Backoff
}

func NewReconnectState(base, maxDelay time.Duration, maxAttempts int) *ReconnectState {
	return &ReconnectState{
		maxAttempts: maxAttempts,
		backoff: &backoff.Backoff{
			Min:    base,
			Max:    maxDelay,
			Factor: 2,
			Jitter: false,
		},
	}
}

// Next records one more failure. ok is false once the budget is spent, in
// which case no delay applies and the counter is left unchanged.
func (r *ReconnectState) Next() (attempt int, delay time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts >= r.maxAttempts {
		return r.attempts, 0, false
	}
	r.attempts++
	return r.attempts, r.backoff.ForAttempt(float64(r.attempts)), true
}

// Reset clears the counter after a successful connection or registration.
func (r *ReconnectState) Reset() {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()
}

func (r *ReconnectState) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *ReconnectState) MaxAttempts() int {
	return r.maxAttempts
}
