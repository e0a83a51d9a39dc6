package stream

import "time"

// Backoff computes retry delays for reconnect attempts: the Nth retry waits
// min(Base * 2^N, Cap). The counter resets to zero on every successful
// open, so a healthy connection always reconnects quickly after its first
// drop.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
}

// DefaultBase and DefaultCap are the stock backoff constants.
const (
	DefaultBase = 1 * time.Second
	DefaultCap  = 10 * time.Second
)

// NewBackoff creates a backoff with the given base and cap. Zero values
// fall back to the defaults.
func NewBackoff(base, cap time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBase
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Backoff{Base: base, Cap: cap}
}

// Next returns the delay before the next retry and advances the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Base
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			delay = b.Cap
			break
		}
	}
	b.attempt++
	return delay
}

// Reset zeroes the retry counter. Called on every successful open.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of retries scheduled since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
