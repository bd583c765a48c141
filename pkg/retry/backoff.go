// Package retry provides the exponential-backoff-with-jitter calculator
// used by the lifecycle manager's deploy/stop retries (via
// DelayForAttempt).
package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Default backoff parameters for command retries (§4.6 "retry").
const (
	DefaultInitial    = 1 * time.Second
	DefaultMax        = 60 * time.Second
	DefaultMultiplier = 2.0
	DefaultJitter     = 0.25
)

// Backoff computes exponential delays with jitter and advances on each
// call to Next, mirroring the device-reconnect backoff used for command
// redelivery.
type Backoff struct {
	mu sync.Mutex

	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int
	rng      *rand.Rand
}

// Config customizes a Backoff's parameters. A zero Initial or Max, and a
// Multiplier of at most 1, fall back to the package defaults; a zero
// Jitter means no jitter (DefaultJitter is not applied automatically).
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// New creates a Backoff with the default Initial, Max and Multiplier and
// no jitter.
func New() *Backoff {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a Backoff with custom parameters.
func NewWithConfig(cfg Config) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next jittered delay and advances the base delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns the backoff to its initial state.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// DelayForAttempt computes the backoff delay for the Nth attempt
// (1-indexed) functionally, for callers that persist their own attempt
// counters (e.g. the lifecycle manager's per-device Sub, §4.6) instead of
// holding a live Backoff instance across calls.
func DelayForAttempt(attempt int, cfg Config) time.Duration {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := cfg.Initial
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.Max {
			delay = cfg.Max
			break
		}
		delay = next
	}
	if cfg.Jitter > 0 {
		delay += time.Duration(float64(delay) * cfg.Jitter * rand.Float64())
	}
	return delay
}
