package hal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned without contacting HAL while it is considered down.
var ErrCircuitOpen = errors.New("hal circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Rejecting calls
	BreakerHalfOpen                     // Testing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// BreakerConfig tunes a Breaker. Zero fields take the defaults.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit opens.
	// Default: 5
	Threshold int
	// Cooldown is how long the circuit stays open before a trial call.
	// Default: 15s
	Cooldown time.Duration
	// SuccessThreshold is the number of consecutive half-open successes that
	// close the circuit.
	// Default: 1
	SuccessThreshold int
}

// Breaker fails HAL calls fast once HAL has failed Threshold times in a row.
// All methods are safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	nowFunc     func() time.Time // injectable for testing
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if b.nowFunc().Sub(b.lastFailure) <= b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailureLocked()
	} else {
		b.recordSuccessLocked()
	}
	return err
}

func (b *Breaker) recordFailureLocked() {
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.state = BreakerOpen
			b.lastFailure = b.nowFunc()
			log.Warn().Str("breaker", b.name).Int("failures", b.failures).Msg("Circuit opened")
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.lastFailure = b.nowFunc()
		b.successes = 0
	}
}

func (b *Breaker) recordSuccessLocked() {
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
			log.Info().Str("breaker", b.name).Msg("Circuit closed")
		}
	}
}

// State returns the current state, moving an expired open circuit to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFunc().Sub(b.lastFailure) > b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return b.state
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
}
