package publish

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// ErrCircuitOpen is returned while a platform's breaker rejects deliveries.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows deliveries through.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks all deliveries.
	CircuitOpen
	// CircuitHalfOpen lets a trial delivery through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before a trial delivery is allowed.
	OpenTimeout time.Duration
	// MaxHalfOpen bounds concurrent trial deliveries.
	MaxHalfOpen int
	// OnStateChange runs with the breaker lock held and must not call back into it.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxHalfOpen:      1,
	}
}

// Breaker guards deliveries to one platform.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	name   string
	clock  clock.Clock

	state     CircuitState
	failures  int
	successes int
	halfOpen  int
	openedAt  time.Time
	opens     int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig, clk clock.Clock) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.MaxHalfOpen <= 0 {
		config.MaxHalfOpen = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{config: config, name: name, clock: clk}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current must be called with the lock held.
func (b *Breaker) current() CircuitState {
	if b.state == CircuitOpen && b.clock.Since(b.openedAt) >= b.config.OpenTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Allow reports whether a delivery may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch state := b.current(); state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if b.state == CircuitOpen {
			b.transition(CircuitOpen, CircuitHalfOpen)
		}
		if b.halfOpen < b.config.MaxHalfOpen {
			b.halfOpen++
			return true
		}
	}
	return false
}

// RecordSuccess records a successful delivery.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch state := b.current(); state {
	case CircuitHalfOpen:
		b.successes++
		if b.halfOpen > 0 {
			b.halfOpen--
		}
		if b.successes >= b.config.SuccessThreshold {
			b.transition(state, CircuitClosed)
		}
	case CircuitClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed delivery.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch state := b.current(); state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(state, CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transition(state, CircuitOpen)
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(from, to CircuitState) {
	b.state = to
	b.failures = 0
	b.successes = 0
	b.halfOpen = 0
	if to == CircuitOpen {
		b.openedAt = b.clock.Now()
		b.opens++
	}
	if b.config.OnStateChange != nil && from != to {
		b.config.OnStateChange(b.name, from, to)
	}
}

// BreakerStats is a snapshot of one breaker.
type BreakerStats struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
	Opens    int64     `json:"opens"`
}

// Stats returns a snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:    b.current().String(),
		Failures: b.failures,
		OpenedAt: b.openedAt,
		Opens:    b.opens,
	}
}

// breakerSet lazily creates one breaker per key.
type breakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
	clock    clock.Clock
}

func newBreakerSet(config BreakerConfig, clk clock.Clock) *breakerSet {
	return &breakerSet{breakers: make(map[string]*Breaker), config: config, clock: clk}
}

func (s *breakerSet) get(key string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[key]; ok {
		return b
	}
	b = NewBreaker(key, s.config, s.clock)
	s.breakers[key] = b
	return b
}

// open lists keys whose breaker currently rejects deliveries, sorted.
func (s *breakerSet) open() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, b := range s.breakers {
		if b.State() == CircuitOpen {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *breakerSet) stats() map[string]BreakerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]BreakerStats, len(s.breakers))
	for key, b := range s.breakers {
		out[key] = b.Stats()
	}
	return out
}
