package clock

import (
	"sync"
	"time"
)

// MockClock is a manually advanced Clock for tests.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
	tickers []*mockTicker
}

// NewMock returns a MockClock set to t.
func NewMock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock's current time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the mock time elapsed since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps the clock to t, firing any tickers that became due.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fire()
}

// Add advances the clock by d, firing any tickers that became due.
func (c *MockClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fire()
}

// fire must be called with mu held. Ticks are dropped when the consumer lags, like time.Ticker.
func (c *MockClock) fire() {
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		for !c.current.Before(t.next) {
			select {
			case t.ch <- c.current:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
}

// NewTicker returns a ticker that fires as the mock clock advances.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.current.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

type mockTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() { t.stopped = true }
