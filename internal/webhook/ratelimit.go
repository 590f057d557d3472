package webhook

import (
	"sort"
	"sync"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// SlidingWindowLimiter counts requests per key over a trailing window. Rejected
// requests are not counted.
type SlidingWindowLimiter struct {
	window time.Duration
	clock  clock.Clock

	mu   sync.Mutex
	hits map[string][]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSlidingWindowLimiter creates a limiter over the given window.
func NewSlidingWindowLimiter(window time.Duration, clk clock.Clock) *SlidingWindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SlidingWindowLimiter{
		window: window,
		clock:  clk,
		hits:   make(map[string][]time.Time),
		stopCh: make(chan struct{}),
	}
}

// Allow records a request for key unless limit requests already fall inside the window.
func (l *SlidingWindowLimiter) Allow(key string, limit int) error {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.hits[key], cutoff)
	if len(recent) >= limit {
		l.hits[key] = recent
		return &models.RateLimitError{
			Key:        key,
			Limit:      limit,
			RetryAfter: recent[0].Add(l.window).Sub(now),
		}
	}
	l.hits[key] = append(recent, now)
	return nil
}

// prune drops timestamps at or before cutoff. Timestamps are appended in order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(hits), func(i int) bool { return hits[i].After(cutoff) })
	return hits[i:]
}

// Counts returns the number of requests inside the window per key.
func (l *SlidingWindowLimiter) Counts() map[string]int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int, len(l.hits))
	for key, hits := range l.hits {
		if n := len(prune(hits, cutoff)); n > 0 {
			counts[key] = n
		}
	}
	return counts
}

// sweep removes keys whose requests have all left the window.
func (l *SlidingWindowLimiter) sweep() int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, hits := range l.hits {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(l.hits, key)
			removed++
			continue
		}
		l.hits[key] = hits
	}
	return removed
}

// StartCleanup sweeps idle keys every interval until Stop.
func (l *SlidingWindowLimiter) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := l.clock.NewTicker(interval)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C():
				l.sweep()
			}
		}
	}()
}

// Stop stops the cleanup goroutine.
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}
