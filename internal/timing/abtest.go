package timing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

const defaultABTestDays = 7

// RunABTest registers a timing experiment and returns its id. Only the metadata
// is kept; outcomes are not evaluated.
func (e *Engine) RunABTest(platform models.Platform, contentType models.ContentType, candidates []time.Time, durationDays int) (string, error) {
	platform = models.Platform(strings.ToLower(strings.TrimSpace(string(platform))))
	contentType = models.ContentType(strings.ToLower(strings.TrimSpace(string(contentType))))
	if platform == "" {
		return "", models.NewValidationError("platform", "platform is required", nil)
	}
	if len(candidates) < 2 {
		return "", models.NewValidationError("candidate_times", "at least two candidate times are required", nil)
	}
	if durationDays <= 0 {
		durationDays = defaultABTestDays
	}

	now := e.clock.Now()
	test := &models.ABTest{
		ID:             fmt.Sprintf("ab_test_%s_%s_%d", platform, contentType, now.UnixNano()),
		Platform:       platform,
		ContentType:    contentType,
		CandidateTimes: append([]time.Time(nil), candidates...),
		DurationDays:   durationDays,
		StartDate:      now,
		EndDate:        now.AddDate(0, 0, durationDays),
		Status:         "running",
	}

	if e.abStore != nil {
		if err := e.abStore.SaveABTest(test); err != nil {
			return "", fmt.Errorf("failed to persist ab test: %w", err)
		}
	}

	e.mu.Lock()
	e.abTests[test.ID] = test
	e.mu.Unlock()

	e.logger.Info().
		Str("test_id", test.ID).
		Int("candidates", len(candidates)).
		Int("duration_days", durationDays).
		Msg("Registered A/B test")
	return test.ID, nil
}

// ABTest returns a registered test by id.
func (e *Engine) ABTest(id string) (*models.ABTest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	test, ok := e.abTests[id]
	if !ok {
		return nil, models.ErrABTestNotFound
	}
	c := *test
	c.CandidateTimes = append([]time.Time(nil), test.CandidateTimes...)
	return &c, nil
}

// ABTests returns all registered tests ordered by start date.
func (e *Engine) ABTests() []*models.ABTest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedABTests()
}

// sortedABTests copies the registered tests. Caller must hold the lock.
func (e *Engine) sortedABTests() []*models.ABTest {
	out := make([]*models.ABTest, 0, len(e.abTests))
	for _, test := range e.abTests {
		c := *test
		c.CandidateTimes = append([]time.Time(nil), test.CandidateTimes...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}
