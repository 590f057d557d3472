// Package timing learns per-platform audience profiles from engagement history
// and recommends publishing times.
package timing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/metrics"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/storage"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
	"gonum.org/v1/gonum/stat"
)

// Config configures the timing engine.
type Config struct {
	// MinSamples is the history needed before recommendations use data.
	MinSamples int `json:"min_samples" yaml:"min_samples"`
	// PeakWindow is how many recent records are inspected for peak hour promotion.
	PeakWindow int `json:"peak_window" yaml:"peak_window"`
	// PeakTriggerRate is the engagement rate that triggers a peak hour check.
	PeakTriggerRate float64 `json:"peak_trigger_rate" yaml:"peak_trigger_rate"`
	// PeakMeanRate is the mean rate an hour needs to become a peak hour.
	PeakMeanRate float64 `json:"peak_mean_rate" yaml:"peak_mean_rate"`
	// PeakMinSamples is the sample count an hour needs to become a peak hour.
	PeakMinSamples int `json:"peak_min_samples" yaml:"peak_min_samples"`
	// MinuteJitter spreads recommended times across the hour.
	MinuteJitter bool `json:"minute_jitter" yaml:"minute_jitter"`
	// HistoryRetention bounds how much history is kept and replayed on Load.
	HistoryRetention time.Duration `json:"history_retention" yaml:"history_retention"`
	// Location is the timezone hours and weekdays are evaluated in.
	Location *time.Location `json:"-" yaml:"-"`
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinSamples:       5,
		PeakWindow:       100,
		PeakTriggerRate:  0.15,
		PeakMeanRate:     0.12,
		PeakMinSamples:   3,
		MinuteJitter:     true,
		HistoryRetention: 90 * 24 * time.Hour,
		Location:         time.UTC,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for "now".
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithABTestStore persists registered A/B tests.
func WithABTestStore(s storage.ABTestStore) Option {
	return func(e *Engine) {
		e.abStore = s
	}
}

// Engine is the timing optimization engine. Reads take the read lock so
// recommendations can be served while records are ingested.
type Engine struct {
	mu       sync.RWMutex
	profiles map[models.Platform]*models.AudienceProfile
	history  []*models.EngagementData
	abTests  map[string]*models.ABTest

	store   storage.EngagementStore
	abStore storage.ABTestStore
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  Config
}

// NewEngine creates an engine seeded with the default profiles. store may be nil,
// in which case history only lives in memory.
func NewEngine(store storage.EngagementStore, logger zerolog.Logger, cfg Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaults.MinSamples
	}
	if cfg.PeakWindow <= 0 {
		cfg.PeakWindow = defaults.PeakWindow
	}
	if cfg.PeakMinSamples <= 0 {
		cfg.PeakMinSamples = defaults.PeakMinSamples
	}
	if cfg.PeakTriggerRate <= 0 {
		cfg.PeakTriggerRate = defaults.PeakTriggerRate
	}
	if cfg.PeakMeanRate <= 0 {
		cfg.PeakMeanRate = defaults.PeakMeanRate
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = defaults.HistoryRetention
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	e := &Engine{
		profiles: DefaultProfiles(),
		abTests:  make(map[string]*models.ABTest),
		store:    store,
		clock:    clock.New(),
		logger:   logger.With().Str("component", "timing").Logger(),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replays the retained engagement history and registered A/B tests from the stores.
// Records older than the retention window are pruned first.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	cutoff := e.clock.Now().Add(-e.config.HistoryRetention)
	if pruned, err := e.store.PruneEngagement(cutoff); err != nil {
		return fmt.Errorf("failed to prune engagement history: %w", err)
	} else if pruned > 0 {
		e.logger.Info().Int("pruned", pruned).Msg("Pruned expired engagement history")
	}

	records, err := e.store.ListEngagement(cutoff)
	if err != nil {
		return fmt.Errorf("failed to load engagement history: %w", err)
	}

	e.mu.Lock()
	for _, data := range records {
		if ctx.Err() != nil {
			e.mu.Unlock()
			return ctx.Err()
		}
		e.apply(data)
	}
	e.mu.Unlock()

	var tests []*models.ABTest
	if e.abStore != nil {
		tests, err = e.abStore.ListABTests()
		if err != nil {
			return fmt.Errorf("failed to load ab tests: %w", err)
		}
		e.mu.Lock()
		for _, test := range tests {
			e.abTests[test.ID] = test
		}
		e.mu.Unlock()
	}

	e.logger.Info().
		Int("records", len(records)).
		Int("ab_tests", len(tests)).
		Msg("Loaded engagement history")
	return nil
}

// Record ingests one engagement observation, persists it and updates the platform profile.
func (e *Engine) Record(data models.EngagementData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = e.clock.Now()
	}

	if e.store != nil {
		if err := e.store.AppendEngagement(&data); err != nil {
			return fmt.Errorf("failed to persist engagement: %w", err)
		}
	}

	e.mu.Lock()
	e.apply(&data)
	e.mu.Unlock()

	e.metrics.RecordEngagement(string(data.Platform))
	e.logger.Debug().
		Str("platform", string(data.Platform)).
		Str("content_type", string(data.ContentType)).
		Float64("engagement_rate", data.EngagementRate).
		Msg("Recorded engagement")
	return nil
}

// apply appends a record and updates its profile. Caller must hold the write lock.
func (e *Engine) apply(data *models.EngagementData) {
	record := *data
	e.history = append(e.history, &record)

	profile, ok := e.profiles[record.Platform]
	if !ok {
		return
	}

	hour := e.hourOf(record.Timestamp)
	if record.EngagementRate > e.config.PeakTriggerRate && !profile.IsPeakHour(hour) {
		e.maybePromotePeak(profile, hour)
	}

	key := string(record.ContentType)
	if key == "" {
		return
	}
	current, seen := profile.ContentPreferences[key]
	if !seen {
		current = 0.5
	}
	profile.ContentPreferences[key] = updatePreference(current, record.EngagementRate)
}

// maybePromotePeak adds hour to the profile's peak hours when the platform's
// last PeakWindow records show consistently strong engagement at that hour.
// Records from other platforms do not count toward the window.
func (e *Engine) maybePromotePeak(profile *models.AudienceProfile, hour int) {
	var rates []float64
	seen := 0
	for i := len(e.history) - 1; i >= 0 && seen < e.config.PeakWindow; i-- {
		d := e.history[i]
		if d.Platform != profile.Platform {
			continue
		}
		seen++
		if e.hourOf(d.Timestamp) == hour {
			rates = append(rates, d.EngagementRate)
		}
	}
	if len(rates) < e.config.PeakMinSamples {
		return
	}
	if stat.Mean(rates, nil) <= e.config.PeakMeanRate {
		return
	}

	profile.PeakActivityHours = append(profile.PeakActivityHours, hour)
	sort.Ints(profile.PeakActivityHours)
	e.logger.Info().
		Str("platform", string(profile.Platform)).
		Int("hour", hour).
		Msg("Promoted peak activity hour")
}

// updatePreference is the exponential moving average applied to content preferences.
func updatePreference(current, rate float64) float64 {
	next := 0.9*current + 0.1*min(1.0, rate*10)
	return max(0.1, min(1.0, next))
}

// Prune drops history older than the retention window from memory and the store.
func (e *Engine) Prune() (int, error) {
	cutoff := e.clock.Now().Add(-e.config.HistoryRetention)

	e.mu.Lock()
	kept := make([]*models.EngagementData, 0, len(e.history))
	for _, d := range e.history {
		if !d.Timestamp.Before(cutoff) {
			kept = append(kept, d)
		}
	}
	removed := len(e.history) - len(kept)
	e.history = kept
	e.mu.Unlock()

	if e.store != nil {
		if _, err := e.store.PruneEngagement(cutoff); err != nil {
			return removed, fmt.Errorf("failed to prune engagement store: %w", err)
		}
	}
	return removed, nil
}

// Profile returns a copy of a platform's audience profile.
func (e *Engine) Profile(platform models.Platform) (*models.AudienceProfile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	profile, ok := e.profiles[platform]
	if !ok {
		return nil, false
	}
	return profile.Clone(), true
}

// Profiles returns copies of every audience profile.
func (e *Engine) Profiles() map[models.Platform]*models.AudienceProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[models.Platform]*models.AudienceProfile, len(e.profiles))
	for platform, profile := range e.profiles {
		out[platform] = profile.Clone()
	}
	return out
}

// HistorySize returns the number of retained observations.
func (e *Engine) HistorySize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.history)
}

// Export is a snapshot of everything the engine has learned.
type Export struct {
	EngagementHistory []models.EngagementData                     `json:"engagement_history"`
	AudienceProfiles  map[models.Platform]*models.AudienceProfile `json:"audience_profiles"`
	ABTests           []*models.ABTest                            `json:"ab_tests"`
	ExportedAt        time.Time                                   `json:"exported_at"`
}

// Export returns a snapshot of history, profiles and A/B tests.
func (e *Engine) Export() *Export {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &Export{
		EngagementHistory: make([]models.EngagementData, len(e.history)),
		AudienceProfiles:  make(map[models.Platform]*models.AudienceProfile, len(e.profiles)),
		ABTests:           e.sortedABTests(),
		ExportedAt:        e.clock.Now(),
	}
	for i, d := range e.history {
		out.EngagementHistory[i] = *d
	}
	for platform, profile := range e.profiles {
		out.AudienceProfiles[platform] = profile.Clone()
	}
	return out
}

func (e *Engine) hourOf(t time.Time) int {
	return t.In(e.config.Location).Hour()
}
