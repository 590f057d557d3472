package timing

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/tracing"
	"gonum.org/v1/gonum/stat"
)

const (
	maxAlternatives = 3

	// Profile-derived estimate for hours without data, at half weight.
	baseHourScore  = 0.1
	peakBoost      = 1.5
	noDataWeight   = 0.5
	fullWeightAt   = 10.0
	highScoreBound = 0.15
	midScoreBound  = 0.10

	peakFactor     = 1.3
	offPeakFactor  = 0.8
	engagementBase = 0.15
	defaultPref    = 0.1
	fallbackRate   = 0.1
)

// hourStat is the observed engagement at one hour of day.
type hourStat struct {
	rates []float64
	mean  float64
	score float64
}

// GetOptimalSchedule recommends a publishing time for content on the target date.
// A zero target means one hour from now. The result is deterministic for fixed
// history, target and clock.
func (e *Engine) GetOptimalSchedule(ctx context.Context, platform models.Platform, contentType models.ContentType, target time.Time) (*models.ScheduleRecommendation, error) {
	platform = models.Platform(strings.ToLower(strings.TrimSpace(string(platform))))
	contentType = models.ContentType(strings.ToLower(strings.TrimSpace(string(contentType))))
	if platform == "" {
		return nil, models.NewValidationError("platform", "platform is required", nil)
	}

	_, span := tracing.StartRecommendationSpan(ctx, string(platform), string(contentType))
	defer span.End()

	loc := e.config.Location
	now := e.clock.Now().In(loc)
	if target.IsZero() {
		target = now.Add(time.Hour)
	}
	target = target.In(loc)

	e.mu.RLock()
	var profile *models.AudienceProfile
	if p, ok := e.profiles[platform]; ok {
		profile = p.Clone()
	}
	var relevant []*models.EngagementData
	for _, d := range e.history {
		if d.Platform == platform && d.ContentType == contentType {
			relevant = append(relevant, d)
		}
	}
	e.mu.RUnlock()

	var rec *models.ScheduleRecommendation
	if profile == nil || len(relevant) < e.config.MinSamples {
		rec = e.fallback(platform, contentType, target, now, len(relevant), profile == nil)
	} else {
		rec = e.recommend(platform, contentType, target, now, profile, relevant)
	}

	e.metrics.RecordRecommendation(string(platform), string(rec.Confidence))
	tracing.SetSpanOK(span)

	e.logger.Debug().
		Str("platform", string(platform)).
		Str("content_type", string(contentType)).
		Time("optimal_time", rec.OptimalTime).
		Str("confidence", string(rec.Confidence)).
		Float64("expected_engagement", rec.ExpectedEngagement).
		Msg("Computed optimal schedule")
	return rec, nil
}

func (e *Engine) recommend(platform models.Platform, contentType models.ContentType, target, now time.Time,
	profile *models.AudienceProfile, relevant []*models.EngagementData) *models.ScheduleRecommendation {
	stats := e.hourStats(relevant, profile)

	day := startOfDay(target)
	bestHour, bestScore, ok := bestFutureHour(day, now, stats, profile)
	if !ok {
		day = day.AddDate(0, 0, 1)
		bestHour, bestScore, _ = bestFutureHour(day, time.Time{}, stats, profile)
	}

	var confidence models.Confidence
	switch {
	case bestScore > highScoreBound && profile.IsPeakHour(bestHour):
		confidence = models.ConfidenceHigh
	case bestScore > midScoreBound:
		confidence = models.ConfidenceMedium
	default:
		confidence = models.ConfidenceLow
	}

	optimal := e.slot(platform, contentType, day, bestHour)

	return &models.ScheduleRecommendation{
		Platform:           platform,
		ContentType:        contentType,
		OptimalTime:        optimal,
		Confidence:         confidence,
		ExpectedEngagement: predictEngagement(optimal, contentType, profile),
		Reasoning:          reasoning(optimal, stats, profile, len(relevant)),
		Alternatives:       e.alternatives(platform, contentType, day, now, bestHour, stats, profile),
		SampleCount:        len(relevant),
	}
}

// hourStats scores every hour of day from the matching history.
func (e *Engine) hourStats(relevant []*models.EngagementData, profile *models.AudienceProfile) [24]hourStat {
	var stats [24]hourStat
	for _, d := range relevant {
		h := e.hourOf(d.Timestamp)
		stats[h].rates = append(stats[h].rates, d.EngagementRate)
	}

	for h := range stats {
		if n := len(stats[h].rates); n > 0 {
			stats[h].mean = stat.Mean(stats[h].rates, nil)
			stats[h].score = stats[h].mean * min(1.0, float64(n)/fullWeightAt)
			continue
		}
		score := baseHourScore
		if profile.IsPeakHour(h) {
			score *= peakBoost
		}
		stats[h].score = score * noDataWeight
	}
	return stats
}

// bestFutureHour picks the highest weekday-adjusted hour of day that is still after now.
// Ties resolve to the earliest hour. A zero now accepts every hour.
func bestFutureHour(day, now time.Time, stats [24]hourStat, profile *models.AudienceProfile) (int, float64, bool) {
	factor := profile.DayMultiplier(day.Weekday())
	best, bestScore, found := 0, 0.0, false
	for h := 0; h < 24; h++ {
		if !now.IsZero() && !atHour(day, h).After(now) {
			continue
		}
		score := stats[h].score * factor
		if !found || score > bestScore {
			best, bestScore, found = h, score, true
		}
	}
	return best, bestScore, found
}

func (e *Engine) alternatives(platform models.Platform, contentType models.ContentType, day, now time.Time,
	optimal int, stats [24]hourStat, profile *models.AudienceProfile) []models.Alternative {
	hours := make([]int, 0, 23)
	for h := 0; h < 24; h++ {
		if h != optimal {
			hours = append(hours, h)
		}
	}
	sort.SliceStable(hours, func(i, j int) bool {
		return stats[hours[i]].score > stats[hours[j]].score
	})

	alts := make([]models.Alternative, 0, maxAlternatives)
	for _, h := range hours[:maxAlternatives] {
		slotDay := day
		if !atHour(slotDay, h).After(now) {
			slotDay = slotDay.AddDate(0, 0, 1)
		}
		alts = append(alts, models.Alternative{
			Time:  e.slot(platform, contentType, slotDay, h),
			Score: stats[h].score * profile.DayMultiplier(slotDay.Weekday()),
		})
	}
	return alts
}

// fallback is the recommendation used without a profile or with too little history.
func (e *Engine) fallback(platform models.Platform, contentType models.ContentType, target, now time.Time,
	samples int, noProfile bool) *models.ScheduleRecommendation {
	hour := fallbackHour(platform)
	day := startOfDay(target)
	if !atHour(day, hour).After(now) {
		day = day.AddDate(0, 0, 1)
	}

	reasons := []string{"Using general best practices due to insufficient historical data"}
	if noProfile {
		reasons = append(reasons, fmt.Sprintf("No audience profile for %s yet", platform))
	} else {
		reasons = append(reasons, fmt.Sprintf("Only %d of %d required posts recorded", samples, e.config.MinSamples))
	}

	return &models.ScheduleRecommendation{
		Platform:           platform,
		ContentType:        contentType,
		OptimalTime:        e.slot(platform, contentType, day, hour),
		Confidence:         models.ConfidenceLow,
		ExpectedEngagement: fallbackRate,
		Reasoning:          reasons,
		Alternatives:       []models.Alternative{},
		SampleCount:        samples,
	}
}

// predictEngagement estimates the engagement rate of a post at t.
func predictEngagement(t time.Time, contentType models.ContentType, profile *models.AudienceProfile) float64 {
	pref, ok := profile.ContentPreferences[string(contentType)]
	if !ok {
		pref = defaultPref
	}
	timeFactor := offPeakFactor
	if profile.IsPeakHour(t.Hour()) {
		timeFactor = peakFactor
	}
	predicted := pref * timeFactor * profile.DayMultiplier(t.Weekday()) * engagementBase
	return max(0.01, min(0.5, predicted))
}

func reasoning(t time.Time, stats [24]hourStat, profile *models.AudienceProfile, samples int) []string {
	var reasons []string
	hour := t.Hour()

	if profile.IsPeakHour(hour) {
		reasons = append(reasons, fmt.Sprintf("Hour %d:00 is a peak activity time for your audience", hour))
	}

	day := t.Weekday().String()
	switch factor := profile.DayMultiplier(t.Weekday()); {
	case factor > 0.9:
		reasons = append(reasons, fmt.Sprintf("%ss typically show high engagement", day))
	case factor < 0.8:
		reasons = append(reasons, fmt.Sprintf("%ss show lower engagement, but this is the best available time", day))
	}

	if len(stats[hour].rates) > 0 {
		reasons = append(reasons, fmt.Sprintf("Historical posts at this hour averaged %.1f%% engagement", stats[hour].mean*100))
	}

	if samples > 20 {
		reasons = append(reasons, fmt.Sprintf("Recommendation based on %d historical posts", samples))
	} else {
		reasons = append(reasons, fmt.Sprintf("Limited data available (%d posts), recommendation uses platform averages", samples))
	}
	return reasons
}

// slot places a recommendation inside its hour. With jitter enabled the minute is
// derived from a hash of the inputs so repeated calls agree.
func (e *Engine) slot(platform models.Platform, contentType models.ContentType, day time.Time, hour int) time.Time {
	t := atHour(day, hour)
	if !e.config.MinuteJitter {
		return t
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s|%d", platform, contentType, day.Format("2006-01-02"), hour)
	return t.Add(time.Duration(h.Sum32()%60) * time.Minute)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func atHour(day time.Time, hour int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, day.Location())
}
