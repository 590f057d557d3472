package timing

import (
	"sort"
	"strings"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultAnalyticsDays = 30
	bestHoursLimit       = 5
)

// GetAnalytics aggregates engagement over the trailing window. An empty platform
// covers every platform. Returns ErrNoAnalyticsData when the window is empty.
func (e *Engine) GetAnalytics(platform models.Platform, days int) (*models.AnalyticsReport, error) {
	if days <= 0 {
		days = defaultAnalyticsDays
	}
	platform = models.Platform(strings.ToLower(strings.TrimSpace(string(platform))))

	now := e.clock.Now()
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	e.mu.RLock()
	var window []models.EngagementData
	for _, d := range e.history {
		if d.Timestamp.Before(cutoff) {
			continue
		}
		if platform != "" && d.Platform != platform {
			continue
		}
		window = append(window, *d)
	}
	e.mu.RUnlock()

	if len(window) == 0 {
		return nil, models.ErrNoAnalyticsData
	}

	var (
		all       = make([]float64, 0, len(window))
		byHour    [24][]float64
		byDay     [7][]float64
		byContent = make(map[models.ContentType][]float64)
		revenue   = make(map[models.ContentType]float64)
		platforms = make(map[models.Platform]int)
		total     float64
	)
	for _, d := range window {
		local := d.Timestamp.In(e.config.Location)
		all = append(all, d.EngagementRate)
		byHour[local.Hour()] = append(byHour[local.Hour()], d.EngagementRate)
		byDay[local.Weekday()] = append(byDay[local.Weekday()], d.EngagementRate)
		byContent[d.ContentType] = append(byContent[d.ContentType], d.EngagementRate)
		revenue[d.ContentType] += d.RevenueImpact
		platforms[d.Platform]++
		total += d.RevenueImpact
	}

	report := &models.AnalyticsReport{
		Platform:           "all",
		PeriodDays:         days,
		TotalPosts:         len(window),
		AverageEngagement:  stat.Mean(all, nil),
		TotalRevenue:       total,
		ContentPerformance: make(map[models.ContentType]models.ContentPerformance, len(byContent)),
		PlatformBreakdown:  platforms,
		GeneratedAt:        now,
	}
	if platform != "" {
		report.Platform = string(platform)
	}

	for h, rates := range byHour {
		if len(rates) == 0 {
			continue
		}
		report.BestHours = append(report.BestHours, models.HourScore{
			Hour:       h,
			Engagement: stat.Mean(rates, nil),
			Samples:    len(rates),
		})
	}
	sort.SliceStable(report.BestHours, func(i, j int) bool {
		return report.BestHours[i].Engagement > report.BestHours[j].Engagement
	})
	if len(report.BestHours) > bestHoursLimit {
		report.BestHours = report.BestHours[:bestHoursLimit]
	}

	for d, rates := range byDay {
		if len(rates) == 0 {
			continue
		}
		report.BestDays = append(report.BestDays, models.DayScore{
			Day:        time.Weekday(d).String(),
			Engagement: stat.Mean(rates, nil),
			Samples:    len(rates),
		})
	}
	sort.SliceStable(report.BestDays, func(i, j int) bool {
		return report.BestDays[i].Engagement > report.BestDays[j].Engagement
	})

	for ct, rates := range byContent {
		report.ContentPerformance[ct] = models.ContentPerformance{
			AverageEngagement: stat.Mean(rates, nil),
			Posts:             len(rates),
			TotalRevenue:      revenue[ct],
		}
	}

	return report, nil
}
