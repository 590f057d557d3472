package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a publishing destination.
type Platform string

const (
	PlatformFanvue    Platform = "fanvue"
	PlatformLoyalfans Platform = "loyalfans"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
)

// ContentType categorises published content.
type ContentType string

const (
	ContentLifestyle   ContentType = "lifestyle"
	ContentFashion     ContentType = "fashion"
	ContentFitness     ContentType = "fitness"
	ContentArtistic    ContentType = "artistic"
	ContentPremium     ContentType = "premium"
	ContentPromotional ContentType = "promotional"
)

// EngagementData is one observed post outcome. Records are append-only.
type EngagementData struct {
	Timestamp      time.Time   `json:"timestamp"`
	Platform       Platform    `json:"platform"`
	ContentType    ContentType `json:"content_type"`
	PostID         string      `json:"post_id,omitempty"`
	EngagementRate float64     `json:"engagement_rate"`
	Views          int         `json:"views"`
	Likes          int         `json:"likes"`
	Comments       int         `json:"comments"`
	Shares         int         `json:"shares"`
	RevenueImpact  float64     `json:"revenue_impact"`
}

// Validate normalises platform and content type and checks the rate bounds.
func (e *EngagementData) Validate() error {
	e.Platform = Platform(strings.ToLower(strings.TrimSpace(string(e.Platform))))
	e.ContentType = ContentType(strings.ToLower(strings.TrimSpace(string(e.ContentType))))
	if e.Platform == "" {
		return NewValidationError("platform", "platform is required", ErrInvalidEngagement)
	}
	if e.EngagementRate < 0 || e.EngagementRate > 1 {
		return NewValidationError("engagement_rate",
			fmt.Sprintf("%.4f outside [0, 1]", e.EngagementRate), ErrInvalidEngagement)
	}
	if e.Views < 0 || e.Likes < 0 || e.Comments < 0 || e.Shares < 0 {
		return NewValidationError("counts", "counts must not be negative", ErrInvalidEngagement)
	}
	return nil
}

// AudienceProfile is the learned model of when and what a platform's audience engages with.
type AudienceProfile struct {
	Platform           Platform           `json:"platform"`
	Timezone           string             `json:"timezone"`
	AgeGroups          map[string]float64 `json:"age_groups,omitempty"`
	PeakActivityHours  []int              `json:"peak_activity_hours"`
	EngagementPatterns map[string]float64 `json:"engagement_patterns"`
	ContentPreferences map[string]float64 `json:"content_preferences"`
}

// WeekdayKey is the EngagementPatterns key for a weekday, e.g. "monday".
func WeekdayKey(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// IsPeakHour reports whether hour is one of the profile's peak activity hours.
func (p *AudienceProfile) IsPeakHour(hour int) bool {
	for _, h := range p.PeakActivityHours {
		if h == hour {
			return true
		}
	}
	return false
}

// DayMultiplier returns the weekday factor, defaulting to 1.0 when unknown.
func (p *AudienceProfile) DayMultiplier(d time.Weekday) float64 {
	if v, ok := p.EngagementPatterns[WeekdayKey(d)]; ok {
		return v
	}
	return 1.0
}

// Clone returns a deep copy.
func (p *AudienceProfile) Clone() *AudienceProfile {
	c := *p
	c.AgeGroups = cloneFloats(p.AgeGroups)
	c.PeakActivityHours = append([]int(nil), p.PeakActivityHours...)
	c.EngagementPatterns = cloneFloats(p.EngagementPatterns)
	c.ContentPreferences = cloneFloats(p.ContentPreferences)
	return &c
}

func cloneFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Confidence grades a schedule recommendation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ScheduleRecommendation is the timing engine's answer for one (platform, content type, day).
type ScheduleRecommendation struct {
	Platform           Platform      `json:"platform"`
	ContentType        ContentType   `json:"content_type"`
	OptimalTime        time.Time     `json:"optimal_time"`
	Confidence         Confidence    `json:"confidence"`
	ExpectedEngagement float64       `json:"expected_engagement"`
	Reasoning          []string      `json:"reasoning"`
	Alternatives       []Alternative `json:"alternative_times"`
	SampleCount        int           `json:"sample_count"`
}

// Alternative is a runner-up publishing slot.
type Alternative struct {
	Time  time.Time `json:"time"`
	Score float64   `json:"score"`
}

// HourScore pairs an hour of day with its mean engagement.
type HourScore struct {
	Hour       int     `json:"hour"`
	Engagement float64 `json:"engagement"`
	Samples    int     `json:"samples"`
}

// DayScore pairs a weekday with its mean engagement.
type DayScore struct {
	Day        string  `json:"day"`
	Engagement float64 `json:"engagement"`
	Samples    int     `json:"samples"`
}

// ContentPerformance summarises one content type over an analytics window.
type ContentPerformance struct {
	AverageEngagement float64 `json:"average_engagement"`
	Posts             int     `json:"posts"`
	TotalRevenue      float64 `json:"total_revenue"`
}

// AnalyticsReport summarises engagement over a trailing window.
type AnalyticsReport struct {
	Platform           string                             `json:"platform"`
	PeriodDays         int                                `json:"period_days"`
	TotalPosts         int                                `json:"total_posts"`
	AverageEngagement  float64                            `json:"average_engagement"`
	TotalRevenue       float64                            `json:"total_revenue"`
	BestHours          []HourScore                        `json:"best_hours"`
	BestDays           []DayScore                         `json:"best_days"`
	ContentPerformance map[ContentType]ContentPerformance `json:"content_performance"`
	PlatformBreakdown  map[Platform]int                   `json:"platform_breakdown,omitempty"`
	GeneratedAt        time.Time                          `json:"generated_at"`
}

// ABTest is a registered timing experiment. Evaluation is out of scope; only metadata is kept.
type ABTest struct {
	ID             string      `json:"id"`
	Platform       Platform    `json:"platform"`
	ContentType    ContentType `json:"content_type"`
	CandidateTimes []time.Time `json:"candidate_times"`
	DurationDays   int         `json:"duration_days"`
	StartDate      time.Time   `json:"start_date"`
	EndDate        time.Time   `json:"end_date"`
	Status         string      `json:"status"`
}
