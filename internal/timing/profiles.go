package timing

import "github.com/stusseligmini/FionaSparx-sub000/internal/models"

// DefaultProfiles returns the built-in audience profiles the engine starts learning from.
func DefaultProfiles() map[models.Platform]*models.AudienceProfile {
	return map[models.Platform]*models.AudienceProfile{
		models.PlatformFanvue: {
			Platform:          models.PlatformFanvue,
			Timezone:          "UTC",
			AgeGroups:         map[string]float64{"18-24": 0.25, "25-34": 0.45, "35-44": 0.25, "45+": 0.05},
			PeakActivityHours: []int{18, 19, 20, 21, 22},
			EngagementPatterns: map[string]float64{
				"monday": 0.8, "tuesday": 0.85, "wednesday": 0.9,
				"thursday": 0.95, "friday": 1.0, "saturday": 0.9, "sunday": 0.7,
			},
			ContentPreferences: map[string]float64{
				string(models.ContentLifestyle): 0.9,
				string(models.ContentFashion):   0.8,
				string(models.ContentFitness):   0.7,
				string(models.ContentArtistic):  0.6,
				string(models.ContentPremium):   0.85,
			},
		},
		models.PlatformLoyalfans: {
			Platform:          models.PlatformLoyalfans,
			Timezone:          "UTC",
			AgeGroups:         map[string]float64{"18-24": 0.15, "25-34": 0.35, "35-44": 0.35, "45+": 0.15},
			PeakActivityHours: []int{20, 21, 22, 23},
			EngagementPatterns: map[string]float64{
				"monday": 0.7, "tuesday": 0.8, "wednesday": 0.85,
				"thursday": 0.9, "friday": 0.95, "saturday": 1.0, "sunday": 0.75,
			},
			ContentPreferences: map[string]float64{
				string(models.ContentArtistic):  0.95,
				string(models.ContentPremium):   0.9,
				string(models.ContentLifestyle): 0.7,
				string(models.ContentFashion):   0.8,
				string(models.ContentFitness):   0.6,
			},
		},
		models.PlatformInstagram: {
			Platform:          models.PlatformInstagram,
			Timezone:          "UTC",
			AgeGroups:         map[string]float64{"18-24": 0.4, "25-34": 0.35, "35-44": 0.2, "45+": 0.05},
			PeakActivityHours: []int{12, 13, 17, 18, 19, 20},
			EngagementPatterns: map[string]float64{
				"monday": 0.8, "tuesday": 0.9, "wednesday": 1.0,
				"thursday": 0.95, "friday": 0.85, "saturday": 0.7, "sunday": 0.75,
			},
			ContentPreferences: map[string]float64{
				string(models.ContentLifestyle): 1.0,
				string(models.ContentFashion):   0.95,
				string(models.ContentFitness):   0.85,
				string(models.ContentArtistic):  0.8,
				string(models.ContentPremium):   0.6,
			},
		},
	}
}

// fallbackHour is the publishing hour used when there is not enough history.
func fallbackHour(platform models.Platform) int {
	switch platform {
	case models.PlatformFanvue:
		return 19
	case models.PlatformLoyalfans:
		return 21
	default:
		return 18
	}
}
