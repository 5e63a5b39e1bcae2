package normalize

import (
	"strings"

	"github.com/kiranshivaraju/jobingest/pkg/models"
)

var remoteKeywords = []string{
	"remote", "work from home", "wfh", "telecommute", "virtual", "home-based", "anywhere", "distributed",
}

// Experience tiers in priority order; the first tier with a matching keyword wins.
var experienceTiers = []struct {
	level    models.ExperienceLevel
	keywords []string
}{
	{models.ExperienceSenior, []string{"senior", "lead", "principal"}},
	{models.ExperienceExecutive, []string{"executive", "director", "vp", "chief"}},
	{models.ExperienceEntry, []string{"entry", "junior", "graduate", "intern"}},
	{models.ExperienceMid, []string{"mid", "intermediate", "experienced"}},
}

// DetectRemote reports whether text mentions remote work. Matching is a
// case-insensitive substring test.
func DetectRemote(text string) bool {
	return containsAny(strings.ToLower(text), remoteKeywords)
}

// DetectExperience infers the experience tier from text, defaulting to mid.
func DetectExperience(text string) models.ExperienceLevel {
	lower := strings.ToLower(text)
	for _, tier := range experienceTiers {
		if containsAny(lower, tier.keywords) {
			return tier.level
		}
	}
	return models.ExperienceMid
}

// ParseEmploymentType maps free-form employment labels onto the enum.
// A blank label defaults to full-time; an unrecognised one is "other".
func ParseEmploymentType(s string) models.EmploymentType {
	lower := strings.ToLower(strings.TrimSpace(s))
	lower = strings.NewReplacer("_", " ", "-", " ").Replace(lower)

	switch {
	case lower == "":
		return models.EmploymentFullTime
	case strings.Contains(lower, "full time"), strings.Contains(lower, "fulltime"), strings.Contains(lower, "permanent"):
		return models.EmploymentFullTime
	case strings.Contains(lower, "part time"), strings.Contains(lower, "parttime"):
		return models.EmploymentPartTime
	case strings.Contains(lower, "intern"):
		return models.EmploymentInternship
	case strings.Contains(lower, "contract"):
		return models.EmploymentContract
	case strings.Contains(lower, "temp"):
		return models.EmploymentTemporary
	case strings.Contains(lower, "freelance"):
		return models.EmploymentFreelance
	}
	return models.EmploymentOther
}

func remoteMode(lowerText string, isRemote bool) models.RemoteMode {
	if strings.Contains(lowerText, "hybrid") {
		return models.RemoteHybrid
	}
	if isRemote {
		return models.RemoteRemote
	}
	return models.RemoteOnsite
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
