package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusActive   = "active"
	JobStatusExpired  = "expired"
	JobStatusFilled   = "filled"
	JobStatusInactive = "inactive"
)

type ExperienceLevel string

const (
	ExperienceEntry     ExperienceLevel = "entry"
	ExperienceMid       ExperienceLevel = "mid"
	ExperienceSenior    ExperienceLevel = "senior"
	ExperienceExecutive ExperienceLevel = "executive"
)

type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "full-time"
	EmploymentPartTime   EmploymentType = "part-time"
	EmploymentContract   EmploymentType = "contract"
	EmploymentTemporary  EmploymentType = "temporary"
	EmploymentInternship EmploymentType = "internship"
	EmploymentFreelance  EmploymentType = "freelance"
	EmploymentOther      EmploymentType = "other"
)

type RemoteMode string

const (
	RemoteOnsite RemoteMode = "onsite"
	RemoteRemote RemoteMode = "remote"
	RemoteHybrid RemoteMode = "hybrid"
)

// Salary is kept exactly as the source published it; no currency conversion.
type Salary struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Period   string   `json:"period,omitempty"`
}

func (s Salary) IsZero() bool {
	return s.Min == nil && s.Max == nil && s.Currency == "" && s.Period == ""
}

type Requirements struct {
	Experience     ExperienceLevel `json:"experience"`
	Education      string          `json:"education,omitempty"`
	Skills         []string        `json:"skills,omitempty"`
	Certifications []string        `json:"certifications,omitempty"`
}

// Job is the canonical job posting. (SourceFeed, ExternalGUID) is unique; a
// re-ingested posting mutates the existing row instead of creating a new one.
type Job struct {
	ID               uuid.UUID       `db:"id"                json:"id"`
	Title            string          `db:"title"             json:"title"`
	Company          string          `db:"company"           json:"company"`
	Location         string          `db:"location"          json:"location"`
	Description      string          `db:"description"       json:"description"`
	Salary           Salary          `db:"salary"            json:"salary"`
	Requirements     Requirements    `db:"requirements"      json:"requirements"`
	EmploymentType   EmploymentType  `db:"employment_type"   json:"employment_type"`
	RemoteMode       RemoteMode      `db:"remote_mode"       json:"remote_mode"`
	IsRemote         bool            `db:"is_remote"         json:"is_remote"`
	ApplicationURL   string          `db:"application_url"   json:"application_url,omitempty"`
	ApplicationEmail string          `db:"application_email" json:"application_email,omitempty"`
	SourceFeed       string          `db:"source_feed"       json:"source_feed"`
	SourceName       string          `db:"source_name"       json:"source_name"`
	ExternalGUID     string          `db:"external_guid"     json:"external_guid"`
	GUIDSynthesized  bool            `db:"guid_synthesized"  json:"guid_synthesized,omitempty"`
	PublishedAt      time.Time       `db:"published_at"      json:"published_at"`
	Status           string          `db:"status"            json:"status"`
	Views            int             `db:"views"             json:"views"`
	Applications     int             `db:"applications"      json:"applications"`
	Tags             []string        `db:"tags"              json:"tags,omitempty"`
	Raw              json.RawMessage `db:"raw"               json:"raw,omitempty"`
	LastSeenAt       time.Time       `db:"last_seen_at"      json:"last_seen_at"`
	CreatedAt        time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"        json:"updated_at"`
}

// Merge copies every non-empty field of incoming onto j. Identity fields
// (ID, SourceFeed, ExternalGUID) and engagement counters are never touched.
// A record that had expired or gone inactive is re-activated; filled stays filled.
func (j *Job) Merge(incoming *Job) {
	mergeString(&j.Title, incoming.Title)
	mergeString(&j.Company, incoming.Company)
	mergeString(&j.Location, incoming.Location)
	mergeString(&j.Description, incoming.Description)
	mergeString(&j.ApplicationURL, incoming.ApplicationURL)
	mergeString(&j.ApplicationEmail, incoming.ApplicationEmail)
	mergeString(&j.SourceName, incoming.SourceName)

	if incoming.Salary.Min != nil {
		j.Salary.Min = incoming.Salary.Min
	}
	if incoming.Salary.Max != nil {
		j.Salary.Max = incoming.Salary.Max
	}
	mergeString(&j.Salary.Currency, incoming.Salary.Currency)
	mergeString(&j.Salary.Period, incoming.Salary.Period)

	if incoming.Requirements.Experience != "" {
		j.Requirements.Experience = incoming.Requirements.Experience
	}
	mergeString(&j.Requirements.Education, incoming.Requirements.Education)
	if len(incoming.Requirements.Skills) > 0 {
		j.Requirements.Skills = incoming.Requirements.Skills
	}
	if len(incoming.Requirements.Certifications) > 0 {
		j.Requirements.Certifications = incoming.Requirements.Certifications
	}

	if incoming.EmploymentType != "" {
		j.EmploymentType = incoming.EmploymentType
	}
	if incoming.RemoteMode != "" {
		j.RemoteMode = incoming.RemoteMode
	}
	j.IsRemote = incoming.IsRemote
	if !incoming.PublishedAt.IsZero() {
		j.PublishedAt = incoming.PublishedAt
	}
	if len(incoming.Tags) > 0 {
		j.Tags = incoming.Tags
	}
	if len(incoming.Raw) > 0 {
		j.Raw = incoming.Raw
	}

	if j.Status == JobStatusExpired || j.Status == JobStatusInactive || j.Status == "" {
		j.Status = JobStatusActive
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
