package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/internal/feed"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

// ErrNormalize is returned when a single feed item cannot be mapped to a Job.
var ErrNormalize = errors.New("normalization failed")

const (
	untitledJob   = "Untitled Job"
	maxTitleBytes = 500
)

// Ordered fallback chains; the first key with a non-blank value wins.
var (
	titleKeys       = []string{"title", "name", "job_title", "position"}
	companyKeys     = []string{"company", "employer", "organization", "company_name", "hiring_organization", "author", "creator"}
	locationKeys    = []string{"location", "city", "place", "job_location", "region"}
	descriptionKeys = []string{"description", "summary", "content", "encoded", "body"}
	urlKeys         = []string{"link", "url", "apply_url", "application_url"}
	emailKeys       = []string{"email", "apply_email", "application_email", "contact_email"}
	employmentKeys  = []string{"employment_type", "job_type", "type", "jobtype"}
	remoteFlagKeys  = []string{"is_remote", "remote"}
	tagKeys         = []string{"tags", "category", "categories"}
	guidKeys        = []string{"guid", "id", "link"}
	publishedKeys   = []string{"pubdate", "published", "date", "updated"}
)

// Normalizer maps loosely-shaped feed items onto models.Job.
type Normalizer struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// New creates a Normalizer using the wall clock and random UUIDs.
func New() *Normalizer {
	return &Normalizer{now: time.Now, newID: uuid.New}
}

// Normalize converts one item into a Job owned by feedURL. Missing fields fall
// back to defaults; the only failures are items with no usable content, or
// items that cannot be serialized for the raw audit copy.
func (n *Normalizer) Normalize(item feed.Item, feedURL, feedName string) (job *models.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			job = nil
			err = fmt.Errorf("%w: panic: %v", ErrNormalize, r)
		}
	}()

	if len(item) == 0 {
		return nil, fmt.Errorf("%w: empty item", ErrNormalize)
	}

	f := newFields(item)
	now := n.now().UTC()

	job = &models.Job{
		ID:               n.newID(),
		Title:            truncateString(f.first(titleKeys...), maxTitleBytes),
		Company:          f.first(companyKeys...),
		Location:         f.first(locationKeys...),
		Description:      f.first(descriptionKeys...),
		ApplicationURL:   f.firstLink(urlKeys...),
		ApplicationEmail: f.first(emailKeys...),
		SourceFeed:       feedURL,
		SourceName:       feedName,
		Status:           models.JobStatusActive,
		Tags:             f.list(tagKeys...),
		Salary:           f.salary(),
		Requirements: models.Requirements{
			Education:      f.first("education"),
			Skills:         f.list("skills"),
			Certifications: f.list("certifications"),
		},
		LastSeenAt: now,
	}
	if job.Title == "" {
		job.Title = untitledJob
	}

	job.ExternalGUID = f.firstLink(guidKeys...)
	if job.ExternalGUID == "" {
		job.ExternalGUID = fmt.Sprintf("%s#%d-%s", feedURL, now.UnixNano(), n.newID())
		job.GUIDSynthesized = true
		slog.Warn("feed item has no guid, id or link; synthesized guid will not deduplicate",
			"feed", feedName,
			"url", feedURL,
			"title", job.Title,
			"guid", job.ExternalGUID,
		)
	}

	job.PublishedAt = now
	if raw := f.first(publishedKeys...); raw != "" {
		if t, ok := parseTime(raw); ok {
			job.PublishedAt = t.UTC()
		} else {
			slog.Debug("unparseable publication date, using ingestion time", "feed", feedName, "value", raw)
		}
	}

	text := strings.ToLower(job.Title + " " + job.Description)
	job.IsRemote = DetectRemote(text)
	if flag, ok := f.boolean(remoteFlagKeys...); ok && flag {
		job.IsRemote = true
	}
	job.RemoteMode = remoteMode(text, job.IsRemote)
	job.Requirements.Experience = DetectExperience(text)
	job.EmploymentType = ParseEmploymentType(f.first(employmentKeys...))

	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding raw item: %v", ErrNormalize, err)
	}
	job.Raw = raw

	return job, nil
}

// NormalizeBatch normalizes every item, collecting per-item failures instead of
// aborting. The returned slices are never nil.
func (n *Normalizer) NormalizeBatch(items []feed.Item, feedURL, feedName string) ([]*models.Job, []models.FailedItem) {
	jobs := make([]*models.Job, 0, len(items))
	failed := []models.FailedItem{}

	for i, item := range items {
		job, err := n.Normalize(item, feedURL, feedName)
		if err != nil {
			f := newFields(item)
			failed = append(failed, models.FailedItem{
				GUID:   f.first(guidKeys...),
				Title:  f.first(titleKeys...),
				Reason: err.Error(),
			})
			slog.Warn("skipping feed item", "feed", feedName, "index", i, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, failed
}
