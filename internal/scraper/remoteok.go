package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"prospect/internal/config"
	"prospect/internal/model"
	"prospect/internal/normalize"
)

// remoteOKScraper reads the RemoteOK public API (https://remoteok.com/api).
// The first element of the response array is a legal notice, not a job.
type remoteOKScraper struct {
	name       string
	url        string
	userAgent  string
	headers    map[string]string
	vocabulary []string
	client     *http.Client
}

func newRemoteOK(site config.SiteConfig, opts Options) *remoteOKScraper {
	return &remoteOKScraper{
		name:       site.Name,
		url:        site.URL,
		userAgent:  opts.UserAgent,
		headers:    site.Headers,
		vocabulary: opts.Vocabulary,
		client:     &http.Client{Timeout: site.Timeout()},
	}
}

func (s *remoteOKScraper) Name() string { return s.name }

type remoteOKJob struct {
	ID          json.Number `json:"id"`
	Position    string      `json:"position"`
	Company     string      `json:"company"`
	Location    string      `json:"location"`
	Description string      `json:"description"`
	Tags        []string    `json:"tags"`
	SalaryMin   float64     `json:"salary_min"`
	SalaryMax   float64     `json:"salary_max"`
	URL         string      `json:"url"`
	Epoch       int64       `json:"epoch"`
}

func (s *remoteOKScraper) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	body, err := httpFetch(ctx, s.client, s.url, s.userAgent, s.headers)
	if err != nil {
		return nil, fmt.Errorf("remoteok: %w", err)
	}

	// The API returns a heterogeneous array; decode element by element
	// so the leading notice object does not fail the whole response.
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("remoteok: decode: %w", err)
	}

	now := time.Now().UTC()
	var records []model.Opportunity
	for i, msg := range raw {
		if i == 0 {
			continue
		}
		var j remoteOKJob
		if err := json.Unmarshal(msg, &j); err != nil {
			continue
		}
		if j.ID.String() == "" || j.Position == "" {
			continue
		}

		desc := normalize.HTMLToText(j.Description)
		skills := normalize.CanonicalSkills(j.Tags, desc, s.vocabulary)

		sourceURL := j.URL
		if sourceURL == "" {
			sourceURL = fmt.Sprintf("https://remoteok.com/remote-jobs/%s", j.ID.String())
		}

		o := model.Opportunity{
			NaturalKey:     model.NaturalKey("remoteok", j.ID.String()),
			Platform:       "remoteok",
			Title:          j.Position,
			Description:    desc,
			SourceURL:      sourceURL,
			SkillsRequired: skills,
			Company:        j.Company,
			Location:       j.Location,
			ScrapedAt:      now,
			Status:         model.StatusDiscovered,
		}
		if j.SalaryMin > 0 {
			min := j.SalaryMin
			o.BudgetMin = &min
			o.BudgetType = model.BudgetFixed
			o.SalaryRange = fmt.Sprintf("$%.0f", j.SalaryMin)
		}
		if j.SalaryMax > 0 {
			max := j.SalaryMax
			o.BudgetMax = &max
			o.BudgetType = model.BudgetFixed
			if j.SalaryMin > 0 {
				o.SalaryRange = fmt.Sprintf("$%.0f-$%.0f", j.SalaryMin, j.SalaryMax)
			}
		}
		if j.Epoch > 0 {
			t := time.Unix(j.Epoch, 0).UTC()
			o.PostedAt = &t
		}
		if err := o.Validate(); err != nil {
			continue
		}
		records = append(records, o)
	}
	return records, nil
}
