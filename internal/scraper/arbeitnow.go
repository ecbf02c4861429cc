package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"prospect/internal/config"
	"prospect/internal/model"
	"prospect/internal/normalize"
)

// arbeitnowScraper reads the Arbeitnow job board API
// (https://www.arbeitnow.com/api/job-board-api).
type arbeitnowScraper struct {
	name       string
	url        string
	userAgent  string
	headers    map[string]string
	vocabulary []string
	client     *http.Client
}

func newArbeitnow(site config.SiteConfig, opts Options) *arbeitnowScraper {
	return &arbeitnowScraper{
		name:       site.Name,
		url:        site.URL,
		userAgent:  opts.UserAgent,
		headers:    site.Headers,
		vocabulary: opts.Vocabulary,
		client:     &http.Client{Timeout: site.Timeout()},
	}
}

func (s *arbeitnowScraper) Name() string { return s.name }

type arbeitnowJob struct {
	Slug        string   `json:"slug"`
	CompanyName string   `json:"company_name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	JobTypes    []string `json:"job_types"`
	Location    string   `json:"location"`
	URL         string   `json:"url"`
	CreatedAt   int64    `json:"created_at"`
}

type arbeitnowResponse struct {
	Data []arbeitnowJob `json:"data"`
}

func (s *arbeitnowScraper) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	body, err := httpFetch(ctx, s.client, s.url, s.userAgent, s.headers)
	if err != nil {
		return nil, fmt.Errorf("arbeitnow: %w", err)
	}

	var resp arbeitnowResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("arbeitnow: decode: %w", err)
	}

	now := time.Now().UTC()
	records := make([]model.Opportunity, 0, len(resp.Data))
	for _, j := range resp.Data {
		if j.Slug == "" || j.Title == "" {
			continue
		}
		desc := normalize.HTMLToText(j.Description)
		skills := normalize.CanonicalSkills(j.Tags, desc+" "+strings.Join(j.JobTypes, " "), s.vocabulary)

		o := model.Opportunity{
			NaturalKey:     model.NaturalKey("arbeitnow", j.Slug),
			Platform:       "arbeitnow",
			Title:          j.Title,
			Description:    desc,
			SourceURL:      j.URL,
			BudgetType:     model.BudgetUnknown,
			SkillsRequired: skills,
			Company:        j.CompanyName,
			Location:       j.Location,
			ScrapedAt:      now,
			Status:         model.StatusDiscovered,
		}
		if j.CreatedAt > 0 {
			t := time.Unix(j.CreatedAt, 0).UTC()
			o.PostedAt = &t
		}
		if err := o.Validate(); err != nil {
			continue
		}
		records = append(records, o)
	}
	return records, nil
}
