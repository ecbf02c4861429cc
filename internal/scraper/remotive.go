package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"prospect/internal/config"
	"prospect/internal/model"
	"prospect/internal/normalize"
)

// remotiveScraper reads the Remotive public API
// (https://remotive.com/api/remote-jobs).
type remotiveScraper struct {
	name       string
	url        string
	query      string
	userAgent  string
	headers    map[string]string
	vocabulary []string
	client     *http.Client
}

func newRemotive(site config.SiteConfig, opts Options) *remotiveScraper {
	return &remotiveScraper{
		name:       site.Name,
		url:        site.URL,
		query:      site.SearchQuery,
		userAgent:  opts.UserAgent,
		headers:    site.Headers,
		vocabulary: opts.Vocabulary,
		client:     &http.Client{Timeout: site.Timeout()},
	}
}

func (s *remotiveScraper) Name() string { return s.name }

type remotiveJob struct {
	ID          json.Number `json:"id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	CompanyName string      `json:"company_name"`
	Location    string      `json:"candidate_required_location"`
	PublishedAt string      `json:"publication_date"`
	Salary      string      `json:"salary"`
	Description string      `json:"description"`
	Tags        []string    `json:"tags"`
}

type remotiveResponse struct {
	Jobs []remotiveJob `json:"jobs"`
}

func (s *remotiveScraper) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	target := s.url
	if s.query != "" {
		u, err := url.Parse(s.url)
		if err != nil {
			return nil, fmt.Errorf("remotive: parse url: %w", err)
		}
		q := u.Query()
		q.Set("search", s.query)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	body, err := httpFetch(ctx, s.client, target, s.userAgent, s.headers)
	if err != nil {
		return nil, fmt.Errorf("remotive: %w", err)
	}

	var resp remotiveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("remotive: decode: %w", err)
	}

	now := time.Now().UTC()
	records := make([]model.Opportunity, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		if j.ID.String() == "" || j.Title == "" {
			continue
		}
		desc := normalize.HTMLToText(j.Description)
		budget := normalize.ParseBudget(j.Salary)
		skills := normalize.CanonicalSkills(j.Tags, desc, s.vocabulary)

		o := model.Opportunity{
			NaturalKey:     model.NaturalKey("remotive", j.ID.String()),
			Platform:       "remotive",
			Title:          j.Title,
			Description:    desc,
			SourceURL:      j.URL,
			BudgetMin:      budget.Min,
			BudgetMax:      budget.Max,
			BudgetType:     budget.Type,
			SkillsRequired: skills,
			Company:        j.CompanyName,
			Location:       j.Location,
			SalaryRange:    j.Salary,
			PostedAt:       parseTime(j.PublishedAt),
			ScrapedAt:      now,
			Status:         model.StatusDiscovered,
		}
		if err := o.Validate(); err != nil {
			continue
		}
		records = append(records, o)
	}
	return records, nil
}
