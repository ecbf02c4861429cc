package scraper

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"prospect/internal/config"
	"prospect/internal/model"
	"prospect/internal/normalize"
)

// wwrScraper reads the We Work Remotely RSS feed. RSS items carry no
// native id, so the record id is a hash of the item link.
type wwrScraper struct {
	name       string
	url        string
	userAgent  string
	headers    map[string]string
	vocabulary []string
	client     *http.Client
}

func newWWR(site config.SiteConfig, opts Options) *wwrScraper {
	return &wwrScraper{
		name:       site.Name,
		url:        site.URL,
		userAgent:  opts.UserAgent,
		headers:    site.Headers,
		vocabulary: opts.Vocabulary,
		client:     &http.Client{Timeout: site.Timeout()},
	}
}

func (s *wwrScraper) Name() string { return s.name }

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
}

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

func (s *wwrScraper) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	body, err := httpFetch(ctx, s.client, s.url, s.userAgent, s.headers)
	if err != nil {
		return nil, fmt.Errorf("wwr: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("wwr: decode rss: %w", err)
	}

	now := time.Now().UTC()
	records := make([]model.Opportunity, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		title := strings.TrimSpace(item.Title)
		if link == "" || title == "" {
			continue
		}

		// WWR titles look like "Company: Job Title".
		company := ""
		if idx := strings.Index(title, ":"); idx > 0 {
			company = strings.TrimSpace(title[:idx])
			title = strings.TrimSpace(title[idx+1:])
			if title == "" {
				title = company
				company = ""
			}
		}

		desc := normalize.HTMLToText(item.Description)

		o := model.Opportunity{
			NaturalKey:     model.NaturalKey("wwr", hashID(link)),
			Platform:       "wwr",
			Title:          title,
			Description:    desc,
			SourceURL:      link,
			BudgetType:     model.BudgetUnknown,
			SkillsRequired: normalize.ExtractSkills(desc, s.vocabulary),
			Company:        company,
			PostedAt:       parseTime(item.PubDate),
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
