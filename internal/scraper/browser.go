package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	robotstxt "github.com/temoto/robotstxt"

	"prospect/internal/config"
	"prospect/internal/model"
	"prospect/internal/normalize"
)

// fieldSelectors is a ranked list of CSS selectors per card field.
// Marketplace markup churns; the first selector that yields a value
// wins, so a layout change degrades to the next candidate instead of
// breaking the source outright.
type fieldSelectors struct {
	platform    string
	container   []string
	title       []string
	link        []string
	description []string
	budget      []string
	skills      []string
	country     []string
}

var upworkSelectors = fieldSelectors{
	platform: "upwork",
	container: []string{
		`article[data-test="JobTile"]`,
		`section[data-test="JobsList"] section`,
		`section.air3-card-section`,
		`div.job-tile`,
	},
	title: []string{
		`h2.job-tile-title a`,
		`[data-test="job-tile-title"] a`,
		`h3.job-tile-title a`,
		`h2 a`,
	},
	link: []string{
		`h2.job-tile-title a`,
		`[data-test="job-tile-title"] a`,
		`a[href*="/jobs/"]`,
	},
	description: []string{
		`[data-test="UpCLineClamp JobDescription"]`,
		`[data-test="job-description-text"]`,
		`.air3-line-clamp`,
		`p.text-body-sm`,
	},
	budget: []string{
		`[data-test="is-fixed-price"]`,
		`[data-test="job-type-label"]`,
		`ul.job-tile-info-list`,
		`.js-budget`,
	},
	skills: []string{
		`[data-test="TokenClamp JobAttrs"] .air3-token`,
		`[data-test="attr-item"]`,
		`.air3-token`,
	},
	country: []string{
		`[data-test="location"]`,
		`.client-location`,
	},
}

var toptalSelectors = fieldSelectors{
	platform: "toptal",
	container: []string{
		`div[data-testid="job-card"]`,
		`article.job-card`,
		`li.job-listing`,
		`div.card`,
	},
	title: []string{
		`[data-testid="job-card-title"] a`,
		`h2 a`,
		`h3 a`,
	},
	link: []string{
		`[data-testid="job-card-title"] a`,
		`h2 a`,
		`a[href*="/job"]`,
	},
	description: []string{
		`[data-testid="job-card-description"]`,
		`p.description`,
		`p`,
	},
	budget: []string{
		`[data-testid="job-card-rate"]`,
		`.rate`,
	},
	skills: []string{
		`[data-testid="job-card-skill"]`,
		`.skill-tag`,
		`ul.skills li`,
	},
}

// browserScraper renders a marketplace search page in a real browser
// and extracts job cards from the rendered DOM.
type browserScraper struct {
	name          string
	url           string
	query         string
	userAgent     string
	timeout       time.Duration
	browserURL    string
	respectRobots bool
	vocabulary    []string
	sel           fieldSelectors

	// render is swapped out in tests so card extraction can be
	// exercised without a browser.
	render func(ctx context.Context, pageURL string) (string, error)
}

func newBrowser(site config.SiteConfig, opts Options, sel fieldSelectors) *browserScraper {
	s := &browserScraper{
		name:          site.Name,
		url:           site.URL,
		query:         site.SearchQuery,
		userAgent:     opts.UserAgent,
		timeout:       site.Timeout(),
		browserURL:    opts.BrowserURL,
		respectRobots: opts.RespectRobots,
		vocabulary:    opts.Vocabulary,
		sel:           sel,
	}
	s.render = s.renderPage
	return s
}

func (s *browserScraper) Name() string { return s.name }

// searchURL substitutes the configured query into the page URL. A
// literal "{query}" placeholder is replaced; otherwise the query is
// appended as the q parameter.
func (s *browserScraper) searchURL() (string, error) {
	if s.query == "" {
		return s.url, nil
	}
	if strings.Contains(s.url, "{query}") {
		return strings.ReplaceAll(s.url, "{query}", url.QueryEscape(s.query)), nil
	}
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("q", s.query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *browserScraper) Fetch(ctx context.Context) ([]model.Opportunity, error) {
	pageURL, err := s.searchURL()
	if err != nil {
		return nil, fmt.Errorf("%s: build search url: %w", s.sel.platform, err)
	}

	if s.respectRobots {
		allowed, err := robotsAllowed(ctx, pageURL, s.userAgent)
		if err == nil && !allowed {
			return nil, fmt.Errorf("%s: %s disallowed by robots.txt", s.sel.platform, pageURL)
		}
	}

	htmlStr, err := s.render(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: render: %w", s.sel.platform, err)
	}

	return s.extract(htmlStr)
}

func (s *browserScraper) renderPage(ctx context.Context, pageURL string) (string, error) {
	browser := rod.New().Context(ctx).Timeout(s.timeout)
	if s.browserURL != "" {
		browser = browser.ControlURL(s.browserURL)
	}
	if err := browser.Connect(); err != nil {
		return "", err
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", err
	}
	defer page.MustClose()

	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	// Give client-side rendering a moment to paint the result list.
	_ = page.WaitIdle(5 * time.Second)

	return page.HTML()
}

// extract walks the rendered document with the ranked selector lists.
func (s *browserScraper) extract(htmlStr string) ([]model.Opportunity, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, fmt.Errorf("%s: parse html: %w", s.sel.platform, err)
	}

	var cards *goquery.Selection
	for _, sel := range s.sel.container {
		found := doc.Find(sel)
		if found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil, fmt.Errorf("%s: no job cards matched any container selector", s.sel.platform)
	}

	base, _ := url.Parse(s.url)
	now := time.Now().UTC()
	seen := make(map[string]bool)
	var records []model.Opportunity

	cards.Each(func(_ int, card *goquery.Selection) {
		title := firstText(card, s.sel.title)
		link := firstAttr(card, s.sel.link, "href")
		if title == "" || link == "" {
			return
		}
		if base != nil {
			if u, err := url.Parse(link); err == nil && !u.IsAbs() {
				link = base.ResolveReference(u).String()
			}
		}
		key := model.NaturalKey(s.sel.platform, hashID(link))
		if seen[key] {
			return
		}
		seen[key] = true

		desc := firstText(card, s.sel.description)
		budgetRaw := firstText(card, s.sel.budget)
		budget := normalize.ParseBudget(budgetRaw)

		skills := normalize.CanonicalSkills(allTexts(card, s.sel.skills), title+" "+desc, s.vocabulary)

		o := model.Opportunity{
			NaturalKey:     key,
			Platform:       s.sel.platform,
			Title:          title,
			Description:    desc,
			SourceURL:      link,
			BudgetMin:      budget.Min,
			BudgetMax:      budget.Max,
			BudgetType:     budget.Type,
			SkillsRequired: skills,
			SalaryRange:    budgetRaw,
			ClientCountry:  firstText(card, s.sel.country),
			ScrapedAt:      now,
			Status:         model.StatusDiscovered,
		}
		if err := o.Validate(); err != nil {
			return
		}
		records = append(records, o)
	})

	return records, nil
}

// firstText returns the trimmed text of the first selector that
// matches a non-empty element.
func firstText(card *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(card.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(card *goquery.Selection, selectors []string, attr string) string {
	for _, sel := range selectors {
		if v, ok := card.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func allTexts(card *goquery.Selection, selectors []string) []string {
	for _, sel := range selectors {
		found := card.Find(sel)
		if found.Length() == 0 {
			continue
		}
		var out []string
		found.Each(func(_ int, el *goquery.Selection) {
			if text := strings.TrimSpace(el.Text()); text != "" {
				out = append(out, text)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// robotsAllowed fetches robots.txt for the page's host and tests the
// path. Fetch failures allow the scrape; only an explicit disallow
// blocks it.
func robotsAllowed(ctx context.Context, pageURL, userAgent string) (bool, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return true, err
	}
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return true, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true, errors.New("non-200 robots.txt")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, err
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return true, err
	}
	return data.FindGroup(userAgent).Test(u.RequestURI()), nil
}
