// Package scraper implements the pluggable source fetchers: JSON APIs
// (remotive, remoteok, arbeitnow), the WWR RSS feed, and the
// browser-driven upwork/toptal sources. Every fetcher maps its site's
// payload into the canonical Opportunity shape before returning.
package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"prospect/internal/config"
	"prospect/internal/model"
)

// Scraper fetches one source and returns normalised records. A fetch
// error means the source produced nothing this tick; the caller logs
// it and moves on, it never fails the tick.
type Scraper interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Opportunity, error)
}

// Options carries settings shared by every scraper instance.
type Options struct {
	UserAgent     string
	Vocabulary    []string
	BrowserURL    string
	RespectRobots bool
}

// New constructs the concrete scraper for a site config. The kind set
// is closed; config validation rejects unknown kinds at startup, so an
// error here means the registry and config drifted apart.
func New(site config.SiteConfig, opts Options) (Scraper, error) {
	switch site.Kind {
	case "remotive":
		return newRemotive(site, opts), nil
	case "remoteok":
		return newRemoteOK(site, opts), nil
	case "arbeitnow":
		return newArbeitnow(site, opts), nil
	case "wwr":
		return newWWR(site, opts), nil
	case "upwork":
		return newBrowser(site, opts, upworkSelectors), nil
	case "toptal":
		return newBrowser(site, opts, toptalSelectors), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q for site %q", site.Kind, site.Name)
	}
}

// BuildAll constructs scrapers for every enabled site.
func BuildAll(sites []config.SiteConfig, opts Options) ([]Scraper, error) {
	scrapers := make([]Scraper, 0, len(sites))
	for _, site := range sites {
		if !site.Enabled {
			continue
		}
		s, err := New(site, opts)
		if err != nil {
			return nil, err
		}
		scrapers = append(scrapers, s)
	}
	return scrapers, nil
}

// httpFetch performs a GET with the site's headers and timeout and
// returns the body. Non-2xx responses are errors so the caller can
// degrade the source to an empty result.
func httpFetch(ctx context.Context, client *http.Client, rawURL, userAgent string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" && userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// hashID derives a short stable id from an arbitrary string, used by
// sources (RSS) whose only stable identifier is a URL.
func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// parseTime tries the timestamp layouts the sources actually emit.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
