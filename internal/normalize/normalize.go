// Package normalize holds the small pure helpers that turn raw site
// payloads into canonical record fields: budget parsing, skill
// extraction, HTML cleanup, and the keyword filter predicate.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"prospect/internal/model"
)

// Budget is the parsed form of a site's budget string.
type Budget struct {
	Min  *float64
	Max  *float64
	Type model.BudgetType
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseBudget parses the budget shapes the sources actually emit:
// "500", "500-1000", "Hourly: 50-100", "$80/hr". Currency symbols and
// thousands separators are stripped first. Anything unparseable yields
// an unknown budget with no bounds.
func ParseBudget(raw string) Budget {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Budget{Type: model.BudgetUnknown}
	}

	lower := strings.ToLower(s)
	btype := model.BudgetFixed
	if strings.Contains(lower, "hour") || strings.Contains(lower, "/hr") || strings.Contains(lower, "hr.") {
		btype = model.BudgetHourly
	}

	// "Hourly: $50-$100" — parse the part after the colon.
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}

	s = strings.NewReplacer("$", "", ",", "", "€", "", "£", "").Replace(s)

	nums := numberRe.FindAllString(s, 2)
	if len(nums) == 0 {
		return Budget{Type: model.BudgetUnknown}
	}

	min, err := strconv.ParseFloat(nums[0], 64)
	if err != nil {
		return Budget{Type: model.BudgetUnknown}
	}
	b := Budget{Min: &min, Type: btype}

	if len(nums) > 1 {
		if max, err := strconv.ParseFloat(nums[1], 64); err == nil && max >= min {
			b.Max = &max
		}
	}
	if b.Max == nil {
		v := min
		b.Max = &v
	}
	return b
}

// ExtractSkills scans text for whole-word, case-insensitive occurrences
// of terms from the canonical vocabulary and returns them in canonical
// casing, in vocabulary order, without duplicates.
func ExtractSkills(text string, vocabulary []string) []string {
	if text == "" || len(vocabulary) == 0 {
		return nil
	}

	var found []string
	for _, skill := range vocabulary {
		if skill == "" {
			continue
		}
		if containsWord(text, skill) {
			found = append(found, skill)
		}
	}
	return found
}

// CanonicalSkills maps site-provided tags and free text onto the
// canonical vocabulary. A vocabulary term is emitted, in canonical
// casing and vocabulary order, when it equals one of the tags
// case-insensitively or appears as a whole word in the text. Tags
// outside the vocabulary are dropped.
func CanonicalSkills(tags []string, text string, vocabulary []string) []string {
	if len(vocabulary) == 0 {
		return nil
	}

	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if t := strings.ToLower(strings.TrimSpace(tag)); t != "" {
			tagSet[t] = true
		}
	}

	var found []string
	for _, skill := range vocabulary {
		if skill == "" {
			continue
		}
		if tagSet[strings.ToLower(skill)] || (text != "" && containsWord(text, skill)) {
			found = append(found, skill)
		}
	}
	return found
}

// containsWord reports a case-insensitive whole-word match. Word
// boundaries are non-alphanumeric so "Java" does not match "JavaScript"
// while "Node.js" and "C++" still match as literal terms.
func containsWord(text, word string) bool {
	lowerText := strings.ToLower(text)
	lowerWord := strings.ToLower(word)

	for start := 0; ; {
		idx := strings.Index(lowerText[start:], lowerWord)
		if idx < 0 {
			return false
		}
		idx += start

		beforeOK := idx == 0 || !isWordChar(lowerText[idx-1])
		end := idx + len(lowerWord)
		afterOK := end >= len(lowerText) || !isWordChar(lowerText[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
		if start >= len(lowerText) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// HTMLToText converts an HTML fragment (job descriptions from JSON and
// RSS feeds are usually HTML) into markdown-ish plain text. Falls back
// to goquery's text extraction when conversion fails, and to the raw
// input when even parsing fails.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}
	if !strings.Contains(html, "<") {
		return strings.TrimSpace(html)
	}

	converter := htmlmd.NewConverter("", true, nil)
	if md, err := converter.ConvertString(html); err == nil {
		return strings.TrimSpace(md)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(doc.Text())
}

// Filter is the keyword predicate applied after fetch and before
// dedup. A record passes when at least one required keyword appears in
// title or description, at least one level keyword appears in the
// title, and no exclude keyword appears anywhere.
type Filter struct {
	Required []string
	Level    []string
	Exclude  []string
}

// Match reports whether the record passes the filter.
func (f Filter) Match(o *model.Opportunity) bool {
	title := strings.ToLower(o.Title)
	body := title + " " + strings.ToLower(o.Description)

	for _, kw := range f.Exclude {
		if kw == "" {
			continue
		}
		if strings.Contains(body, strings.ToLower(kw)) {
			return false
		}
	}

	if len(f.Required) > 0 && !anyContains(body, f.Required) {
		return false
	}
	if len(f.Level) > 0 && !anyContains(title, f.Level) {
		return false
	}
	return true
}

// Apply filters a batch, preserving input order.
func (f Filter) Apply(records []model.Opportunity) []model.Opportunity {
	kept := make([]model.Opportunity, 0, len(records))
	for i := range records {
		if f.Match(&records[i]) {
			kept = append(kept, records[i])
		}
	}
	return kept
}

func anyContains(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Truncate clips s to at most n bytes on a rune boundary, used when
// embedding descriptions in prompts.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	// Back off to the previous rune boundary.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
