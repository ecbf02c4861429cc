package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an opportunity. These values must
// match the text values stored in the database (opportunities.status).
//
// Centralizing these here avoids scattering string literals like
// "discovered" or "notified" across packages.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusScored     Status = "scored"
	StatusNotified   Status = "notified"
	StatusApplied    Status = "applied"
	StatusWon        Status = "won"
	StatusRejected   Status = "rejected"
)

// statusRank orders the lifecycle so transitions can be checked for
// rollback. won and rejected are both terminal.
var statusRank = map[Status]int{
	StatusDiscovered: 0,
	StatusScored:     1,
	StatusNotified:   2,
	StatusApplied:    3,
	StatusWon:        4,
	StatusRejected:   4,
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Transitions never roll back to an earlier lifecycle state.
func (s Status) CanTransitionTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// BudgetType classifies how an opportunity's budget was expressed.
type BudgetType string

const (
	BudgetFixed   BudgetType = "fixed"
	BudgetHourly  BudgetType = "hourly"
	BudgetUnknown BudgetType = "unknown"
)

// ScoreDetails holds the structured output of the scoring pipeline:
// numeric sub-scores, flags set by the rule overlay, and the model's
// risk/strength notes. It is stored serialised as a JSON column.
type ScoreDetails struct {
	MatchScore       int      `json:"match_score"`
	BudgetReasonable bool     `json:"budget_reasonable"`
	RequirementClear bool     `json:"requirement_clear"`
	EstimatedHours   int      `json:"estimated_hours"`
	SuggestedBid     float64  `json:"suggested_bid"`
	Recommended      bool     `json:"recommended"`
	Risks            []string `json:"risks"`
	Strengths        []string `json:"strengths"`
}

// Opportunity is the canonical record produced by the scrapers and
// enriched by the scoring pipeline. NaturalKey ("{platform}_{id}") is
// the idempotency key for upsert and notification dedup.
type Opportunity struct {
	NaturalKey  string `json:"natural_key"`
	Platform    string `json:"platform"`
	Title       string `json:"title"`
	Description string `json:"description"`
	SourceURL   string `json:"source_url"`

	BudgetMin  *float64   `json:"budget_min,omitempty"`
	BudgetMax  *float64   `json:"budget_max,omitempty"`
	BudgetType BudgetType `json:"budget_type"`

	SkillsRequired []string `json:"skills_required"`

	// Optional fields carried when a source provides them.
	Company       string   `json:"company,omitempty"`
	Location      string   `json:"location,omitempty"`
	SalaryRange   string   `json:"salary_range,omitempty"`
	ClientCountry string   `json:"client_country,omitempty"`
	ClientRating  *float64 `json:"client_rating,omitempty"`

	PostedAt  *time.Time `json:"posted_at,omitempty"`
	ScrapedAt time.Time  `json:"scraped_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Score        *int          `json:"score,omitempty"`
	ScoreReason  string        `json:"score_reason,omitempty"`
	ScoreDetails *ScoreDetails `json:"score_details,omitempty"`

	Status Status `json:"status"`

	// Notes is free-form operator text attached when the status is
	// updated by hand, e.g. why an application was rejected.
	Notes string `json:"notes,omitempty"`
}

// NaturalKey builds the canonical "{platform}_{id}" idempotency key.
func NaturalKey(platform, platformID string) string {
	return fmt.Sprintf("%s_%s", platform, platformID)
}

// Validate checks the record invariants that scrapers and the store
// rely on. It is called at the scraper boundary so downstream
// components never see a malformed record.
func (o *Opportunity) Validate() error {
	if o.NaturalKey == "" {
		return fmt.Errorf("opportunity missing natural key")
	}
	if o.Platform == "" {
		return fmt.Errorf("opportunity %s missing platform", o.NaturalKey)
	}
	if o.Title == "" {
		return fmt.Errorf("opportunity %s missing title", o.NaturalKey)
	}
	if o.BudgetType == "" {
		o.BudgetType = BudgetUnknown
	}
	if o.Score != nil {
		if *o.Score < 0 || *o.Score > 100 {
			return fmt.Errorf("opportunity %s score %d out of range", o.NaturalKey, *o.Score)
		}
		if o.ScoreReason == "" {
			return fmt.Errorf("opportunity %s scored without a reason", o.NaturalKey)
		}
	}
	return nil
}
