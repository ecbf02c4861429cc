// Package score runs discovered opportunities through an LLM and
// overlays deterministic rules on the verdict, so an over-enthusiastic
// model can never recommend a job that fails the hard checks.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"prospect/internal/llm"
	"prospect/internal/metrics"
	"prospect/internal/model"
	"prospect/internal/normalize"
	"prospect/internal/retry"
)

// maxDescChars bounds how much of a description goes into the prompt.
const maxDescChars = 800

// fallbackScore is assigned when the model cannot be reached or its
// answer cannot be parsed: mid-scale, never recommended, so the record
// surfaces for manual review without being auto-notified.
const fallbackScore = 50

// Chatter is the slice of the LLM client the analyzer needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, temperature float64) (string, error)
}

// Analyzer scores batches of opportunities.
type Analyzer struct {
	chat           Chatter
	skills         []string
	minBudget      float64
	scoreThreshold int
	maxConcurrent  int
	retryPolicy    retry.Policy
	logger         *slog.Logger
}

// New builds an analyzer. scoreThreshold is the minimum score for a
// record to stay recommended; maxConcurrent bounds in-flight LLM
// calls.
func New(chat Chatter, skills []string, minBudget float64, scoreThreshold, maxConcurrent int, logger *slog.Logger) *Analyzer {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Analyzer{
		chat:           chat,
		skills:         skills,
		minBudget:      minBudget,
		scoreThreshold: scoreThreshold,
		maxConcurrent:  maxConcurrent,
		retryPolicy:    retry.DefaultPolicy,
		logger:         logger,
	}
}

const systemPrompt = `You are an experienced freelance consultant evaluating job postings. Respond with a single JSON object and nothing else.`

// buildPrompt renders the scoring request for one record.
func (a *Analyzer) buildPrompt(o *model.Opportunity) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Evaluate this opportunity for a freelancer with skills: %s.\n\n", strings.Join(a.skills, ", "))
	fmt.Fprintf(&b, "Title: %s\n", o.Title)
	fmt.Fprintf(&b, "Platform: %s\n", o.Platform)

	switch {
	case o.BudgetMin != nil && o.BudgetMax != nil && *o.BudgetMin != *o.BudgetMax:
		fmt.Fprintf(&b, "Budget: %.0f-%.0f (%s)\n", *o.BudgetMin, *o.BudgetMax, o.BudgetType)
	case o.BudgetMin != nil:
		fmt.Fprintf(&b, "Budget: %.0f (%s)\n", *o.BudgetMin, o.BudgetType)
	default:
		b.WriteString("Budget: not stated\n")
	}
	if a.minBudget > 0 {
		fmt.Fprintf(&b, "Minimum acceptable budget: %.0f\n", a.minBudget)
	}
	if len(o.SkillsRequired) > 0 {
		fmt.Fprintf(&b, "Skills requested: %s\n", strings.Join(o.SkillsRequired, ", "))
	}
	fmt.Fprintf(&b, "\nDescription:\n%s\n", normalize.Truncate(o.Description, maxDescChars))

	b.WriteString(`
Return JSON with exactly these fields:
{"score": 0-100, "reason": "one sentence", "match_score": 0-100,
 "budget_reasonable": bool, "requirement_clear": bool,
 "estimated_hours": int, "suggested_bid": number,
 "recommended": bool, "risks": [..], "strengths": [..]}`)
	return b.String()
}

// verdict is the shape the model is asked to return.
type verdict struct {
	Score            int      `json:"score"`
	Reason           string   `json:"reason"`
	MatchScore       int      `json:"match_score"`
	BudgetReasonable bool     `json:"budget_reasonable"`
	RequirementClear bool     `json:"requirement_clear"`
	EstimatedHours   int      `json:"estimated_hours"`
	SuggestedBid     float64  `json:"suggested_bid"`
	Recommended      bool     `json:"recommended"`
	Risks            []string `json:"risks"`
	Strengths        []string `json:"strengths"`
}

// parseVerdict extracts the JSON object from a model reply. Models
// wrap JSON in markdown fences or prose often enough that both are
// stripped before decoding.
func parseVerdict(raw string) (*verdict, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var v verdict
	if err := json.Unmarshal([]byte(s[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 100 {
		v.Score = 100
	}
	return &v, nil
}

// applyRules overlays the deterministic checks on the model verdict.
// Rules only ever lower a score.
func (a *Analyzer) applyRules(o *model.Opportunity, v *verdict) {
	if a.minBudget > 0 && o.BudgetMin != nil && *o.BudgetMin < a.minBudget {
		if v.Score > 40 {
			v.Score = 40
		}
		v.Recommended = false
		v.BudgetReasonable = false
	}
	if len(a.skills) > 0 && v.MatchScore < 30 {
		if v.Score > 50 {
			v.Score = 50
		}
		v.Recommended = false
	}
	if len(o.Description) < 100 {
		if v.Score > 60 {
			v.Score = 60
		}
		v.RequirementClear = false
	}
	if a.scoreThreshold > 0 && v.Score < a.scoreThreshold {
		v.Recommended = false
	}
}

// scoreOne scores a single record in place. It never returns an
// error: any failure produces the fallback verdict.
func (a *Analyzer) scoreOne(ctx context.Context, o *model.Opportunity) {
	prompt := a.buildPrompt(o)

	var reply string
	err := retry.Do(ctx, a.retryPolicy, llm.Retryable, func(ctx context.Context) error {
		var chatErr error
		reply, chatErr = a.chat.Chat(ctx, []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		}, 0.3)
		return chatErr
	})
	if err != nil {
		a.fallback(o, fmt.Sprintf("scoring unavailable: %v", err))
		return
	}

	v, err := parseVerdict(reply)
	if err != nil {
		a.fallback(o, fmt.Sprintf("could not parse model reply: %v", err))
		return
	}

	a.applyRules(o, v)

	score := v.Score
	o.Score = &score
	o.ScoreReason = v.Reason
	if o.ScoreReason == "" {
		o.ScoreReason = "no reason given"
	}
	o.ScoreDetails = &model.ScoreDetails{
		MatchScore:       v.MatchScore,
		BudgetReasonable: v.BudgetReasonable,
		RequirementClear: v.RequirementClear,
		EstimatedHours:   v.EstimatedHours,
		SuggestedBid:     v.SuggestedBid,
		Recommended:      v.Recommended,
		Risks:            v.Risks,
		Strengths:        v.Strengths,
	}
	o.Status = model.StatusScored
	metrics.RecordScore("ok")
}

// fallback marks a record scored with the neutral verdict.
func (a *Analyzer) fallback(o *model.Opportunity, reason string) {
	if a.logger != nil {
		a.logger.Warn("scoring fell back", "key", o.NaturalKey, "reason", reason)
	}
	score := fallbackScore
	o.Score = &score
	o.ScoreReason = reason
	o.ScoreDetails = &model.ScoreDetails{Recommended: false}
	o.Status = model.StatusScored
	metrics.RecordScore("fallback")
}

// ScoreBatch scores all records with bounded concurrency and returns
// them ordered best first (score descending, older scrape first on
// ties). Every input record comes back scored; cancellation mid-batch
// gives the remaining records the fallback verdict instead of
// dropping them.
func (a *Analyzer) ScoreBatch(ctx context.Context, records []model.Opportunity) []model.Opportunity {
	if len(records) == 0 {
		return records
	}

	sem := make(chan struct{}, a.maxConcurrent)
	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		go func(o *model.Opportunity) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				a.fallback(o, "scoring cancelled")
				return
			}
			a.scoreOne(ctx, o)
		}(&records[i])
	}
	wg.Wait()

	sort.SliceStable(records, func(i, j int) bool {
		si, sj := 0, 0
		if records[i].Score != nil {
			si = *records[i].Score
		}
		if records[j].Score != nil {
			sj = *records[j].Score
		}
		if si != sj {
			return si > sj
		}
		return records[i].ScrapedAt.Before(records[j].ScrapedAt)
	})
	return records
}
