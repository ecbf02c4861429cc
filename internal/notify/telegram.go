// Package notify delivers scored opportunities to a Telegram chat via
// the Bot API sendMessage call.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"prospect/internal/model"
)

// Notifier sends batches of opportunities somewhere a human reads.
// Send reports which records were delivered; only those may be marked
// sent.
type Notifier interface {
	Send(ctx context.Context, records []model.Opportunity) (delivered []model.Opportunity, err error)
}

// Telegram posts Markdown-formatted digests to one chat.
type Telegram struct {
	apiBase    string
	token      string
	chatID     string
	maxPerMsg  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegram builds the notifier. maxPerMsg bounds how many records
// go into one message so digests stay under Telegram's length cap.
func NewTelegram(apiBase, token, chatID string, maxPerMsg int, timeout time.Duration, logger *slog.Logger) *Telegram {
	if maxPerMsg <= 0 {
		maxPerMsg = 10
	}
	return &Telegram{
		apiBase:    strings.TrimRight(apiBase, "/"),
		token:      token,
		chatID:     chatID,
		maxPerMsg:  maxPerMsg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Configured reports whether the notifier has credentials. An
// unconfigured notifier is a valid setup: records are scored and
// stored but nothing is delivered.
func (t *Telegram) Configured() bool {
	return t.token != "" && t.chatID != ""
}

// markdownEscaper neutralises the characters Telegram's legacy
// Markdown parser treats as formatting.
var markdownEscaper = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"[", "\\[",
	"]", "\\]",
	"`", "\\`",
)

func escape(s string) string { return markdownEscaper.Replace(s) }

// formatRecord renders one opportunity as a Markdown block.
func formatRecord(o *model.Opportunity) string {
	var b strings.Builder

	score := 0
	if o.Score != nil {
		score = *o.Score
	}
	fmt.Fprintf(&b, "*%s* (score %d)\n", escape(o.Title), score)
	fmt.Fprintf(&b, "📦 %s\n", escape(o.Platform))
	if o.Company != "" {
		fmt.Fprintf(&b, "🏢 %s\n", escape(o.Company))
	}
	if o.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", escape(o.Location))
	}
	if o.ClientCountry != "" {
		fmt.Fprintf(&b, "🌍 %s\n", escape(o.ClientCountry))
	}
	if o.PostedAt != nil {
		fmt.Fprintf(&b, "📅 %s\n", o.PostedAt.Format("2006-01-02"))
	}
	switch {
	case o.SalaryRange != "":
		fmt.Fprintf(&b, "💰 %s\n", escape(o.SalaryRange))
	case o.BudgetMin != nil && o.BudgetMax != nil && *o.BudgetMin != *o.BudgetMax:
		fmt.Fprintf(&b, "💰 %.0f-%.0f (%s)\n", *o.BudgetMin, *o.BudgetMax, o.BudgetType)
	case o.BudgetMin != nil:
		fmt.Fprintf(&b, "💰 %.0f (%s)\n", *o.BudgetMin, o.BudgetType)
	}
	if o.ScoreReason != "" {
		fmt.Fprintf(&b, "%s\n", escape(o.ScoreReason))
	}
	fmt.Fprintf(&b, "🔗 %s\n", o.SourceURL)
	return b.String()
}

// formatBatch renders one digest message.
func formatBatch(records []model.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 %d new opportunities\n\n", len(records))
	for i := range records {
		b.WriteString(formatRecord(&records[i]))
		b.WriteString("\n")
	}
	return b.String()
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// sendMessage posts one message; any non-2xx status is an error.
func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send message: status %d", resp.StatusCode)
	}
	return nil
}

// Send delivers the records in batches of maxPerMsg. A failed batch
// stops the run; only records from batches that went through are
// returned as delivered, so an interrupted run re-notifies the rest
// next tick instead of losing them.
func (t *Telegram) Send(ctx context.Context, records []model.Opportunity) ([]model.Opportunity, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if !t.Configured() {
		if t.logger != nil {
			t.logger.Info("telegram not configured, skipping delivery", "records", len(records))
		}
		return nil, nil
	}

	var delivered []model.Opportunity
	for start := 0; start < len(records); start += t.maxPerMsg {
		end := start + t.maxPerMsg
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if err := t.sendMessage(ctx, formatBatch(batch)); err != nil {
			return delivered, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		delivered = append(delivered, batch...)
	}
	return delivered, nil
}
