package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"prospect/internal/model"
)

func scored(key, title string, score int) model.Opportunity {
	return model.Opportunity{
		NaturalKey:  key,
		Platform:    "remotive",
		Title:       title,
		SourceURL:   "https://example.com/" + key,
		Score:       &score,
		ScoreReason: "looks promising",
		Status:      model.StatusScored,
	}
}

func TestSendPostsToBotEndpoint(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "123:abc", "42", 10, 5*time.Second, nil)
	delivered, err := tg.Send(context.Background(), []model.Opportunity{scored("remotive_1", "Python Dev", 85)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("delivered = %d", len(delivered))
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.ChatID != "42" || gotBody.ParseMode != "Markdown" {
		t.Errorf("body = %+v", gotBody)
	}
	if !strings.Contains(gotBody.Text, "Python Dev") || !strings.Contains(gotBody.Text, "score 85") {
		t.Errorf("text = %q", gotBody.Text)
	}
	if !strings.Contains(gotBody.Text, "https://example.com/remotive_1") {
		t.Errorf("text missing link: %q", gotBody.Text)
	}
}

func TestSendBatches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "t", "c", 2, 5*time.Second, nil)
	var records []model.Opportunity
	for i := 0; i < 5; i++ {
		records = append(records, scored(model.NaturalKey("x", string(rune('a'+i))), "T", 80))
	}
	delivered, err := tg.Send(context.Background(), records)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(delivered) != 5 {
		t.Errorf("delivered = %d", len(delivered))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("messages sent = %d, want 3 (batches of 2)", got)
	}
}

func TestSendFailureReturnsPartialDelivery(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "t", "c", 2, 5*time.Second, nil)
	var records []model.Opportunity
	for i := 0; i < 4; i++ {
		records = append(records, scored(model.NaturalKey("x", string(rune('a'+i))), "T", 80))
	}
	delivered, err := tg.Send(context.Background(), records)
	if err == nil {
		t.Fatal("expected error from second batch")
	}
	if len(delivered) != 2 {
		t.Errorf("delivered = %d, want 2 (only the first batch)", len(delivered))
	}
}

func TestSendUnconfiguredIsNoop(t *testing.T) {
	tg := NewTelegram("https://api.telegram.org", "", "", 10, time.Second, nil)
	delivered, err := tg.Send(context.Background(), []model.Opportunity{scored("x_1", "T", 80)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if delivered != nil {
		t.Errorf("delivered = %v, want nil", delivered)
	}
}

func TestFormatRecordEscapesMarkdown(t *testing.T) {
	o := scored("x_1", "Fix [urgent] my_app *now*", 70)
	o.Company = "Big_Corp"
	text := formatRecord(&o)

	for _, want := range []string{`Fix \[urgent\] my\_app \*now\*`, `Big\_Corp`} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing escaped %q", text, want)
		}
	}
}

func TestFormatRecordOptionalFields(t *testing.T) {
	o := scored("x_1", "T", 70)
	min, max := 500.0, 900.0
	o.BudgetMin, o.BudgetMax = &min, &max
	o.BudgetType = model.BudgetFixed
	posted := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	o.PostedAt = &posted
	o.Location = "Remote"

	text := formatRecord(&o)
	if !strings.Contains(text, "💰 500-900 (fixed)") {
		t.Errorf("budget line missing: %q", text)
	}
	if !strings.Contains(text, "📅 2026-08-19") {
		t.Errorf("date line missing: %q", text)
	}
	if !strings.Contains(text, "📍 Remote") {
		t.Errorf("location line missing: %q", text)
	}
}
