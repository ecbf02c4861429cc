package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"prospect/internal/migrate"
	"prospect/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := openSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := migrate.Run(s.DB(), "sqlite", "../../db/migrations/sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func sample(key string) model.Opportunity {
	min, max := 500.0, 1000.0
	posted := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return model.Opportunity{
		NaturalKey:     key,
		Platform:       "remotive",
		Title:          "Python Developer",
		Description:    "Build data pipelines in Python.",
		SourceURL:      "https://remotive.com/jobs/1",
		BudgetMin:      &min,
		BudgetMax:      &max,
		BudgetType:     model.BudgetFixed,
		SkillsRequired: []string{"Python", "SQL"},
		Company:        "Acme",
		Location:       "Worldwide",
		PostedAt:       &posted,
		ScrapedAt:      time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC),
		Status:         model.StatusDiscovered,
	}
}

func TestUpsertInsertThenGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	o := sample("remotive_1")
	created, err := s.Upsert(ctx, &o)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created {
		t.Fatal("first upsert must report created")
	}

	got, err := s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatalf("GetByNaturalKey: %v", err)
	}
	if got.Title != o.Title || got.Platform != o.Platform || got.Company != "Acme" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.BudgetMin == nil || *got.BudgetMin != 500 || got.BudgetMax == nil || *got.BudgetMax != 1000 {
		t.Errorf("budget mismatch: %+v", got)
	}
	if len(got.SkillsRequired) != 2 || got.SkillsRequired[0] != "Python" {
		t.Errorf("skills mismatch: %v", got.SkillsRequired)
	}
	if got.PostedAt == nil || !got.PostedAt.Equal(*o.PostedAt) {
		t.Errorf("posted_at mismatch: %v", got.PostedAt)
	}
	if got.Status != model.StatusDiscovered {
		t.Errorf("status = %q", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on insert")
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetByNaturalKey(context.Background(), "nope_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertPreservesCreatedAtAndStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	o := sample("remotive_1")
	if _, err := s.Upsert(ctx, &o); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, "remotive_1", model.StatusNotified, ""); err != nil {
		t.Fatal(err)
	}
	first, err := s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	again := sample("remotive_1")
	again.Title = "Senior Python Developer"
	created, err := s.Upsert(ctx, &again)
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if created {
		t.Fatal("second upsert must report updated, not created")
	}

	got, err := s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Senior Python Developer" {
		t.Errorf("title not refreshed: %q", got.Title)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, got.CreatedAt)
	}
	if got.Status != model.StatusNotified {
		t.Errorf("status = %q, re-discovery must not reset lifecycle", got.Status)
	}
	if !got.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at not advanced: %v -> %v", first.UpdatedAt, got.UpdatedAt)
	}
}

func TestUpsertKeepsScoreWhenIncomingUnscored(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	scored := sample("remotive_1")
	score := 85
	scored.Score = &score
	scored.ScoreReason = "good match"
	scored.ScoreDetails = &model.ScoreDetails{MatchScore: 90, Recommended: true}
	scored.Status = model.StatusScored
	if _, err := s.Upsert(ctx, &scored); err != nil {
		t.Fatal(err)
	}

	rediscovered := sample("remotive_1")
	if _, err := s.Upsert(ctx, &rediscovered); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Score == nil || *got.Score != 85 {
		t.Errorf("score lost on unscored upsert: %v", got.Score)
	}
	if got.ScoreReason != "good match" {
		t.Errorf("score reason lost: %q", got.ScoreReason)
	}
	if got.ScoreDetails == nil || got.ScoreDetails.MatchScore != 90 {
		t.Errorf("score details lost: %+v", got.ScoreDetails)
	}
}

func TestBatchUpsertCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := sample("remotive_1")
	if _, err := s.Upsert(ctx, &a); err != nil {
		t.Fatal(err)
	}

	batch := []model.Opportunity{sample("remotive_1"), sample("remotive_2"), sample("wwr_abc")}
	batch[2].Platform = "wwr"
	inserted, updated, err := s.BatchUpsert(ctx, batch)
	if err != nil {
		t.Fatalf("BatchUpsert: %v", err)
	}
	if inserted != 2 || updated != 1 {
		t.Errorf("inserted/updated = %d/%d, want 2/1", inserted, updated)
	}
}

func TestTopOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	scores := map[string]int{"a_1": 90, "a_2": 40, "a_3": 75, "a_4": 85}
	for key, sc := range scores {
		o := sample(key)
		o.Platform = "a"
		v := sc
		o.Score = &v
		o.ScoreReason = "r"
		o.Status = model.StatusScored
		if _, err := s.Upsert(ctx, &o); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpdateStatus(ctx, "a_4", model.StatusNotified, ""); err != nil {
		t.Fatal(err)
	}

	top, err := s.Top(ctx, 10, 70, []model.Status{model.StatusNotified})
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d records, want 2 (min score and status filters)", len(top))
	}
	if *top[0].Score != 90 || *top[1].Score != 75 {
		t.Errorf("order = [%d %d], want [90 75]", *top[0].Score, *top[1].Score)
	}

	limited, err := s.Top(ctx, 1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not applied: %d rows", len(limited))
	}
}

func TestListByStatusAndPlatform(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"remotive_1", "remotive_2"} {
		o := sample(key)
		if _, err := s.Upsert(ctx, &o); err != nil {
			t.Fatal(err)
		}
	}
	w := sample("wwr_1")
	w.Platform = "wwr"
	if _, err := s.Upsert(ctx, &w); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, "remotive_2", model.StatusScored, ""); err != nil {
		t.Fatal(err)
	}

	discovered, err := s.ListByStatus(ctx, model.StatusDiscovered, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(discovered) != 2 {
		t.Errorf("discovered = %d, want 2", len(discovered))
	}

	remotive, err := s.ListByPlatform(ctx, "remotive", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remotive) != 2 {
		t.Errorf("remotive = %d, want 2", len(remotive))
	}
}

func TestUpdateStatusRejectsRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	o := sample("remotive_1")
	if _, err := s.Upsert(ctx, &o); err != nil {
		t.Fatal(err)
	}
	for _, next := range []model.Status{model.StatusScored, model.StatusNotified, model.StatusApplied, model.StatusWon} {
		if err := s.UpdateStatus(ctx, "remotive_1", next, ""); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", next, err)
		}
	}

	err := s.UpdateStatus(ctx, "remotive_1", model.StatusDiscovered, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateStatus(ctx, "nope_1", model.StatusScored, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateStatus(ctx, "remotive_1", model.Status("bogus"), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for unknown status", err)
	}
}

func TestUpdateStatusNotes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	o := sample("remotive_1")
	if _, err := s.Upsert(ctx, &o); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(ctx, "remotive_1", model.StatusScored, "looks promising"); err != nil {
		t.Fatalf("UpdateStatus with notes: %v", err)
	}
	got, err := s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != "looks promising" {
		t.Errorf("notes = %q, want %q", got.Notes, "looks promising")
	}

	// Empty notes on a later update keep the existing text.
	if err := s.UpdateStatus(ctx, "remotive_1", model.StatusNotified, ""); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != "looks promising" {
		t.Errorf("empty update clobbered notes: %q", got.Notes)
	}

	// Re-discovery via upsert must not touch notes either.
	again := sample("remotive_1")
	if _, err := s.Upsert(ctx, &again); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetByNaturalKey(ctx, "remotive_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != "looks promising" {
		t.Errorf("upsert clobbered notes: %q", got.Notes)
	}
}

func TestUpsertConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Several writers racing on a brand-new key must all succeed; the
	// unique index turns the losers into updates, last writer wins.
	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := sample("remotive_race")
			_, err := s.Upsert(ctx, &o)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Upsert: %v", err)
		}
	}

	var n int
	if err := s.(*sqliteStore).db.QueryRow(
		`SELECT COUNT(*) FROM opportunities WHERE natural_key = 'remotive_race'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, sc := range []int{90, 85, 60} {
		o := sample(model.NaturalKey("remotive", string(rune('a'+i))))
		v := sc
		o.Score = &v
		o.ScoreReason = "r"
		o.Status = model.StatusScored
		if _, err := s.Upsert(ctx, &o); err != nil {
			t.Fatal(err)
		}
	}
	unscored := sample("wwr_x")
	unscored.Platform = "wwr"
	if _, err := s.Upsert(ctx, &unscored); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total = %d", stats.Total)
	}
	if stats.ByStatus["scored"] != 3 || stats.ByStatus["discovered"] != 1 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}
	if stats.ByPlatform["remotive"] != 3 || stats.ByPlatform["wwr"] != 1 {
		t.Errorf("by_platform = %v", stats.ByPlatform)
	}
	if stats.HighScoreCount != 2 {
		t.Errorf("high_score_count = %d, want 2 (scores >= 80)", stats.HighScoreCount)
	}
	want := (90.0 + 85.0 + 60.0) / 3.0
	if stats.AvgScore < want-0.01 || stats.AvgScore > want+0.01 {
		t.Errorf("avg_score = %f, want %f", stats.AvgScore, want)
	}
}

var _ interface{ DB() *sql.DB } = (*sqliteStore)(nil)
