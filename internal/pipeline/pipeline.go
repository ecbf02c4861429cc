// Package pipeline runs one discovery tick end to end: fetch all
// sources, filter, drop already-delivered records, score, persist,
// notify, and commit the delivered keys.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"prospect/internal/metrics"
	"prospect/internal/model"
	"prospect/internal/normalize"
	"prospect/internal/notify"
	"prospect/internal/scraper"
	"prospect/internal/seenset"
	"prospect/internal/store"
)

// Scorer is the slice of the analyzer the pipeline needs.
type Scorer interface {
	ScoreBatch(ctx context.Context, records []model.Opportunity) []model.Opportunity
}

// Pipeline wires the tick stages together.
type Pipeline struct {
	scrapers []scraper.Scraper
	filter   normalize.Filter
	seen     seenset.Set
	scorer   Scorer
	store    store.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

// New assembles a pipeline.
func New(scrapers []scraper.Scraper, filter normalize.Filter, seen seenset.Set,
	scorer Scorer, st store.Store, notifier notify.Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		scrapers: scrapers,
		filter:   filter,
		seen:     seen,
		scorer:   scorer,
		store:    st,
		notifier: notifier,
		logger:   logger,
	}
}

// fetchAll runs every scraper concurrently. A failed source
// contributes nothing; it never fails the tick.
func (p *Pipeline) fetchAll(ctx context.Context, log *slog.Logger) []model.Opportunity {
	type result struct {
		name    string
		records []model.Opportunity
		err     error
	}

	results := make(chan result, len(p.scrapers))
	var wg sync.WaitGroup
	for _, s := range p.scrapers {
		wg.Add(1)
		go func(s scraper.Scraper) {
			defer wg.Done()
			records, err := s.Fetch(ctx)
			results <- result{name: s.Name(), records: records, err: err}
		}(s)
	}
	wg.Wait()
	close(results)

	var all []model.Opportunity
	for r := range results {
		if r.err != nil {
			log.Warn("source fetch failed", "source", r.name, "error", r.err)
			metrics.RecordScrape(r.name, false, 0)
			continue
		}
		metrics.RecordScrape(r.name, true, len(r.records))
		all = append(all, r.records...)
	}
	return all
}

// dedup drops records already delivered and duplicates within the
// batch (two sources can surface the same posting in one tick).
func (p *Pipeline) dedup(ctx context.Context, records []model.Opportunity) ([]model.Opportunity, error) {
	inBatch := make(map[string]bool, len(records))
	fresh := make([]model.Opportunity, 0, len(records))
	for i := range records {
		key := records[i].NaturalKey
		if inBatch[key] {
			continue
		}
		inBatch[key] = true

		sent, err := p.seen.IsSent(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("seen set lookup for %s: %w", key, err)
		}
		if sent {
			continue
		}
		fresh = append(fresh, records[i])
	}
	return fresh, nil
}

// Run executes one tick. The returned error covers stages whose
// failure leaves work undone (seen set, store); source and delivery
// failures degrade instead.
func (p *Pipeline) Run(ctx context.Context) error {
	tickID := uuid.NewString()[:8]
	log := p.logger.With("tick", tickID)
	start := time.Now()

	failed := false
	defer func() {
		metrics.RecordTick(failed, time.Since(start).Milliseconds())
	}()

	fetched := p.fetchAll(ctx, log)
	filtered := p.filter.Apply(fetched)

	fresh, err := p.dedup(ctx, filtered)
	if err != nil {
		failed = true
		return err
	}

	if len(fresh) == 0 {
		log.Info("tick complete, nothing new",
			"fetched", len(fetched), "filtered", len(filtered),
			"duration", time.Since(start).Round(time.Millisecond))
		return nil
	}

	scored := p.scorer.ScoreBatch(ctx, fresh)

	inserted, updated, err := p.store.BatchUpsert(ctx, scored)
	if err != nil {
		failed = true
		return fmt.Errorf("persist batch: %w", err)
	}

	// Every new record is delivered; recommendation only colors the
	// message, it never withholds one.
	delivered, sendErr := p.notifier.Send(ctx, scored)
	metrics.RecordNotify(sendErr == nil, len(delivered))
	if sendErr != nil {
		// Undelivered records stay out of the seen set and retry on a
		// later tick.
		log.Warn("notification incomplete", "delivered", len(delivered),
			"new", len(scored), "error", sendErr)
	}

	if len(delivered) > 0 {
		keys := make([]string, len(delivered))
		for i := range delivered {
			keys[i] = delivered[i].NaturalKey
		}
		if err := p.seen.MarkSent(ctx, keys); err != nil {
			failed = true
			return fmt.Errorf("commit seen set: %w", err)
		}
		for _, key := range keys {
			if err := p.store.UpdateStatus(ctx, key, model.StatusNotified, ""); err != nil {
				log.Warn("status update failed", "key", key, "error", err)
			}
		}
	}

	log.Info("tick complete",
		"fetched", len(fetched),
		"filtered", len(filtered),
		"new", len(fresh),
		"inserted", inserted,
		"updated", updated,
		"notified", len(delivered),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}
