package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the pipeline.
// This is intentionally minimal and in-memory only.

var (
	mu sync.RWMutex

	scrapeRuns    = make(map[scrapeKey]int64)
	scrapeRecords = make(map[string]int64)

	llmScores = make(map[string]int64) // outcome: ok, fallback, parse_error

	notifyMessages  = make(map[string]int64) // outcome: ok, error
	notifyDelivered int64

	ticksTotal     int64
	tickFailures   int64
	tickDurationMs int64

	requestsTotal = make(map[reqKey]int64)
)

type scrapeKey struct {
	Source  string
	Success string
}

type reqKey struct {
	Method string
	Path   string
	Status int
}

// RecordScrape counts one fetch attempt for a source and the records
// it yielded.
func RecordScrape(source string, success bool, records int) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	scrapeRuns[scrapeKey{Source: source, Success: s}]++
	if records > 0 {
		scrapeRecords[source] += int64(records)
	}
}

// RecordScore counts one scoring outcome.
func RecordScore(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	llmScores[outcome]++
}

// RecordNotify counts one delivery attempt and how many records it
// carried.
func RecordNotify(success bool, delivered int) {
	mu.Lock()
	defer mu.Unlock()

	outcome := "error"
	if success {
		outcome = "ok"
	}
	notifyMessages[outcome]++
	if delivered > 0 {
		notifyDelivered += int64(delivered)
	}
}

// RecordTick counts one pipeline tick.
func RecordTick(failed bool, durationMs int64) {
	mu.Lock()
	defer mu.Unlock()

	ticksTotal++
	if failed {
		tickFailures++
	}
	tickDurationMs += durationMs
}

// RecordRequest increments the HTTP request counter.
func RecordRequest(method, path string, status int) {
	mu.Lock()
	defer mu.Unlock()
	requestsTotal[reqKey{Method: method, Path: path, Status: status}]++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP prospect_scrape_runs_total Total fetch attempts per source\n")
	b.WriteString("# TYPE prospect_scrape_runs_total counter\n")

	var sKeys []scrapeKey
	for k := range scrapeRuns {
		sKeys = append(sKeys, k)
	}
	sort.Slice(sKeys, func(i, j int) bool {
		if sKeys[i].Source != sKeys[j].Source {
			return sKeys[i].Source < sKeys[j].Source
		}
		return sKeys[i].Success < sKeys[j].Success
	})
	for _, k := range sKeys {
		fmt.Fprintf(&b, "prospect_scrape_runs_total{source=\"%s\",success=\"%s\"} %d\n",
			k.Source, k.Success, scrapeRuns[k])
	}

	b.WriteString("# HELP prospect_scrape_records_total Total records fetched per source\n")
	b.WriteString("# TYPE prospect_scrape_records_total counter\n")

	var sources []string
	for s := range scrapeRecords {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(&b, "prospect_scrape_records_total{source=\"%s\"} %d\n", s, scrapeRecords[s])
	}

	b.WriteString("# HELP prospect_llm_scores_total Total scoring calls by outcome\n")
	b.WriteString("# TYPE prospect_llm_scores_total counter\n")

	var outcomes []string
	for o := range llmScores {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "prospect_llm_scores_total{outcome=\"%s\"} %d\n", o, llmScores[o])
	}

	b.WriteString("# HELP prospect_notify_messages_total Total notification sends by outcome\n")
	b.WriteString("# TYPE prospect_notify_messages_total counter\n")

	var nKeys []string
	for o := range notifyMessages {
		nKeys = append(nKeys, o)
	}
	sort.Strings(nKeys)
	for _, o := range nKeys {
		fmt.Fprintf(&b, "prospect_notify_messages_total{outcome=\"%s\"} %d\n", o, notifyMessages[o])
	}

	b.WriteString("# HELP prospect_notify_delivered_total Total records delivered\n")
	b.WriteString("# TYPE prospect_notify_delivered_total counter\n")
	fmt.Fprintf(&b, "prospect_notify_delivered_total %d\n", notifyDelivered)

	b.WriteString("# HELP prospect_ticks_total Total pipeline ticks\n")
	b.WriteString("# TYPE prospect_ticks_total counter\n")
	fmt.Fprintf(&b, "prospect_ticks_total %d\n", ticksTotal)

	b.WriteString("# HELP prospect_tick_failures_total Total pipeline ticks that failed\n")
	b.WriteString("# TYPE prospect_tick_failures_total counter\n")
	fmt.Fprintf(&b, "prospect_tick_failures_total %d\n", tickFailures)

	b.WriteString("# HELP prospect_tick_duration_ms_sum Total tick duration in milliseconds\n")
	b.WriteString("# TYPE prospect_tick_duration_ms_sum counter\n")
	fmt.Fprintf(&b, "prospect_tick_duration_ms_sum %d\n", tickDurationMs)

	b.WriteString("# HELP prospect_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE prospect_http_requests_total counter\n")

	var rKeys []reqKey
	for k := range requestsTotal {
		rKeys = append(rKeys, k)
	}
	sort.Slice(rKeys, func(i, j int) bool {
		if rKeys[i].Method != rKeys[j].Method {
			return rKeys[i].Method < rKeys[j].Method
		}
		if rKeys[i].Path != rKeys[j].Path {
			return rKeys[i].Path < rKeys[j].Path
		}
		return rKeys[i].Status < rKeys[j].Status
	})
	for _, k := range rKeys {
		fmt.Fprintf(&b, "prospect_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	return b.String()
}

// Reset clears all counters. Only tests call this.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	scrapeRuns = make(map[scrapeKey]int64)
	scrapeRecords = make(map[string]int64)
	llmScores = make(map[string]int64)
	notifyMessages = make(map[string]int64)
	notifyDelivered = 0
	ticksTotal = 0
	tickFailures = 0
	tickDurationMs = 0
	requestsTotal = make(map[reqKey]int64)
}
