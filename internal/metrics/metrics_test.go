package metrics

import (
	"strings"
	"testing"
)

func TestExportCounters(t *testing.T) {
	Reset()
	defer Reset()

	RecordScrape("remotive", true, 12)
	RecordScrape("remotive", true, 3)
	RecordScrape("upwork", false, 0)
	RecordScore("ok")
	RecordScore("fallback")
	RecordNotify(true, 5)
	RecordTick(false, 120)
	RecordTick(true, 80)
	RecordRequest("GET", "/v1/stats", 200)

	out := Export()
	for _, want := range []string{
		`prospect_scrape_runs_total{source="remotive",success="true"} 2`,
		`prospect_scrape_runs_total{source="upwork",success="false"} 1`,
		`prospect_scrape_records_total{source="remotive"} 15`,
		`prospect_llm_scores_total{outcome="fallback"} 1`,
		`prospect_llm_scores_total{outcome="ok"} 1`,
		`prospect_notify_messages_total{outcome="ok"} 1`,
		`prospect_notify_delivered_total 5`,
		`prospect_ticks_total 2`,
		`prospect_tick_failures_total 1`,
		`prospect_tick_duration_ms_sum 200`,
		`prospect_http_requests_total{method="GET",path="/v1/stats",status="200"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q\n%s", want, out)
		}
	}
}

func TestExportStableOrder(t *testing.T) {
	Reset()
	defer Reset()

	RecordScrape("wwr", true, 1)
	RecordScrape("arbeitnow", true, 1)

	out := Export()
	if strings.Index(out, `source="arbeitnow"`) > strings.Index(out, `source="wwr"`) {
		t.Error("sources not sorted in export")
	}
}
