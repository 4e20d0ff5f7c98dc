package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	reg := New()
	c := reg.Counter("runbook_ingest_docs_total", "SOP documents ingested.")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("value = %d", c.Value())
	}
	if same := reg.Counter("runbook_ingest_docs_total", ""); same != c {
		t.Fatal("same name must return the same counter")
	}
}

func TestGauge(t *testing.T) {
	reg := New()
	g := reg.Gauge("runbook_ingest_queue_depth", "Pending documents.")
	g.Set(7)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 6 {
		t.Fatalf("value = %d", g.Value())
	}
}

func TestHistogram_Buckets(t *testing.T) {
	reg := New()
	h := reg.Histogram("runbook_investigate_seconds", "", []float64{0.1, 1, 10})
	for _, v := range []float64{0.05, 0.5, 0.5, 5, 100} {
		h.Observe(v)
	}

	out := reg.Render()
	for _, want := range []string{
		`runbook_investigate_seconds_bucket{le="0.1"} 1`,
		`runbook_investigate_seconds_bucket{le="1"} 3`,
		`runbook_investigate_seconds_bucket{le="10"} 4`,
		`runbook_investigate_seconds_bucket{le="+Inf"} 5`,
		`runbook_investigate_seconds_count 5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestHistogram_Since(t *testing.T) {
	reg := New()
	h := reg.Histogram("runbook_parse_seconds", "", nil)
	h.Since(time.Now().Add(-10 * time.Millisecond))
	_, _, sum, count := h.snapshot()
	if count != 1 || sum <= 0 {
		t.Fatalf("snapshot = (sum %g, count %d)", sum, count)
	}
}

func TestHistogram_DefaultBuckets(t *testing.T) {
	reg := New()
	h := reg.Histogram("runbook_embed_seconds", "", nil)
	if len(h.bounds) != len(DefaultBuckets) {
		t.Fatalf("bounds = %v", h.bounds)
	}
}

func TestWithLabels(t *testing.T) {
	if got := WithLabels("runbook_api_requests_total", "route", "/api/investigate"); got != `runbook_api_requests_total{route="/api/investigate"}` {
		t.Errorf("got %q", got)
	}
	if got := WithLabels("foo", "a", "1", "b", "2"); got != `foo{a="1",b="2"}` {
		t.Errorf("got %q", got)
	}
	// Odd pair count leaves the name alone.
	if got := WithLabels("foo", "orphan"); got != "foo" {
		t.Errorf("got %q", got)
	}
}

func TestRender_LabelledFamily(t *testing.T) {
	reg := New()
	reg.Counter(WithLabels("runbook_api_requests_total", "route", "/api/health"), "API requests by route.").Inc()
	reg.Counter(WithLabels("runbook_api_requests_total", "route", "/api/investigate"), "API requests by route.").Add(3)

	out := reg.Render()
	if strings.Count(out, "# TYPE runbook_api_requests_total counter") != 1 {
		t.Fatalf("labelled series must share one family:\n%s", out)
	}
	if !strings.Contains(out, `runbook_api_requests_total{route="/api/health"} 1`) {
		t.Errorf("missing health series:\n%s", out)
	}
	if !strings.Contains(out, `runbook_api_requests_total{route="/api/investigate"} 3`) {
		t.Errorf("missing investigate series:\n%s", out)
	}
}

func TestRender_HelpAndOrder(t *testing.T) {
	reg := New()
	reg.Counter("zz_last_total", "Registered first.")
	reg.Gauge("aa_first_depth", "Registered second.")

	out := reg.Render()
	if !strings.Contains(out, "# HELP zz_last_total Registered first.") {
		t.Errorf("missing help line:\n%s", out)
	}
	if strings.Index(out, "zz_last_total") > strings.Index(out, "aa_first_depth") {
		t.Error("families must render in registration order")
	}
}

func TestRender_LabelledHistogram(t *testing.T) {
	reg := New()
	h := reg.Histogram(WithLabels("runbook_stage_seconds", "stage", "embed"), "", []float64{1})
	h.Observe(0.5)

	out := reg.Render()
	if !strings.Contains(out, `runbook_stage_seconds_bucket{le="1",stage="embed"} 1`) {
		t.Errorf("bucket labels wrong:\n%s", out)
	}
	if !strings.Contains(out, `runbook_stage_seconds_sum{stage="embed"} 0.5`) {
		t.Errorf("sum labels wrong:\n%s", out)
	}
	if !strings.Contains(out, `runbook_stage_seconds_count{stage="embed"} 1`) {
		t.Errorf("count labels wrong:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	reg := New()
	reg.Counter("runbook_up", "").Inc()

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestConcurrentUse(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Counter("runbook_races_total", "").Inc()
				reg.Histogram("runbook_race_seconds", "", nil).Observe(0.01)
				_ = reg.Render()
			}
		}()
	}
	wg.Wait()
	if got := reg.Counter("runbook_races_total", "").Value(); got != 800 {
		t.Fatalf("counter = %d", got)
	}
}
