package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/engine/graph"
)

// --- Test doubles ---

type fakeEmbedder struct {
	dims  int
	err   error
	failN int // fail the first N Embed calls, then succeed
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failN > 0 {
		f.failN--
		return nil, errors.New("transient embed failure")
	}
	v := make([]float32, f.dims)
	v[0] = float32(len(text))
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func validRecord() domain.SOPRecord {
	return domain.SOPRecord{
		Title:     "Disk Space Alert Runbook",
		AlertType: "DiskSpaceHigh",
		Summary:   "Investigate and remediate high disk usage.",
		Steps: []domain.SOPStep{
			{Order: 1, Text: "Check current disk usage with df -h."},
			{Order: 2, Text: "Rotate or archive old logs."},
		},
		SQLQueries: []string{"SELECT host, usage FROM disk_metrics"},
	}
}

// --- Stages ---

func TestValidateStage_Valid(t *testing.T) {
	result := Validate(context.Background(), validRecord())
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("expected ok, got error: %v", err)
	}
}

func TestValidateStage_MissingAlertType(t *testing.T) {
	rec := validRecord()
	rec.AlertType = ""
	result := Validate(context.Background(), rec)
	if !result.IsErr() {
		t.Fatal("expected error for missing alert type")
	}
	_, err := result.Unwrap()
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != domain.StageIngest {
		t.Fatalf("expected ingest stage error, got %v", err)
	}
}

func TestValidateStage_NoSteps(t *testing.T) {
	rec := validRecord()
	rec.Steps = nil
	if result := Validate(context.Background(), rec); !result.IsErr() {
		t.Fatal("expected error for missing steps")
	}
}

func TestEmbedStage(t *testing.T) {
	stage := NewEmbed(&fakeEmbedder{dims: 4})
	result := stage(context.Background(), validRecord())
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("embed stage: %v", err)
	}
	er, _ := result.Unwrap()
	if len(er.SummaryEmbedding) != 4 {
		t.Fatalf("embedding length = %d", len(er.SummaryEmbedding))
	}
	if er.Record.Title != "Disk Space Alert Runbook" {
		t.Errorf("record not carried through: %+v", er.Record)
	}
}

func TestEmbedStage_Error(t *testing.T) {
	stage := NewEmbed(&fakeEmbedder{dims: 4, err: errors.New("embed down")})
	result := stage(context.Background(), validRecord())
	if !result.IsErr() {
		t.Fatal("expected error")
	}
	_, err := result.Unwrap()
	if !errors.Is(err, domain.ErrIngestion) {
		t.Fatalf("expected ErrIngestion, got %v", err)
	}
}

// --- Pipeline ---

func TestPipeline_Success(t *testing.T) {
	sess := newTrackingSession()
	deps := Deps{
		Embedder:   &fakeEmbedder{dims: 4},
		GraphStore: graph.NewWithOpener(trackingOpener{sess}, &fakeEmbedder{dims: 4}),
	}
	pipeline := NewPipeline(deps)

	result := pipeline(context.Background(), validRecord())
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("pipeline: %v", err)
	}
	title, _ := result.Unwrap()
	if title != "Disk Space Alert Runbook" {
		t.Errorf("title = %q", title)
	}
	if len(sess.recorded()) == 0 {
		t.Fatal("no graph writes recorded")
	}
}

func TestPipeline_InvalidRecordNeverReachesGraph(t *testing.T) {
	sess := newTrackingSession()
	deps := Deps{
		Embedder:   &fakeEmbedder{dims: 4},
		GraphStore: graph.NewWithOpener(trackingOpener{sess}, &fakeEmbedder{dims: 4}),
	}
	pipeline := NewPipeline(deps)

	rec := validRecord()
	rec.Steps[0].Text = ""
	result := pipeline(context.Background(), rec)
	if !result.IsErr() {
		t.Fatal("expected error")
	}
	if len(sess.recorded()) != 0 {
		t.Fatal("invalid record reached the graph")
	}
}

func TestPipeline_EmbedRetriesTransientFailure(t *testing.T) {
	sess := newTrackingSession()
	embedder := &fakeEmbedder{dims: 4, failN: 1}
	deps := Deps{
		Embedder:   embedder,
		GraphStore: graph.NewWithOpener(trackingOpener{sess}, &fakeEmbedder{dims: 4}),
	}
	pipeline := NewPipeline(deps)

	result := pipeline(context.Background(), validRecord())
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("pipeline should recover from one transient failure: %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("embed calls = %d, want 2", embedder.calls)
	}
}

// --- IngestBatch ---

func TestIngestBatch_PartialFailure(t *testing.T) {
	sess := newTrackingSession()
	deps := Deps{
		Embedder:   &fakeEmbedder{dims: 4},
		GraphStore: graph.NewWithOpener(trackingOpener{sess}, &fakeEmbedder{dims: 4}),
	}

	bad := validRecord()
	bad.Title = ""
	records := []domain.SOPRecord{validRecord(), bad, validRecord()}

	reports, err := IngestBatch(context.Background(), deps, records)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("reports = %d", len(reports))
	}
	if reports[0].Failed() || reports[2].Failed() {
		t.Errorf("valid records reported failed: %+v", reports)
	}
	if !reports[1].Failed() {
		t.Error("invalid record not reported failed")
	}

	// Index DDL runs once before any record.
	ddl := 0
	for _, c := range sess.recorded() {
		if strings.Contains(c, "IF NOT EXISTS") {
			ddl++
		}
	}
	if ddl != 4 {
		t.Errorf("expected 4 index statements, got %d", ddl)
	}
}

func TestIngestBatch_Empty(t *testing.T) {
	sess := newTrackingSession()
	deps := Deps{
		Embedder:   &fakeEmbedder{dims: 4},
		GraphStore: graph.NewWithOpener(trackingOpener{sess}, &fakeEmbedder{dims: 4}),
	}

	reports, err := IngestBatch(context.Background(), deps, nil)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("reports = %+v", reports)
	}
}

// --- Consumer ---

func TestStartConsumer_DeclaresIndexesFirst(t *testing.T) {
	// A failing index declaration must abort the consumer before it ever
	// touches the connection; a nil conn would panic otherwise.
	sess := newTrackingSession()
	sess.runErr = errors.New("neo4j down")
	deps := Deps{
		Embedder:   &fakeEmbedder{dims: 4},
		GraphStore: graph.NewWithOpener(trackingOpener{sess}, &fakeEmbedder{dims: 4}),
	}

	sub, err := StartConsumer(nil, deps)
	if err == nil {
		t.Fatal("expected error from index declaration")
	}
	if sub != nil {
		t.Fatal("subscription returned despite failure")
	}
	if len(sess.recorded()) == 0 {
		t.Fatal("index DDL never attempted")
	}
}

func TestReportFailed(t *testing.T) {
	if (Report{Title: "x"}).Failed() {
		t.Error("clean report marked failed")
	}
	if !(Report{Title: "x", Err: errors.New("boom")}).Failed() {
		t.Error("failed report not marked failed")
	}
}
