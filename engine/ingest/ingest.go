// Package ingest provides the SOP ingestion pipeline that processes parsed
// runbook records through validation, embedding, and graph storage stages.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/engine/graph"
	"github.com/RunbookAI/runbook-mvp/pkg/fn"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/RunbookAI/runbook-mvp/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for parsed SOP records.
	IngestSubject = "runbook.ingest"
	// DLQSubject is the dead letter queue subject for failed records.
	DLQSubject = "runbook.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3

	// batchWorkers bounds concurrent records inside one batch.
	batchWorkers = 4
)

// embedRetry governs retries of the remote embedding call.
var embedRetry = fn.RetryOpts{Attempts: 3, BaseWait: 100 * time.Millisecond, MaxWait: time.Second}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder   llm.Embedder
	GraphStore *graph.GraphStore
	Logger     *slog.Logger
}

// --- Pipeline stages ---

// Validate checks an SOPRecord via domain validation.
var Validate fn.Stage[domain.SOPRecord, domain.SOPRecord] = func(_ context.Context, rec domain.SOPRecord) fn.Result[domain.SOPRecord] {
	if err := domain.ValidateSOPRecord(rec); err != nil {
		return fn.Err[domain.SOPRecord](domain.NewStageError(domain.StageIngest, rec.Title, err))
	}
	return fn.Ok(rec)
}

// NewEmbed creates a stage that embeds the record summary. Step embeddings
// are handled inside the graph store so they commit with the transaction.
func NewEmbed(embedder llm.Embedder) fn.Stage[domain.SOPRecord, EmbeddedRecord] {
	return func(ctx context.Context, rec domain.SOPRecord) fn.Result[EmbeddedRecord] {
		emb, err := embedder.Embed(ctx, rec.Summary)
		if err != nil {
			return fn.Err[EmbeddedRecord](domain.NewStageError(domain.StageIngest, rec.Title,
				fmt.Errorf("%w: summary embedding: %v", domain.ErrIngestion, err)))
		}
		return fn.Ok(EmbeddedRecord{Record: rec, SummaryEmbedding: emb})
	}
}

// NewStore creates a stage that merges the record into the knowledge graph.
func NewStore(gs *graph.GraphStore) fn.Stage[EmbeddedRecord, string] {
	return func(ctx context.Context, er EmbeddedRecord) fn.Result[string] {
		return fn.FromPair(er.Record.Title, gs.UpsertSOP(ctx, er.Record, er.SummaryEmbedding))
	}
}

// LoggedTap returns a stage that logs entry into the named stage.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, _ T) {
		log.Info("stage.enter", "stage", name)
	})
}

// NewPipeline constructs the full ingestion pipeline: Validate → Embed →
// Store, each stage traced, with the remote embedding call retried.
func NewPipeline(deps Deps) fn.Stage[domain.SOPRecord, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	validate := fn.TracedStage("ingest.validate", Validate)
	embed := fn.TracedStage("ingest.embed", fn.RetryStage(embedRetry, NewEmbed(deps.Embedder)))
	store := fn.TracedStage("ingest.store", NewStore(deps.GraphStore))

	validated := fn.Then(LoggedTap[domain.SOPRecord]("validate", log), validate)
	embedded := fn.Then(validated, fn.Then(LoggedTap[domain.SOPRecord]("embed", log), embed))
	return fn.Then(embedded, fn.Then(LoggedTap[EmbeddedRecord]("store", log), store))
}

// IngestBatch ensures the similarity indexes exist, then runs the records
// through the pipeline with bounded concurrency. Failures are reported per
// record; one bad document never blocks the rest of the batch.
func IngestBatch(ctx context.Context, deps Deps, records []domain.SOPRecord) ([]Report, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := deps.GraphStore.EnsureSimilarityIndexes(ctx, deps.Embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	pipeline := NewPipeline(deps)
	reports := fn.ParMap(records, batchWorkers, func(rec domain.SOPRecord) Report {
		result := pipeline(ctx, rec)
		if result.IsErr() {
			_, err := result.Unwrap()
			log.Error("ingest: record failed", "title", rec.Title, "error", err)
			return Report{Title: rec.Title, Err: err}
		}
		title, _ := result.Unwrap()
		log.Info("ingest: record stored", "title", title, "steps", len(rec.Steps))
		return Report{Title: title}
	})
	return reports, nil
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Record  domain.SOPRecord `json:"record"`
	Error   string           `json:"error"`
	Retries int              `json:"retries"`
}

// StartConsumer starts a NATS consumer that runs published SOP records
// through the ingestion pipeline with retry and DLQ support. The similarity
// indexes are declared up front: the consumer may be the only writer a
// deployment has, and SOPs must never land in an unindexed graph.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := deps.GraphStore.EnsureSimilarityIndexes(context.Background(), deps.Embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	pipeline := NewPipeline(deps)

	return natsutil.Subscribe(nc, IngestSubject, func(ctx context.Context, rec domain.SOPRecord, msg *nats.Msg) {
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, rec)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"title", rec.Title,
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{
					Record:  rec,
					Error:   pipeErr.Error(),
					Retries: retries,
				}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(IngestSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			title, _ := result.Unwrap()
			log.Info("ingest: success", "title", title)
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
