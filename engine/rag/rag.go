// Package rag orchestrates alert investigation. It accepts an alert type and
// a discrepancy context reference, retrieves relevant SOP steps by hybrid
// similarity search, pulls the exact ordered procedure through structured
// graph QA, and synthesizes both into a numbered checklist.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/engine/graph"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// StepSearcher abstracts hybrid similarity retrieval over SOP steps, plus the
// exact-match procedure lookup that anchors the coverage check.
type StepSearcher interface {
	SimilarSteps(ctx context.Context, embedding []float32, queryText string, k int) ([]graph.StepHit, error)
	AlertProcedure(ctx context.Context, alertType string) (graph.Procedure, error)
}

// StructuredAnswerer abstracts the graph QA path.
type StructuredAnswerer interface {
	Ask(ctx context.Context, question string) (graph.QAResult, error)
}

// Options configures the investigation pipeline behaviour.
type Options struct {
	TopK          int
	Temperature   float64
	Model         string
	Compress      bool
	SearchTimeout time.Duration
	// Progress, when set, receives a short status line as each phase starts.
	Progress func(msg string)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		Temperature:   0.2,
		Compress:      true,
		SearchTimeout: 10 * time.Second,
	}
}

// Service runs the investigation pipeline.
type Service struct {
	llm    llm.CompletionClient
	embed  llm.Embedder
	search StepSearcher
	qa     StructuredAnswerer
	opts   Options
	logger *slog.Logger
}

// New creates an investigation Service.
func New(client llm.CompletionClient, embedder llm.Embedder, search StepSearcher, qa StructuredAnswerer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Service{
		llm:    client,
		embed:  embedder,
		search: search,
		qa:     qa,
		opts:   opts,
		logger: logger,
	}
}

// Checklist is the final investigation answer.
type Checklist struct {
	AlertType  string          `json:"alert_type"`
	ContextRef string          `json:"context_ref"`
	Text       string          `json:"text"`
	Sources    []graph.StepHit `json:"sources,omitempty"`
	Structured string          `json:"structured,omitempty"`
	RequestID  string          `json:"request_id"`
}

const synthesisPrompt = `You are an L2 Support engineer.
Alert type: %s
Discrepancy file: %s

### SOP Context ###
%s

### Structured Steps & SQL ###
%s

Compose a clear, numbered checklist the engineer must follow, referencing SQL
snippets where appropriate. Conclude with expected resolution verification.`

const compressPrompt = `Extract only the sentences relevant to the query below.
Return the extracted text verbatim, or NO_OUTPUT if nothing is relevant.

Query: %s

Passage:
%s`

// Investigate runs the full pipeline for one alert. The two retrieval paths
// run concurrently: similarity search degrades to an empty context on
// failure, while a structured QA failure aborts the investigation. An alert
// type with no structured rows and no exact-match procedure has no coverage
// and no checklist is synthesized.
func (s *Service) Investigate(ctx context.Context, inv domain.Investigation) (*Checklist, error) {
	if err := domain.ValidateInvestigation(inv); err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	log := s.logger.With("request_id", requestID, "alert_type", inv.AlertType)
	log.Info("investigation start", "context_ref", inv.ContextRef)

	s.progress("Crafting discrepancy prompt and embedding")
	message := fmt.Sprintf(
		"Production alert type '%s'. Discrepancy data at %s. Provide step-by-step investigation.",
		inv.AlertType, inv.ContextRef)

	emb, err := s.embed.Embed(ctx, message)
	if err != nil {
		// Similarity search is impossible without the query vector, but the
		// structured path can still answer. Degrade rather than abort.
		log.Warn("query embedding failed, similarity search skipped", "error", err)
		emb = nil
	}

	var (
		hits  []graph.StepHit
		qaRes graph.QAResult
	)
	g, gctx := errgroup.WithContext(ctx)

	if emb != nil {
		s.progress("Retrieving relevant SOP steps (hybrid search)")
	}
	s.progress("Running graph QA for ordered steps and SQL")

	g.Go(func() error {
		if emb == nil {
			return nil
		}
		searchCtx, cancel := context.WithTimeout(gctx, s.opts.SearchTimeout)
		defer cancel()
		found, err := s.search.SimilarSteps(searchCtx, emb, message, s.opts.TopK)
		if err != nil {
			log.Warn("similarity search failed, continuing without", "error", err)
			return nil
		}
		hits = found
		return nil
	})

	g.Go(func() error {
		question := fmt.Sprintf(
			"List the ordered investigation steps and SQL for alert type '%s'.", inv.AlertType)
		res, err := s.qa.Ask(gctx, question)
		if err != nil {
			return err
		}
		qaRes = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info("retrieval done", "similarity_hits", len(hits), "structured_rows", qaRes.Rows)

	// Similarity hits alone do not prove coverage: the step index is global,
	// so nearest neighbours surface even for alert types that were never
	// ingested. When the QA path finds nothing, coverage is decided by the
	// exact-match procedure for this alert type.
	if qaRes.Rows == 0 {
		proc, perr := s.search.AlertProcedure(ctx, inv.AlertType)
		if perr != nil {
			return nil, domain.NewStageError(domain.StageStructured, inv.AlertType,
				fmt.Errorf("%w: coverage check: %v", domain.ErrRetrieval, perr))
		}
		if proc.Empty() {
			return nil, fmt.Errorf("%q: %w", inv.AlertType, domain.ErrNoCoverage)
		}
	}

	similarityContext := s.buildContext(ctx, message, hits)

	s.progress("Synthesizing final checklist")
	prompt := fmt.Sprintf(synthesisPrompt, inv.AlertType, inv.ContextRef, similarityContext, qaRes.Answer)
	opts := []llm.Option{llm.WithTemperature(s.opts.Temperature)}
	if s.opts.Model != "" {
		opts = append(opts, llm.WithModel(s.opts.Model))
	}
	text, err := s.llm.Complete(ctx, prompt, opts...)
	if err != nil {
		return nil, domain.NewStageError(domain.StageSynthesis, inv.AlertType,
			fmt.Errorf("%w: %v", domain.ErrGeneration, err))
	}

	s.progress("Checklist ready")
	return &Checklist{
		AlertType:  inv.AlertType,
		ContextRef: inv.ContextRef,
		Text:       strings.TrimSpace(text),
		Sources:    hits,
		Structured: qaRes.Answer,
		RequestID:  requestID,
	}, nil
}

// buildContext renders retrieved steps into the synthesis context, optionally
// compressing each passage down to query-relevant sentences first.
func (s *Service) buildContext(ctx context.Context, query string, hits []graph.StepHit) string {
	if len(hits) == 0 {
		return "(no similar SOP steps found)"
	}
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		text := h.Text
		if s.opts.Compress {
			text = s.compress(ctx, query, text)
			if text == "" {
				continue
			}
		}
		parts = append(parts, fmt.Sprintf("[%s, step %d] %s", h.SOPTitle, h.Order, text))
	}
	if len(parts) == 0 {
		return "(no similar SOP steps found)"
	}
	return strings.Join(parts, "\n")
}

// compress runs the LLM extractor over one passage. Failures fall back to the
// raw passage; an explicit NO_OUTPUT drops it.
func (s *Service) compress(ctx context.Context, query, passage string) string {
	out, err := s.llm.Complete(ctx, fmt.Sprintf(compressPrompt, query, passage),
		llm.WithTemperature(0))
	if err != nil {
		s.logger.Warn("passage compression failed, using raw passage", "error", err)
		return passage
	}
	out = strings.TrimSpace(out)
	if out == "NO_OUTPUT" {
		return ""
	}
	if out == "" {
		return passage
	}
	return out
}

func (s *Service) progress(msg string) {
	if s.opts.Progress != nil {
		s.opts.Progress(msg)
	}
}
