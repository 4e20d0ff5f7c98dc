// Package parser converts raw SOP document text into structured records using
// a single completion call with a fixed extraction prompt. The LLM response is
// untrusted: it is syntax-repaired, decoded, and strictly validated before it
// may reach the graph layer.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/kaptinlin/jsonrepair"
)

const extractionPrompt = `You are given an L2 Support Standard Operating Procedure (SOP) document.
Return a structured JSON object with the following keys:
- title: short title of the SOP
- alert_type: canonical alert name this SOP handles
- summary: one-sentence summary
- steps: list of objects {"order": int, "text": string}
- sql_queries: list of raw SQL strings referenced in the SOP (may be empty)
Everything must be valid JSON, no code fences, no commentary.
DOCUMENT:
%s`

// Parser extracts SOPRecords from free-text documents.
type Parser struct {
	llm    llm.CompletionClient
	model  string
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithModel overrides the completion model used for extraction.
func WithModel(model string) Option {
	return func(p *Parser) { p.model = model }
}

// WithLogger sets the parser's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New creates a Parser backed by the given completion client.
func New(client llm.CompletionClient, opts ...Option) *Parser {
	p := &Parser{llm: client, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse extracts a structured SOPRecord from raw document text.
func (p *Parser) Parse(ctx context.Context, text string) (domain.SOPRecord, error) {
	var zero domain.SOPRecord

	if strings.TrimSpace(text) == "" {
		return zero, domain.NewStageError(domain.StageParse, "empty document", domain.ErrParse)
	}

	opts := []llm.Option{llm.WithTemperature(0)}
	if p.model != "" {
		opts = append(opts, llm.WithModel(p.model))
	}
	resp, err := p.llm.Complete(ctx, fmt.Sprintf(extractionPrompt, text), opts...)
	if err != nil {
		return zero, domain.NewStageError(domain.StageParse, "extraction call", fmt.Errorf("%w: %v", domain.ErrParse, err))
	}

	rec, err := decodeRecord(resp)
	if err != nil {
		p.logger.Warn("parser: rejected extraction response", "error", err, "response_len", len(resp))
		return zero, domain.NewStageError(domain.StageParse, "invalid extraction response", fmt.Errorf("%w: %v", domain.ErrParse, err))
	}
	return rec, nil
}

// ParseFile reads a UTF-8 document from disk and parses it.
func (p *Parser) ParseFile(ctx context.Context, path string) (domain.SOPRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SOPRecord{}, domain.NewStageError(domain.StageParse, path, fmt.Errorf("%w: %v", domain.ErrParse, err))
	}
	return p.Parse(ctx, string(data))
}

// rawRecord mirrors SOPRecord with pointer fields so that a missing key can be
// told apart from a present-but-empty one.
type rawRecord struct {
	Title      *string          `json:"title"`
	AlertType  *string          `json:"alert_type"`
	Summary    *string          `json:"summary"`
	Steps      []domain.SOPStep `json:"steps"`
	SQLQueries []string         `json:"sql_queries"`
}

// decodeRecord turns an LLM response into a validated SOPRecord. Syntax repair
// fixes fences and trailing commas only; it never substitutes for validation.
func decodeRecord(resp string) (domain.SOPRecord, error) {
	var zero domain.SOPRecord

	repaired, err := jsonrepair.JSONRepair(strings.TrimSpace(resp))
	if err != nil {
		return zero, fmt.Errorf("response is not JSON: %v", err)
	}

	var raw rawRecord
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return zero, fmt.Errorf("decode: %v", err)
	}

	var missing []string
	if raw.Title == nil {
		missing = append(missing, "title")
	}
	if raw.AlertType == nil {
		missing = append(missing, "alert_type")
	}
	if raw.Summary == nil {
		missing = append(missing, "summary")
	}
	if raw.Steps == nil {
		missing = append(missing, "steps")
	}
	if len(missing) > 0 {
		return zero, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	rec := domain.SOPRecord{
		Title:      *raw.Title,
		AlertType:  *raw.AlertType,
		Summary:    *raw.Summary,
		Steps:      raw.Steps,
		SQLQueries: raw.SQLQueries,
	}
	if err := domain.ValidateSOPRecord(rec); err != nil {
		return zero, err
	}
	return rec, nil
}
