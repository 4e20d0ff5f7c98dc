package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
)

const schemaDescription = `Node labels and properties:
  (:AlertType {name: STRING, description: STRING})
  (:SOP {title: STRING, summary: STRING})
  (:Step {text: STRING, order: INTEGER})
  (:Query {query: STRING})
Relationships:
  (:AlertType)-[:HAS_SOP]->(:SOP)
  (:SOP)-[:HAS_STEP {order: INTEGER}]->(:Step)
  (:SOP)-[:EXECUTES]->(:Query)
Step order within an SOP is the HAS_STEP edge property "order".`

const cypherPrompt = `You translate operational questions into Cypher for a
runbook knowledge graph.

Schema:
%s

Rules:
- Output a single read-only Cypher statement and nothing else.
- Use only the labels, relationships and properties in the schema.
- Order steps by the HAS_STEP edge order property.
- Match alert types by the exact name given in the question.

Question: %s`

const answerPrompt = `You answer operational questions from graph query
results. Use only the rows below; if they are empty say you found nothing.
Be concise and keep step numbering when rows contain ordered steps.

Question: %s

Rows:
%s`

// writeClauses are Cypher keywords that mutate the graph. The QA path only
// ever reads, so any generated statement containing one is rejected.
var writeClauses = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|FOREACH|LOAD\s+CSV|CALL\s*\{)`)

var fenceRe = regexp.MustCompile("(?s)```(?:cypher)?\\s*(.*?)```")

// QAResult carries the formatted answer plus how many rows the generated
// query returned, so callers can tell an empty graph from a real answer.
type QAResult struct {
	Answer string
	Cypher string
	Rows   int
}

// QA answers natural-language questions about the graph by generating a
// read-only Cypher statement, executing it, and formatting the rows.
type QA struct {
	store  *GraphStore
	llm    llm.CompletionClient
	model  string
	logger *slog.Logger
}

type QAOption func(*QA)

func WithQAModel(model string) QAOption {
	return func(q *QA) { q.model = model }
}

func WithQALogger(logger *slog.Logger) QAOption {
	return func(q *QA) { q.logger = logger }
}

func NewQA(store *GraphStore, client llm.CompletionClient, opts ...QAOption) *QA {
	q := &QA{
		store:  store,
		llm:    client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ask turns a question into Cypher, runs it, and has the model summarize the
// rows. The generated statement is rejected if it contains any write clause.
func (q *QA) Ask(ctx context.Context, question string) (QAResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return QAResult{}, domain.NewStageError(domain.StageStructured, "empty question", domain.ErrRetrieval)
	}

	opts := []llm.Option{
		llm.WithSystemPrompt("You generate Cypher queries. Reply with Cypher only."),
		llm.WithTemperature(0),
	}
	if q.model != "" {
		opts = append(opts, llm.WithModel(q.model))
	}
	raw, err := q.llm.Complete(ctx, fmt.Sprintf(cypherPrompt, schemaDescription, question), opts...)
	if err != nil {
		return QAResult{}, domain.NewStageError(domain.StageStructured, "cypher generation", err)
	}

	cypher := stripFences(raw)
	if cypher == "" {
		return QAResult{}, domain.NewStageError(domain.StageStructured, "empty cypher from model", domain.ErrRetrieval)
	}
	if m := writeClauses.FindString(cypher); m != "" {
		q.logger.Warn("rejected generated cypher", "clause", m)
		return QAResult{}, domain.NewStageError(domain.StageStructured,
			fmt.Sprintf("generated cypher contains write clause %q", strings.ToUpper(strings.Join(strings.Fields(m), " "))),
			domain.ErrRetrieval)
	}

	rows, err := q.runCypher(ctx, cypher)
	if err != nil {
		return QAResult{}, domain.NewStageError(domain.StageStructured, "cypher execution", err)
	}
	q.logger.Debug("structured query executed", "rows", len(rows))

	res := QAResult{Cypher: cypher, Rows: len(rows)}
	if len(rows) == 0 {
		return res, nil
	}

	rendered, err := json.Marshal(rows)
	if err != nil {
		return QAResult{}, domain.NewStageError(domain.StageStructured, "render rows", err)
	}
	answerOpts := []llm.Option{llm.WithTemperature(0)}
	if q.model != "" {
		answerOpts = append(answerOpts, llm.WithModel(q.model))
	}
	answer, err := q.llm.Complete(ctx, fmt.Sprintf(answerPrompt, question, rendered), answerOpts...)
	if err != nil {
		return QAResult{}, domain.NewStageError(domain.StageStructured, "answer synthesis", err)
	}
	res.Answer = strings.TrimSpace(answer)
	return res, nil
}

func (q *QA) runCypher(ctx context.Context, cypher string) ([]map[string]any, error) {
	sess := q.store.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			if v, ok := rec.Get(key); ok {
				row[key] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

// stripFences removes markdown code fences and a leading "cypher" language
// tag that chat models tend to wrap statements in.
func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "cypher")
	return strings.TrimSpace(s)
}
