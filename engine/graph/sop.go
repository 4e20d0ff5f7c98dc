package graph

import (
	"context"
	"fmt"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
)

const (
	mergeAlertCypher = `MERGE (a:AlertType {name: $alert})
	ON CREATE SET a.description = $summary, a.embedding = $emb
	ON MATCH  SET a.description = $summary, a.embedding = $emb`

	mergeSOPCypher = `MERGE (s:SOP {title: $title})
	ON CREATE SET s.summary = $summary, s.embedding = $emb
	ON MATCH  SET s.summary = $summary, s.embedding = $emb
	WITH s
	MATCH (a:AlertType {name: $alert})
	MERGE (a)-[:HAS_SOP]->(s)`

	// An order slot that is re-ingested with different text is re-pointed:
	// the stale edge goes, the old Step node stays (other SOPs may share it).
	replaceStepSlotCypher = `MATCH (s:SOP {title: $title})-[r:HAS_STEP {order: $order}]->(old:Step)
	WHERE old.text <> $text
	DELETE r`

	// Step nodes are keyed by text; node-level order is last-writer-wins,
	// the HAS_STEP edge carries the authoritative per-SOP order.
	mergeStepCypher = `MERGE (st:Step {text: $text})
	ON CREATE SET st.order = $order, st.embedding = $emb
	ON MATCH  SET st.order = $order, st.embedding = $emb
	WITH st
	MATCH (s:SOP {title: $title})
	MERGE (s)-[r:HAS_STEP]->(st)
	SET r.order = $order`

	mergeQueryCypher = `MERGE (q:Query {query: $query})
	WITH q
	MATCH (s:SOP {title: $title})
	MERGE (s)-[:EXECUTES]->(q)`
)

// UpsertSOP merges one parsed SOP into the graph as a single write
// transaction: alert type, SOP node, shared step nodes with ordered edges,
// and executed query nodes. Re-running it with the same record is a no-op
// beyond refreshed attributes. Step embeddings are computed here so every
// similarity-searchable node has a vector before the transaction commits.
func (g *GraphStore) UpsertSOP(ctx context.Context, rec domain.SOPRecord, summaryEmb []float32) error {
	if err := domain.ValidateSOPRecord(rec); err != nil {
		return domain.NewStageError(domain.StageIngest, rec.Title, fmt.Errorf("%w: %v", domain.ErrIngestion, err))
	}
	if len(summaryEmb) == 0 {
		return domain.NewStageError(domain.StageIngest, rec.Title, fmt.Errorf("%w: missing summary embedding", domain.ErrIngestion))
	}

	stepTexts := make([]string, len(rec.Steps))
	for i, st := range rec.Steps {
		stepTexts[i] = st.Text
	}
	stepEmbs, err := g.embed.EmbedBatch(ctx, stepTexts)
	if err != nil {
		return domain.NewStageError(domain.StageIngest, rec.Title, fmt.Errorf("%w: step embeddings: %v", domain.ErrIngestion, err))
	}
	if len(stepEmbs) != len(rec.Steps) {
		return domain.NewStageError(domain.StageIngest, rec.Title,
			fmt.Errorf("%w: step embedding count mismatch: got %d want %d", domain.ErrIngestion, len(stepEmbs), len(rec.Steps)))
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err = sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		if _, err := tx.Run(ctx, mergeAlertCypher, map[string]any{
			"alert":   rec.AlertType,
			"summary": rec.Summary,
			"emb":     vecParam(summaryEmb),
		}); err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, mergeSOPCypher, map[string]any{
			"title":   rec.Title,
			"summary": rec.Summary,
			"emb":     vecParam(summaryEmb),
			"alert":   rec.AlertType,
		}); err != nil {
			return nil, err
		}

		for i, step := range rec.Steps {
			if _, err := tx.Run(ctx, replaceStepSlotCypher, map[string]any{
				"title": rec.Title,
				"order": int64(step.Order),
				"text":  step.Text,
			}); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, mergeStepCypher, map[string]any{
				"text":  step.Text,
				"order": int64(step.Order),
				"emb":   vecParam(stepEmbs[i]),
				"title": rec.Title,
			}); err != nil {
				return nil, err
			}
		}

		for _, q := range rec.SQLQueries {
			if _, err := tx.Run(ctx, mergeQueryCypher, map[string]any{
				"query": q,
				"title": rec.Title,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return domain.NewStageError(domain.StageIngest, rec.Title, fmt.Errorf("%w: %v", domain.ErrIngestion, err))
	}
	return nil
}
