package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ListAlertTypes returns the distinct alert type names that have at least one
// ingested SOP, in lexicographic order.
func (g *GraphStore) ListAlertTypes(ctx context.Context) ([]string, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:AlertType)-[:HAS_SOP]->(:SOP)
	RETURN DISTINCT a.name AS name ORDER BY name`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: list alert types: %w", err)
	}

	var names []string
	for result.Next(ctx) {
		if v, ok := result.Record().Get("name"); ok {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph: list alert types: %w", err)
	}
	return names, nil
}

// AlertProcedure returns the ordered steps and query snippets for one alert
// type by exact match. Order comes from the HAS_STEP edge property, which is
// authoritative per SOP.
func (g *GraphStore) AlertProcedure(ctx context.Context, alertType string) (Procedure, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	proc := Procedure{AlertType: alertType}

	stepCypher := `MATCH (a:AlertType {name: $alert})-[:HAS_SOP]->(s:SOP)-[r:HAS_STEP]->(st:Step)
	RETURN r.order AS ord, st.text AS text ORDER BY ord`
	result, err := sess.Run(ctx, stepCypher, map[string]any{"alert": alertType})
	if err != nil {
		return proc, fmt.Errorf("graph: alert procedure steps: %w", err)
	}
	for result.Next(ctx) {
		rec := result.Record()
		ord, _ := rec.Get("ord")
		text, _ := rec.Get("text")
		step := ProcedureStep{}
		if n, ok := ord.(int64); ok {
			step.Order = n
		}
		if s, ok := text.(string); ok {
			step.Text = s
		}
		if step.Text != "" {
			proc.Steps = append(proc.Steps, step)
		}
	}
	if err := result.Err(); err != nil {
		return proc, fmt.Errorf("graph: alert procedure steps: %w", err)
	}

	queryCypher := `MATCH (a:AlertType {name: $alert})-[:HAS_SOP]->(:SOP)-[:EXECUTES]->(q:Query)
	RETURN DISTINCT q.query AS query`
	result, err = sess.Run(ctx, queryCypher, map[string]any{"alert": alertType})
	if err != nil {
		return proc, fmt.Errorf("graph: alert procedure queries: %w", err)
	}
	for result.Next(ctx) {
		if v, ok := result.Record().Get("query"); ok {
			if s, ok := v.(string); ok {
				proc.Queries = append(proc.Queries, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return proc, fmt.Errorf("graph: alert procedure queries: %w", err)
	}
	return proc, nil
}

// SimilarSteps performs hybrid retrieval over Step nodes: vector k-NN over
// the step embedding index plus keyword match over the step fulltext index,
// fused by reciprocal rank. queryText feeds the keyword half; embedding feeds
// the vector half.
func (g *GraphStore) SimilarSteps(ctx context.Context, embedding []float32, queryText string, k int) ([]StepHit, error) {
	if k <= 0 {
		k = 5
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	vectorCypher := fmt.Sprintf(`CALL db.index.vector.queryNodes('%s', $k, $emb)
	YIELD node, score
	OPTIONAL MATCH (s:SOP)-[r:HAS_STEP]->(node)
	RETURN node.text AS text, coalesce(r.order, node.order) AS ord, s.title AS title, score`,
		IndexStepEmbedding)
	result, err := sess.Run(ctx, vectorCypher, map[string]any{"k": k, "emb": vecParam(embedding)})
	if err != nil {
		return nil, fmt.Errorf("graph: vector step search: %w", err)
	}
	vectorHits, err := collectHits(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("graph: vector step search: %w", err)
	}

	var keywordHits []StepHit
	if q := luceneSanitize(queryText); q != "" {
		keywordCypher := fmt.Sprintf(`CALL db.index.fulltext.queryNodes('%s', $q)
	YIELD node, score
	OPTIONAL MATCH (s:SOP)-[r:HAS_STEP]->(node)
	RETURN node.text AS text, coalesce(r.order, node.order) AS ord, s.title AS title, score
	LIMIT $k`, IndexStepText)
		result, err = sess.Run(ctx, keywordCypher, map[string]any{"q": q, "k": k})
		if err != nil {
			return nil, fmt.Errorf("graph: keyword step search: %w", err)
		}
		keywordHits, err = collectHits(ctx, result)
		if err != nil {
			return nil, fmt.Errorf("graph: keyword step search: %w", err)
		}
	}

	return fuseHits(vectorHits, keywordHits, k), nil
}

func collectHits(ctx context.Context, result CypherResult) ([]StepHit, error) {
	var hits []StepHit
	for result.Next(ctx) {
		rec := result.Record()
		hit := StepHit{}
		if v, ok := rec.Get("text"); ok {
			if s, ok := v.(string); ok {
				hit.Text = s
			}
		}
		if v, ok := rec.Get("ord"); ok {
			if n, ok := v.(int64); ok {
				hit.Order = n
			}
		}
		if v, ok := rec.Get("title"); ok {
			if s, ok := v.(string); ok {
				hit.SOPTitle = s
			}
		}
		if v, ok := rec.Get("score"); ok {
			if f, ok := v.(float64); ok {
				hit.Score = f
			}
		}
		if hit.Text != "" {
			hits = append(hits, hit)
		}
	}
	return hits, result.Err()
}

// fuseHits merges two ranked lists by reciprocal rank fusion, deduplicating
// on step text (the node key) and keeping the top k.
func fuseHits(vector, keyword []StepHit, k int) []StepHit {
	const rrfConst = 60.0

	type fused struct {
		hit   StepHit
		score float64
	}
	byText := make(map[string]*fused)

	accumulate := func(hits []StepHit) {
		for rank, h := range hits {
			f, ok := byText[h.Text]
			if !ok {
				f = &fused{hit: h}
				byText[h.Text] = f
			}
			f.score += 1.0 / (rrfConst + float64(rank+1))
		}
	}
	accumulate(vector)
	accumulate(keyword)

	out := make([]StepHit, 0, len(byText))
	for _, f := range byText {
		f.hit.Score = f.score
		out = append(out, f.hit)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// luceneSanitize strips fulltext query syntax so user text cannot produce a
// malformed keyword query.
func luceneSanitize(q string) string {
	replacer := strings.NewReplacer(
		"+", " ", "-", " ", "&", " ", "|", " ", "!", " ", "(", " ", ")", " ",
		"{", " ", "}", " ", "[", " ", "]", " ", "^", " ", "\"", " ", "~", " ",
		"*", " ", "?", " ", ":", " ", "\\", " ", "/", " ",
	)
	return strings.Join(strings.Fields(replacer.Replace(q)), " ")
}
