package graph

import (
	"context"
)

// AlertStats holds per-alert-type coverage statistics.
type AlertStats struct {
	Name    string `json:"name"`
	SOPs    int64  `json:"sops"`
	Steps   int64  `json:"steps"`
	Queries int64  `json:"queries,omitempty"`
}

// NodeCounts returns node counts grouped by label.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// RelationshipCounts returns relationship counts grouped by type.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// CoverageByAlert returns the alert types with the most procedure content.
func (g *GraphStore) CoverageByAlert(ctx context.Context, limit int) ([]AlertStats, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:AlertType)
		OPTIONAL MATCH (a)-[:HAS_SOP]->(s:SOP)
		OPTIONAL MATCH (s)-[:HAS_STEP]->(st:Step)
		OPTIONAL MATCH (s)-[:EXECUTES]->(q:Query)
		RETURN a.name AS name, count(DISTINCT s) AS sops,
		       count(DISTINCT st) AS steps, count(DISTINCT q) AS queries
		ORDER BY steps DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	var stats []AlertStats
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("name")
		sops, _ := rec.Get("sops")
		steps, _ := rec.Get("steps")
		queries, _ := rec.Get("queries")
		s := AlertStats{}
		if n, ok := name.(string); ok {
			s.Name = n
		}
		if c, ok := sops.(int64); ok {
			s.SOPs = c
		}
		if c, ok := steps.(int64); ok {
			s.Steps = c
		}
		if c, ok := queries.(int64); ok {
			s.Queries = c
		}
		stats = append(stats, s)
	}
	return stats, result.Err()
}
