package graph

import (
	"context"
	"fmt"
)

// vectorIndexCypher declares one vector index. Index DDL cannot take the
// dimension as a query parameter, so it is formatted in.
func vectorIndexCypher(name, label string, dims int) string {
	return fmt.Sprintf(
		"CREATE VECTOR INDEX %s IF NOT EXISTS\n"+
			"FOR (n:%s) ON (n.embedding)\n"+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		name, label, dims)
}

// EnsureSimilarityIndexes idempotently declares the three vector indexes and
// the Step fulltext index. Safe to call on every ingestion run; IF NOT EXISTS
// makes re-declaration a no-op.
func (g *GraphStore) EnsureSimilarityIndexes(ctx context.Context, dims int) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	stmts := []string{
		vectorIndexCypher(IndexAlertEmbedding, LabelAlertType, dims),
		vectorIndexCypher(IndexSOPEmbedding, LabelSOP, dims),
		vectorIndexCypher(IndexStepEmbedding, LabelStep, dims),
		fmt.Sprintf("CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (st:Step) ON EACH [st.text]", IndexStepText),
	}
	for _, stmt := range stmts {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: ensure index: %w", err)
		}
	}
	return nil
}
