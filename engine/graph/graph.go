// Package graph provides the Neo4j knowledge graph store for SOP data:
// idempotent upserts, similarity indexes, hybrid step retrieval, and the
// structured question-answering path.
package graph

import (
	"context"

	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CypherResult is the minimal result surface the store consumes.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner executes one Cypher statement. Both sessions and transactions
// satisfy it, so upsert logic is written once and runs inside ExecuteWrite.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a scoped unit of graph work, opened per logical operation
// and closed when it completes. There is no process-wide session.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions against the underlying graph database.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// GraphStore provides all graph operations. Step embeddings are computed
// here during upsert so that no node ever becomes similarity-searchable
// without a vector.
type GraphStore struct {
	opener SessionOpener
	embed  llm.Embedder
}

// New creates a GraphStore on a Neo4j driver.
func New(driver neo4j.DriverWithContext, embedder llm.Embedder) *GraphStore {
	return &GraphStore{opener: &driverOpener{driver: driver}, embed: embedder}
}

// NewWithOpener creates a GraphStore with a custom session opener.
func NewWithOpener(opener SessionOpener, embedder llm.Embedder) *GraphStore {
	return &GraphStore{opener: opener, embed: embedder}
}

// --- neo4j driver adapters ---

type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o *driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &driverResult{res: res}, nil
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txRunner{tx: tx})
	})
}

func (s *driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r *txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &driverResult{res: res}, nil
}

type driverResult struct {
	res neo4j.ResultWithContext
}

func (r *driverResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *driverResult) Record() *neo4j.Record         { return r.res.Record() }
func (r *driverResult) Err() error                    { return r.res.Err() }

// vecParam converts an embedding to a bolt-compatible list.
func vecParam(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	if v, ok := props[key]; ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}
