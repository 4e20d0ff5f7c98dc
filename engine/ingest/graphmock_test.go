package ingest

import (
	"context"
	"sync"

	"github.com/RunbookAI/runbook-mvp/engine/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type emptyResult struct{}

func (emptyResult) Next(context.Context) bool { return false }
func (emptyResult) Record() *neo4j.Record     { return nil }
func (emptyResult) Err() error                { return nil }

// trackingSession records every Cypher statement the pipeline issues. Safe
// for concurrent use since batches run records in parallel.
type trackingSession struct {
	mu      sync.Mutex
	cyphers []string
	runErr  error
}

func newTrackingSession() *trackingSession { return &trackingSession{} }

func (s *trackingSession) Run(_ context.Context, cypher string, _ map[string]any) (graph.CypherResult, error) {
	s.mu.Lock()
	s.cyphers = append(s.cyphers, cypher)
	s.mu.Unlock()
	if s.runErr != nil {
		return nil, s.runErr
	}
	return emptyResult{}, nil
}

func (s *trackingSession) ExecuteWrite(_ context.Context, work func(tx graph.CypherRunner) (any, error)) (any, error) {
	return work(s)
}

func (s *trackingSession) Close(_ context.Context) error { return nil }

func (s *trackingSession) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cyphers))
	copy(out, s.cyphers)
	return out
}

type trackingOpener struct {
	sess *trackingSession
}

func (o trackingOpener) OpenSession(_ context.Context) graph.CypherSession { return o.sess }
