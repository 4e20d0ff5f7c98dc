package ingest

import "github.com/RunbookAI/runbook-mvp/engine/domain"

// EmbeddedRecord is an SOP record paired with its summary embedding, ready
// for the store stage.
type EmbeddedRecord struct {
	Record           domain.SOPRecord
	SummaryEmbedding []float32
}

// Report is the per-record outcome of a batch ingestion run. A failed record
// never aborts the batch.
type Report struct {
	Title string `json:"title"`
	Err   error  `json:"-"`
}

// Failed reports whether this record's ingestion failed.
func (r Report) Failed() bool { return r.Err != nil }
