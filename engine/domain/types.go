// Package domain defines the core SOP record types, constants, and validation
// for the runbook engine. It acts as the validation gate at pipeline entry points.
package domain

// SOPStep is one atomic instruction within an SOP, ordered within its document.
type SOPStep struct {
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// SOPRecord is the structured form of one parsed SOP document.
type SOPRecord struct {
	Title      string    `json:"title"`
	AlertType  string    `json:"alert_type"`
	Summary    string    `json:"summary"`
	Steps      []SOPStep `json:"steps"`
	SQLQueries []string  `json:"sql_queries"`
}

// Investigation identifies one "how do I investigate alert X" request.
type Investigation struct {
	AlertType  string `json:"alert_type"`
	ContextRef string `json:"context_ref"`
}

// Pipeline stage names used in stage-tagged errors and logs.
const (
	StageParse      = "parse"
	StageIngest     = "ingest"
	StageSimilarity = "similarity"
	StageStructured = "structured"
	StageSynthesis  = "synthesis"
)
