package graph

// Node labels and relationship types. The similarity and structured retrieval
// paths both depend on these exact names, so they live in one place.
const (
	LabelAlertType = "AlertType"
	LabelSOP       = "SOP"
	LabelStep      = "Step"
	LabelQuery     = "Query"

	RelHasSOP   = "HAS_SOP"
	RelHasStep  = "HAS_STEP"
	RelExecutes = "EXECUTES"

	// Vector index names, one per embedded label.
	IndexAlertEmbedding = "alert_embedding"
	IndexSOPEmbedding   = "sop_embedding"
	IndexStepEmbedding  = "step_embedding"
	// Fulltext index over Step.text backing the keyword half of hybrid search.
	IndexStepText = "step_text"
)

// StepHit is one ranked result from hybrid step retrieval.
type StepHit struct {
	Text     string  `json:"text"`
	Order    int64   `json:"order"`
	SOPTitle string  `json:"sop_title"`
	Score    float64 `json:"score"`
}

// ProcedureStep is an ordered step of one alert type's procedure.
type ProcedureStep struct {
	Order int64  `json:"order"`
	Text  string `json:"text"`
}

// Procedure is the exact-match investigation procedure for one alert type.
type Procedure struct {
	AlertType string          `json:"alert_type"`
	Steps     []ProcedureStep `json:"steps"`
	Queries   []string        `json:"queries"`
}

// Empty reports whether the procedure carries no usable content.
func (p Procedure) Empty() bool {
	return len(p.Steps) == 0 && len(p.Queries) == 0
}
