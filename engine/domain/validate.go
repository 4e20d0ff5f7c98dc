package domain

import (
	"fmt"
	"strings"
)

// ValidateSOPRecord checks a parsed SOP record before it may touch the graph.
// Parser output is untrusted LLM text, so every required field is checked here
// rather than assumed.
func ValidateSOPRecord(r SOPRecord) error {
	if strings.TrimSpace(r.Title) == "" {
		return NewValidationError("title", r.Title, ErrEmptyTitle)
	}
	if strings.TrimSpace(r.AlertType) == "" {
		return NewValidationError("alert_type", r.AlertType, ErrEmptyAlertType)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return NewValidationError("summary", r.Summary, ErrEmptySummary)
	}
	if len(r.Steps) == 0 {
		return NewValidationError("steps", "", ErrNoSteps)
	}

	seen := make(map[int]bool, len(r.Steps))
	for i, st := range r.Steps {
		if strings.TrimSpace(st.Text) == "" {
			return NewValidationError(fmt.Sprintf("steps[%d].text", i), st.Text, ErrEmptyStepText)
		}
		if st.Order <= 0 {
			return NewValidationError(fmt.Sprintf("steps[%d].order", i), fmt.Sprintf("%d", st.Order), ErrBadStepOrder)
		}
		if seen[st.Order] {
			return NewValidationError(fmt.Sprintf("steps[%d].order", i), fmt.Sprintf("%d", st.Order), ErrDuplicateOrder)
		}
		seen[st.Order] = true
	}
	return nil
}

// ValidateInvestigation checks an investigation request.
func ValidateInvestigation(inv Investigation) error {
	if strings.TrimSpace(inv.AlertType) == "" {
		return NewValidationError("alert_type", inv.AlertType, ErrEmptyAlertType)
	}
	return nil
}
