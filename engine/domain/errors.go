package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline failure taxonomy.
var (
	// ErrParse: the document parser received unreadable input or an LLM
	// response that is not valid structured data.
	ErrParse = errors.New("parse failed")
	// ErrIngestion: the graph store rejected an upsert.
	ErrIngestion = errors.New("ingestion failed")
	// ErrRetrieval: similarity search or the structured graph query failed.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration: the completion provider failed or returned an unusable
	// response during final synthesis.
	ErrGeneration = errors.New("generation failed")
	// ErrNoCoverage: both retrieval paths came back empty for an alert type.
	ErrNoCoverage = errors.New("no SOP coverage for alert type")

	ErrEmptyTitle     = errors.New("empty title")
	ErrEmptyAlertType = errors.New("empty alert_type")
	ErrEmptySummary   = errors.New("empty summary")
	ErrNoSteps        = errors.New("no steps")
	ErrEmptyStepText  = errors.New("empty step text")
	ErrBadStepOrder   = errors.New("invalid step order")
	ErrDuplicateOrder = errors.New("duplicate step order")
)

// StageError tags an error with the pipeline stage that produced it, so an
// on-call engineer can tell "no SOP for this alert" apart from "the system is
// broken" from the message alone.
type StageError struct {
	Stage   string
	Detail  string
	Wrapped error
}

func (e *StageError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Detail, e.Wrapped)
}

func (e *StageError) Unwrap() error { return e.Wrapped }

// NewStageError creates a StageError.
func NewStageError(stage, detail string, wrapped error) *StageError {
	return &StageError{Stage: stage, Detail: detail, Wrapped: wrapped}
}

// ValidationError wraps a validation sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
