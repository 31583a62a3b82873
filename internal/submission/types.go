// Package submission defines the domain model shared by the extraction
// pipeline: documents, chunks, field schemas, extracted fields, and the
// collaborator interfaces the pipeline is wired against.
package submission

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for submission processing.
var (
	// ErrUnsupportedFormat is returned by text extractors for unrecognized
	// mime types. Non-retryable for that document.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrUnknownFieldType indicates a field spec with an unrecognized type.
	ErrUnknownFieldType = errors.New("unknown field type")

	// ErrEmptyDocument is returned when a document yields no chunks.
	// Non-retryable for that document.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

// PageBoundary marks the character offset range of a page or section
// within extracted document text.
type PageBoundary struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Document is a unit of work for the pipeline. It is immutable once
// chunked; its text is retained only as long as its chunks are indexed.
type Document struct {
	ID    string         `json:"id"`
	Text  string         `json:"text"`
	Pages []PageBoundary `json:"pages,omitempty"`
}

// Chunk is a span of document text prepared for embedding and retrieval.
// Offsets are monotonically increasing; consecutive chunks overlap by at
// most the configured overlap window.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Seq        int       `json:"seq"`
	Embedding  []float32 `json:"-"`
}

// FieldType enumerates the value types a field spec can declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldEnum   FieldType = "enum"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
)

// ParseFieldType converts a string into a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch FieldType(s) {
	case FieldString, FieldEnum, FieldNumber, FieldDate:
		return FieldType(s), nil
	default:
		return "", ErrUnknownFieldType
	}
}

// FieldSpec describes one target field for extraction. Immutable.
type FieldSpec struct {
	// Name is the canonical field name (e.g. "submitter_email").
	Name string `json:"name"`

	// Type is the expected value type.
	Type FieldType `json:"type"`

	// Required marks fields that participate in overall confidence and
	// in the "no required field recoverable" failure check.
	Required bool `json:"required"`

	// Hint is appended to the extraction prompt for this field.
	Hint string `json:"hint,omitempty"`

	// Values lists the accepted values for enum fields.
	Values []string `json:"values,omitempty"`
}

// MissingValue is the normalized value emitted for fields absent from
// every backend response.
const MissingValue = "missing"

// ExtractedField is one extracted value with calibrated confidence and
// the chunk ids used as evidence.
type ExtractedField struct {
	Name            string   `json:"name"`
	RawValue        string   `json:"raw_value"`
	NormalizedValue string   `json:"normalized_value"`
	Confidence      float64  `json:"confidence"`
	EvidenceChunks  []string `json:"evidence_chunks,omitempty"`
	Backend         string   `json:"backend,omitempty"`
}

// Missing reports whether the field was absent from every backend response.
func (f ExtractedField) Missing() bool {
	return f.NormalizedValue == MissingValue && f.Confidence == 0
}

// Status is the terminal outcome of a document pipeline.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the terminal output of the pipeline for one document. For
// failed documents it doubles as the failure report: LastState holds the
// last pipeline state reached and FailureKind the error classification.
type Result struct {
	DocumentID        string           `json:"document_id"`
	Fields            []ExtractedField `json:"fields"`
	OverallConfidence float64          `json:"overall_confidence"`
	Status            Status           `json:"status"`
	LastState         string           `json:"last_state,omitempty"`
	FailureKind       string           `json:"failure_kind,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	ProcessingTime    time.Duration    `json:"processing_time"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Field returns the extracted field with the given name, if present.
func (r *Result) Field(name string) (ExtractedField, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ExtractedField{}, false
}

// DocumentTextExtractor converts raw document bytes into plain text plus
// page boundaries. Implementations for PDF/DOCX live outside this module.
type DocumentTextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, []PageBoundary, error)
}

// SubmissionStore accepts finalized extraction results. Store failures are
// not retried by the pipeline; they propagate to the caller.
type SubmissionStore interface {
	Save(ctx context.Context, res *Result) (storedID string, createdAt time.Time, err error)
}
