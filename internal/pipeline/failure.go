package pipeline

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/labsubmitd/internal/chunker"
	"github.com/fyrsmithlabs/labsubmitd/internal/embeddings"
	"github.com/fyrsmithlabs/labsubmitd/internal/llm"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
	"github.com/fyrsmithlabs/labsubmitd/internal/vectorstore"
)

// Failure kinds reported on failed results. Callers route on these
// rather than parsing error strings.
const (
	FailureCanceled            = "canceled"
	FailureEmptyDocument       = "empty_document"
	FailureUnsupportedFormat   = "unsupported_format"
	FailureConfiguration       = "configuration"
	FailureDimensionMismatch   = "dimension_mismatch"
	FailureIndexUnavailable    = "index_unavailable"
	FailureProviderUnavailable = "provider_unavailable"
	FailureRateLimited         = "rate_limited"
	FailureParse               = "parse_failure"
	FailureNoRequiredFields    = "no_required_fields"
	FailureInternal            = "internal"
)

// failureKind classifies a pipeline error for the failure report.
func failureKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, submission.ErrEmptyDocument):
		return FailureEmptyDocument
	case errors.Is(err, submission.ErrUnsupportedFormat):
		return FailureUnsupportedFormat
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return FailureDimensionMismatch
	case errors.Is(err, vectorstore.ErrIndexUnavailable):
		return FailureIndexUnavailable
	case errors.Is(err, embeddings.ErrRateLimited), errors.Is(err, llm.ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, embeddings.ErrProviderUnavailable),
		errors.Is(err, llm.ErrProviderUnavailable),
		errors.Is(err, llm.ErrAllBackendsFailed),
		errors.Is(err, context.DeadlineExceeded):
		// A deadline hit by an external call means the dependency was
		// unavailable within its budget. Cancellation by the caller is
		// classified from the pipeline context, not the error chain.
		return FailureProviderUnavailable
	case errors.Is(err, llm.ErrParseFailure):
		return FailureParse
	case errors.Is(err, ErrNoRequiredFields):
		return FailureNoRequiredFields
	case errors.Is(err, chunker.ErrInvalidConfig),
		errors.Is(err, vectorstore.ErrInvalidConfig),
		errors.Is(err, embeddings.ErrInvalidConfig),
		errors.Is(err, llm.ErrInvalidConfig):
		return FailureConfiguration
	default:
		return FailureInternal
	}
}
