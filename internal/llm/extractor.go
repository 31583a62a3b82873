package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrieval"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

// ExtractorConfig holds configuration for the Extractor.
type ExtractorConfig struct {
	// MaxPromptChars bounds the assembled prompt size.
	MaxPromptChars int

	// Retry is applied per backend before falling over to the next one.
	Retry retrypolicy.Policy
}

// Extraction is the outcome of one extraction call: the fields, the
// backend that produced them, and every backend attempted in order.
type Extraction struct {
	Fields    []submission.ExtractedField
	Backend   string
	Attempted []string
}

// Extractor produces structured fields from retrieved context via a
// prioritized chain of LLM backends. A backend that is unavailable after
// retries, or that returns a response that still fails to parse after
// one repair re-prompt, is skipped in favor of the next one.
type Extractor struct {
	backends []Backend
	config   ExtractorConfig
	logger   *zap.Logger
}

// NewExtractor creates an Extractor over the given backend chain.
func NewExtractor(backends []Backend, cfg ExtractorConfig, logger *zap.Logger) (*Extractor, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: at least one backend required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		backends: backends,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Extract requests the given fields from the evidence chunks. Evidence
// must be ordered by descending relevance. The error is non-nil only
// when every configured backend failed.
func (e *Extractor) Extract(ctx context.Context, specs []submission.FieldSpec, evidence []retrieval.ScoredChunk) (*Extraction, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no field specs", ErrInvalidConfig)
	}

	prompt, evidenceIDs := buildExtractionPrompt(specs, evidence, e.config.MaxPromptChars)

	var attempted []string
	var lastErr error

	for _, backend := range e.backends {
		attempted = append(attempted, backend.Name())

		fields, err := e.extractWithBackend(ctx, backend, prompt, specs, evidence, evidenceIDs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("backend failed, falling back",
				zap.String("backend", backend.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		for i := range fields {
			if !fields[i].Missing() {
				fields[i].Backend = backend.Name()
			}
		}
		return &Extraction{
			Fields:    fields,
			Backend:   backend.Name(),
			Attempted: attempted,
		}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// extractWithBackend runs one backend under the retry policy, with one
// repair re-prompt if the structured response fails to parse.
func (e *Extractor) extractWithBackend(ctx context.Context, backend Backend, prompt string, specs []submission.FieldSpec, evidence []retrieval.ScoredChunk, evidenceIDs []string) ([]submission.ExtractedField, error) {
	raw, err := e.complete(ctx, backend, prompt)
	if err != nil {
		return nil, err
	}

	fields, parseErr := parseExtraction(raw, specs, evidence, evidenceIDs)
	if parseErr == nil {
		return fields, nil
	}

	e.logger.Debug("repairing unparseable response",
		zap.String("backend", backend.Name()),
		zap.Error(parseErr),
	)

	raw, err = e.complete(ctx, backend, buildRepairPrompt(prompt, raw, parseErr))
	if err != nil {
		return nil, err
	}
	fields, parseErr = parseExtraction(raw, specs, evidence, evidenceIDs)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, parseErr)
	}
	return fields, nil
}

// complete invokes one backend under the retry policy.
func (e *Extractor) complete(ctx context.Context, backend Backend, prompt string) (string, error) {
	var raw string
	err := e.config.Retry.Execute(ctx, e.logger, "llm."+backend.Name(), func(ctx context.Context) error {
		var err error
		raw, err = backend.Complete(ctx, prompt)
		return err
	})
	return raw, err
}

// Answer answers an ad-hoc question over retrieved context, trying
// backends in priority order.
func (e *Extractor) Answer(ctx context.Context, question string, evidence []retrieval.ScoredChunk) (string, error) {
	if question == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrInvalidConfig)
	}

	prompt := buildAnswerPrompt(question, evidence, e.config.MaxPromptChars)

	var lastErr error
	for _, backend := range e.backends {
		answer, err := e.complete(ctx, backend, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		return answer, nil
	}
	return "", fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// Backends lists the configured backend names in priority order.
func (e *Extractor) Backends() []string {
	names := make([]string, len(e.backends))
	for i, b := range e.backends {
		names[i] = b.Name()
	}
	return names
}
