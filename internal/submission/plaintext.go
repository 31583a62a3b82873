package submission

import (
	"context"
	"strings"
	"unicode/utf8"
)

// PlainTextExtractor handles text/plain and markdown payloads. PDF and
// DOCX parsing is provided by an external collaborator; this extractor
// covers the formats the pipeline can ingest without one.
type PlainTextExtractor struct{}

// NewPlainTextExtractor returns a PlainTextExtractor.
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

// Extract returns the payload as text with one page per form-feed section.
// Unrecognized mime types fail with ErrUnsupportedFormat.
func (e *PlainTextExtractor) Extract(_ context.Context, data []byte, mimeType string) (string, []PageBoundary, error) {
	switch normalizeMime(mimeType) {
	case "text/plain", "text/markdown":
	default:
		return "", nil, ErrUnsupportedFormat
	}

	if !utf8.Valid(data) {
		return "", nil, ErrUnsupportedFormat
	}

	text := string(data)
	var pages []PageBoundary
	offset := 0
	for i, part := range strings.Split(text, "\f") {
		pages = append(pages, PageBoundary{
			Page:  i + 1,
			Start: offset,
			End:   offset + len(part),
		})
		offset += len(part) + 1
	}
	return text, pages, nil
}

// normalizeMime strips parameters such as "; charset=utf-8".
func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

var _ DocumentTextExtractor = (*PlainTextExtractor)(nil)
