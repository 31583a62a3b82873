package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrieval"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

// wireField is one field in a backend's structured response.
type wireField struct {
	Value      any      `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// wireResponse is the structured response shape requested from backends.
type wireResponse struct {
	Fields map[string]wireField `json:"fields"`
}

// parseExtraction parses a backend response into one ExtractedField per
// spec. Fields absent from the response (or null) are emitted with
// confidence 0 and the missing normalized value, never omitted, so
// reconciliation always sees every field. The returned error means the
// response itself was malformed.
func parseExtraction(raw string, specs []submission.FieldSpec, evidence []retrieval.ScoredChunk, evidenceIDs []string) ([]submission.ExtractedField, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}
	if resp.Fields == nil {
		return nil, fmt.Errorf(`response has no "fields" object`)
	}

	topSim := float32(0)
	if len(evidence) > 0 {
		topSim = evidence[0].Score
	}

	fields := make([]submission.ExtractedField, 0, len(specs))
	for _, spec := range specs {
		wf, ok := resp.Fields[spec.Name]
		if !ok || wf.Value == nil {
			fields = append(fields, missingField(spec.Name))
			continue
		}

		rawValue := stringifyValue(wf.Value)
		if strings.TrimSpace(rawValue) == "" {
			fields = append(fields, missingField(spec.Name))
			continue
		}

		normalized, wellTyped := normalizeValue(spec, rawValue)

		var confidence float64
		if wf.Confidence != nil {
			confidence = clamp01(*wf.Confidence)
		} else {
			confidence = derivedConfidence(topSim, wellTyped)
		}

		fields = append(fields, submission.ExtractedField{
			Name:            spec.Name,
			RawValue:        rawValue,
			NormalizedValue: normalized,
			Confidence:      confidence,
			EvidenceChunks:  evidenceIDs,
		})
	}

	return fields, nil
}

// missingField is the canonical shape for a field no backend produced.
func missingField(name string) submission.ExtractedField {
	return submission.ExtractedField{
		Name:            name,
		NormalizedValue: submission.MissingValue,
		Confidence:      0,
	}
}

// extractJSON pulls the JSON object out of a possibly chatty response:
// code fences and surrounding prose are tolerated.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

// stringifyValue renders a decoded JSON value as its raw string form.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// dateLayouts are tried in order when normalizing date fields.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// normalizeValue converts a raw value into the field's canonical form.
// The second return reports whether the value was well-typed; values
// that fail typing keep their raw form with the flag lowered.
func normalizeValue(spec submission.FieldSpec, raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)

	switch spec.Type {
	case submission.FieldString:
		return trimmed, trimmed != ""

	case submission.FieldEnum:
		lowered := strings.ToLower(trimmed)
		for _, v := range spec.Values {
			if lowered == strings.ToLower(v) {
				return v, true
			}
		}
		// Accept "whole blood" for "blood" and the like.
		for _, v := range spec.Values {
			if strings.Contains(lowered, strings.ToLower(v)) {
				return v, true
			}
		}
		return trimmed, false

	case submission.FieldNumber:
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return strconv.FormatFloat(n, 'f', -1, 64), true
		}
		if m := numberPattern.FindString(trimmed); m != "" {
			return m, true
		}
		return trimmed, false

	case submission.FieldDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.Format("2006-01-02"), true
			}
		}
		return trimmed, false

	default:
		return trimmed, false
	}
}

// derivedConfidence calibrates confidence for backends that do not
// self-report one: a monotone blend of the best evidence similarity and
// parse/type success. Exact weights are a calibration choice, pending
// validation against real extraction data.
func derivedConfidence(similarity float32, wellTyped bool) float64 {
	parseScore := 0.5
	if wellTyped {
		parseScore = 1.0
	}
	return clamp01(0.3*parseScore + 0.7*float64(similarity))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
