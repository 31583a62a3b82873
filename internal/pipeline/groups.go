package pipeline

import (
	"strings"

	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

// fieldGroups partitions the schema for retrieval and extraction. With
// per-field retrieval each field gets its own focused query; otherwise
// the whole schema is one group served by a single retrieval pass.
func fieldGroups(specs []submission.FieldSpec, perField bool) [][]submission.FieldSpec {
	if !perField {
		return [][]submission.FieldSpec{specs}
	}
	groups := make([][]submission.FieldSpec, len(specs))
	for i, spec := range specs {
		groups[i] = []submission.FieldSpec{spec}
	}
	return groups
}

// groupQuery builds the retrieval query text for a field group from the
// field names and hints.
func groupQuery(group []submission.FieldSpec) string {
	var b strings.Builder
	for i, spec := range group {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(strings.ReplaceAll(spec.Name, "_", " "))
		if spec.Hint != "" {
			b.WriteString(": ")
			b.WriteString(spec.Hint)
		}
	}
	return b.String()
}

// reconcile merges candidate extractions into one field per spec. When
// a field was extracted more than once the higher confidence wins; on a
// tie the first-observed candidate is kept. Fields no candidate covered
// come back missing.
func reconcile(specs []submission.FieldSpec, candidates []submission.ExtractedField) []submission.ExtractedField {
	best := make(map[string]submission.ExtractedField, len(specs))
	for _, c := range candidates {
		prev, seen := best[c.Name]
		if !seen || c.Confidence > prev.Confidence {
			best[c.Name] = c
		}
	}

	fields := make([]submission.ExtractedField, 0, len(specs))
	for _, spec := range specs {
		if f, ok := best[spec.Name]; ok {
			fields = append(fields, f)
			continue
		}
		fields = append(fields, submission.ExtractedField{
			Name:            spec.Name,
			NormalizedValue: submission.MissingValue,
		})
	}
	return fields
}

// anyRequiredRecovered reports whether at least one required field has
// a non-missing value.
func anyRequiredRecovered(specs []submission.FieldSpec, fields []submission.ExtractedField) bool {
	required := make(map[string]bool, len(specs))
	hasRequired := false
	for _, spec := range specs {
		if spec.Required {
			required[spec.Name] = true
			hasRequired = true
		}
	}
	if !hasRequired {
		return true
	}
	for _, f := range fields {
		if required[f.Name] && !f.Missing() {
			return true
		}
	}
	return false
}
