package submission

// Default intake-form schema for laboratory submissions. Sample and
// analysis enums mirror the values the downstream lab-management
// application accepts.

// DefaultSampleTypes are the accepted sample_type values.
var DefaultSampleTypes = []string{"blood", "saliva", "tissue", "dna", "rna"}

// DefaultAnalysisTypes are the accepted analysis_type values.
var DefaultAnalysisTypes = []string{"wgs", "wes", "rna_seq", "targeted_panel"}

// DefaultFieldSpecs returns the standard lab-submission field schema.
// Callers may pass their own schema to the pipeline instead.
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		{
			Name:     "submitter_name",
			Type:     FieldString,
			Required: true,
			Hint:     "full name of the person submitting the samples",
		},
		{
			Name:     "submitter_email",
			Type:     FieldString,
			Required: true,
			Hint:     "email address of the submitter",
		},
		{
			Name: "submitter_phone",
			Type: FieldString,
			Hint: "phone number of the submitter, if present",
		},
		{
			Name: "institution",
			Type: FieldString,
			Hint: "university, hospital, or company the submitter belongs to",
		},
		{
			Name:     "sample_type",
			Type:     FieldEnum,
			Required: true,
			Hint:     "biological material being submitted",
			Values:   DefaultSampleTypes,
		},
		{
			Name:   "analysis_type",
			Type:   FieldEnum,
			Hint:   "requested sequencing or analysis workflow",
			Values: DefaultAnalysisTypes,
		},
		{
			Name: "sample_count",
			Type: FieldNumber,
			Hint: "number of samples in this submission",
		},
		{
			Name: "collection_date",
			Type: FieldDate,
			Hint: "date the samples were collected, ISO 8601 if possible",
		},
	}
}

// RequiredFields filters a schema down to its required fields.
func RequiredFields(specs []FieldSpec) []FieldSpec {
	out := make([]FieldSpec, 0, len(specs))
	for _, s := range specs {
		if s.Required {
			out = append(out, s)
		}
	}
	return out
}
