package llm

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrieval"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

// DefaultMaxPromptChars bounds the assembled prompt. Roughly 3k tokens of
// context for small-context local models.
const DefaultMaxPromptChars = 12000

const extractionInstructions = `You extract structured fields from laboratory submission documents.
Using ONLY the document excerpts above, fill in the requested fields.

Respond with ONLY a JSON object of this exact shape, no prose, no code fences:
{"fields": {"<field_name>": {"value": <string or number or null>, "confidence": <number between 0 and 1>}}}

Rules:
- Include every requested field. Use null for value when the document does not contain it.
- confidence is your own estimate that the value is correct.
- Copy values verbatim from the document where possible.`

// buildExtractionPrompt assembles the bounded extraction prompt. Evidence
// arrives ordered by descending relevance; when the combined size exceeds
// the budget the lowest-relevance chunks are dropped first.
func buildExtractionPrompt(specs []submission.FieldSpec, evidence []retrieval.ScoredChunk, maxChars int) (string, []string) {
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}

	var fields strings.Builder
	fields.WriteString("Fields to extract:\n")
	for _, s := range specs {
		fields.WriteString(describeField(s))
		fields.WriteByte('\n')
	}

	// Budget for excerpts is what remains after the fixed sections.
	budget := maxChars - len(extractionInstructions) - fields.Len() - 256

	var context strings.Builder
	context.WriteString("Document excerpts, most relevant first:\n\n")
	var used []string
	for _, sc := range evidence {
		section := fmt.Sprintf("[excerpt %d]\n%s\n\n", sc.Chunk.Seq, sc.Chunk.Text)
		if context.Len()+len(section) > budget && len(used) > 0 {
			break
		}
		context.WriteString(section)
		used = append(used, sc.Chunk.ID)
	}

	return context.String() + "\n" + fields.String() + "\n" + extractionInstructions, used
}

// describeField renders one field spec as a prompt line.
func describeField(s submission.FieldSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s", s.Name, s.Type)
	if s.Required {
		b.WriteString(", required")
	}
	b.WriteString(")")
	if s.Hint != "" {
		b.WriteString(": ")
		b.WriteString(s.Hint)
	}
	if len(s.Values) > 0 {
		fmt.Fprintf(&b, " (one of: %s)", strings.Join(s.Values, ", "))
	}
	return b.String()
}

// buildRepairPrompt re-prompts after a parse failure, quoting the error
// so the model can correct its output shape.
func buildRepairPrompt(original, badResponse string, parseErr error) string {
	return original + fmt.Sprintf(
		"\n\nYour previous response could not be parsed (%v). Previous response:\n%s\n\nRespond again with ONLY the JSON object in the required shape.",
		parseErr, truncate(badResponse, 2000))
}

// buildAnswerPrompt assembles a question-answering prompt over retrieved
// context.
func buildAnswerPrompt(question string, evidence []retrieval.ScoredChunk, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}
	budget := maxChars - len(question) - 512

	var context strings.Builder
	for _, sc := range evidence {
		section := fmt.Sprintf("[excerpt %d]\n%s\n\n", sc.Chunk.Seq, sc.Chunk.Text)
		if context.Len()+len(section) > budget && context.Len() > 0 {
			break
		}
		context.WriteString(section)
	}

	return fmt.Sprintf(
		"Document excerpts from a laboratory submission:\n\n%sAnswer the following question using only the excerpts above. If the answer is not present, say so.\n\nQuestion: %s",
		context.String(), question)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
