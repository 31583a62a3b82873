// Package chunker splits extracted document text into overlapping windows
// suitable for embedding and retrieval.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

// ErrInvalidConfig indicates an invalid chunking configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// DefaultChunkSize is the default window size in characters.
const DefaultChunkSize = 1000

// DefaultOverlap is the default overlap between consecutive windows.
const DefaultOverlap = 200

// boundaryTolerance is the fraction of the chunk size the splitter may
// back off from a hard cut to land on a sentence or paragraph boundary.
// Backing off further than this would sever too much context from the
// current chunk.
const boundaryTolerance = 0.2

// Config holds chunking parameters. Sizes are character counts.
type Config struct {
	ChunkSize int
	Overlap   int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Overlap == 0 {
		c.Overlap = DefaultOverlap
	}
}

// Validate validates the configuration. Overlap must be strictly smaller
// than the chunk size or the window would never advance.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	return nil
}

// Chunker splits text into overlapping windows. It is a pure function of
// its configuration and input; instances are safe for concurrent use.
type Chunker struct {
	config Config
}

// New creates a Chunker with the given configuration.
func New(cfg Config) (*Chunker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// Split produces the ordered chunk sequence for a document's text.
// Offsets are monotonically increasing; consecutive chunks overlap by at
// most the configured overlap, and concatenating each chunk's non-overlap
// prefix reconstructs the input. Empty or whitespace-only text yields no
// chunks.
func (c *Chunker) Split(documentID, text string) []submission.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	size := c.config.ChunkSize
	overlap := c.config.Overlap
	step := size - overlap

	chunks := make([]submission.Chunk, 0, len(text)/step+1)
	start := 0
	seq := 0

	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = splitPoint(text, start, end)
		}

		chunks = append(chunks, submission.Chunk{
			ID:         ChunkID(documentID, seq),
			DocumentID: documentID,
			Text:       text[start:end],
			Start:      start,
			End:        end,
			Seq:        seq,
		})
		seq++

		if end == len(text) {
			break
		}

		next := end - overlap
		if next > start {
			next = runeStart(text, next)
		}
		if next <= start {
			// Boundary back-off must never stall the window.
			next = start + 1
			for next < len(text) && !utf8.RuneStart(text[next]) {
				next++
			}
		}
		start = next
	}

	return chunks
}

// ChunkID builds the deterministic chunk identifier for a document
// position. Re-chunking a document yields the same ids, which is what
// makes index upserts idempotent.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s:%06d", documentID, seq)
}

// splitPoint picks the cut position for a window ending at hardEnd.
// It prefers a paragraph break, then a sentence end, then whitespace,
// searching backwards within the tolerance window so structured tokens
// such as email addresses are not severed. Falls back to the hard cut.
func splitPoint(text string, start, hardEnd int) int {
	window := int(float64(hardEnd-start) * boundaryTolerance)
	floor := hardEnd - window
	if floor <= start {
		floor = start + 1
	}

	if p := lastBoundary(text, floor, hardEnd, "\n\n"); p > 0 {
		return p
	}
	for _, marker := range []string{". ", "! ", "? ", "\n"} {
		if p := lastBoundary(text, floor, hardEnd, marker); p > 0 {
			return p
		}
	}
	if p := strings.LastIndexByte(text[floor:hardEnd], ' '); p >= 0 {
		return floor + p + 1
	}

	// Hard cut, snapped back so a multi-byte rune is never severed.
	cut := runeStart(text, hardEnd)
	if cut <= start {
		// Window narrower than the rune at start; take the whole rune.
		_, n := utf8.DecodeRuneInString(text[start:])
		cut = start + n
	}
	return cut
}

// runeStart backs a byte offset up to the start of the rune containing
// it.
func runeStart(text string, i int) int {
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// lastBoundary returns the position just after the last occurrence of
// marker within [floor, end), or 0 if none.
func lastBoundary(text string, floor, end int, marker string) int {
	idx := strings.LastIndex(text[floor:end], marker)
	if idx < 0 {
		return 0
	}
	return floor + idx + len(marker)
}
