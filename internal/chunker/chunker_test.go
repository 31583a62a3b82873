package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid config",
			config: Config{ChunkSize: 1000, Overlap: 200},
		},
		{
			name:    "overlap equal to chunk size",
			config:  Config{ChunkSize: 100, Overlap: 100},
			wantErr: true,
		},
		{
			name:    "overlap larger than chunk size",
			config:  Config{ChunkSize: 100, Overlap: 150},
			wantErr: true,
		},
		{
			name:    "negative overlap",
			config:  Config{ChunkSize: 100, Overlap: -1},
			wantErr: true,
		},
		{
			name:    "negative chunk size",
			config:  Config{ChunkSize: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidConfigRejected(t *testing.T) {
	_, err := New(Config{ChunkSize: 50, Overlap: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSplit_EmptyText(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Nil(t, c.Split("doc-1", ""))
	assert.Nil(t, c.Split("doc-1", "   \n\t  "))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c, err := New(Config{ChunkSize: 100, Overlap: 20})
	require.NoError(t, err)

	text := "Submitted by Jane Doe."
	chunks := c.Split("doc-1", text)

	require.Len(t, chunks, 1)
	assert.Equal(t, "doc-1:000000", chunks[0].ID)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[0].End)
	assert.Equal(t, 0, chunks[0].Seq)
}

func TestSplit_OffsetsMonotoneAndCovering(t *testing.T) {
	c, err := New(Config{ChunkSize: 80, Overlap: 20})
	require.NoError(t, err)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
	chunks := c.Split("doc-1", text)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Seq)
		assert.Equal(t, text[chunk.Start:chunk.End], chunk.Text)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, chunk.Start, prev.Start, "starts must strictly increase")
			assert.GreaterOrEqual(t, chunk.End, prev.End, "ends must not regress")
			assert.LessOrEqual(t, chunk.Start, prev.End, "no gap between consecutive chunks")
		}
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
}

func TestSplit_OverlapBounded(t *testing.T) {
	c, err := New(Config{ChunkSize: 60, Overlap: 15})
	require.NoError(t, err)

	text := strings.Repeat("word and another word in a long running sentence here. ", 20)
	chunks := c.Split("doc-1", text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].End - chunks[i].Start
		assert.LessOrEqual(t, overlap, 15, "chunk %d overlaps by %d", i, overlap)
		assert.GreaterOrEqual(t, overlap, 0)
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	c, err := New(Config{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	// Paragraph break sits at offset 42, inside the back-off window of
	// the first 50-char chunk.
	text := "Lab submission form for genome sequencing.\n\nSubmitter details follow in the next section here."
	chunks := c.Split("doc-1", text)
	require.Greater(t, len(chunks), 1)

	// The first cut should land just after the paragraph break rather
	// than mid-word at the hard limit.
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"),
		"first chunk should end at the paragraph break, got %q", chunks[0].Text)
}

func TestSplit_DoesNotSeverEmail(t *testing.T) {
	c, err := New(Config{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	text := "Contact address for submission batch number 4: jane.doe@example.org for all sample questions."
	chunks := c.Split("doc-1", text)

	found := false
	for _, chunk := range chunks {
		if strings.Contains(chunk.Text, "jane.doe@example.org") {
			found = true
		}
	}
	assert.True(t, found, "email address must survive intact in at least one chunk")
}

func TestSplit_DoesNotSeverMultiByteRunes(t *testing.T) {
	c, err := New(Config{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	// Three-byte runes with no sentence or whitespace boundaries, so
	// every cut is a hard cut landing mid-rune before snapping.
	text := strings.Repeat("研究所標本提出", 12)
	chunks := c.Split("doc", text)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text), "chunk %d not valid UTF-8: %q", ch.Seq, ch.Text)
		assert.LessOrEqual(t, len(ch.Text), 50)
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Start, chunks[i-1].Start)
		assert.LessOrEqual(t, chunks[i].Start, chunks[i-1].End, "gap between chunks %d and %d", i-1, i)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c, err := New(Config{ChunkSize: 70, Overlap: 20})
	require.NoError(t, err)

	text := strings.Repeat("Sample type blood, analysis wgs, count 12. ", 15)
	first := c.Split("doc-1", text)
	second := c.Split("doc-1", text)
	assert.Equal(t, first, second)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "doc-9:000000", ChunkID("doc-9", 0))
	assert.Equal(t, "doc-9:000042", ChunkID("doc-9", 42))
}
