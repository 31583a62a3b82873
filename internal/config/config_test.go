package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "labsubmitd", cfg.Observability.ServiceName)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, 384, cfg.VectorStore.VectorSize)
	assert.Equal(t, "sub", cfg.VectorStore.CollectionPrefix)
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, []string{"anthropic", "openai", "ollama"}, cfg.LLM.Priority)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BackoffBase)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: console
chunking:
  chunk_size: 500
  chunk_overlap: 50
embeddings:
  provider: remote
  base_url: http://localhost:8080
retrieval:
  k: 3
  per_field: true
llm:
  priority: ["ollama"]
  ollama:
    model: llama3.1:8b
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, "remote", cfg.Embeddings.Provider)
	assert.Equal(t, 3, cfg.Retrieval.K)
	assert.True(t, cfg.Retrieval.PerField)
	assert.Equal(t, []string{"ollama"}, cfg.LLM.Priority)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Ollama.Model)
}

func TestLoad_LargeFileReadFully(t *testing.T) {
	// Keys after many kilobytes of leading content must still be seen;
	// a partial file read would drop them.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "# padding\n" + strings.Repeat("# "+strings.Repeat("x", 78)+"\n", 2000) +
		"retrieval:\n  k: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retrieval.K)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  k: 3\n"), 0o600))

	t.Setenv("LABSUBMITD_RETRIEVAL_K", "7")
	t.Setenv("LABSUBMITD_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.K)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("defaults valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("overlap >= chunk size", func(t *testing.T) {
		cfg := base()
		cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown log format", func(t *testing.T) {
		cfg := base()
		cfg.Logging.Format = "xml"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown embeddings provider", func(t *testing.T) {
		cfg := base()
		cfg.Embeddings.Provider = "word2vec"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown llm backend", func(t *testing.T) {
		cfg := base()
		cfg.LLM.Priority = []string{"grok"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative confidence weight", func(t *testing.T) {
		cfg := base()
		cfg.Pipeline.ConfidenceWeights = map[string]float64{"submitter_name": -1}
		assert.Error(t, cfg.Validate())
	})
}
