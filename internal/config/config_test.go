package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "echo", cfg.Backend.Type)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "file", cfg.Cache.Type)
	assert.Equal(t, "lenient", cfg.Replay.Alignment)
	assert.Equal(t, "logs", cfg.LogsDir)
	assert.Equal(t, 30, cfg.LLM.TimeoutSecs)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := writeConfig(t, `
backend:
  type: rag
embedder:
  type: openai
knowledge:
  path: kb.json
cache:
  type: bolt
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rag", cfg.Backend.Type)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "bolt", cfg.Cache.Type)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "backend: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Backend.Type = "llm"
	cfg.Replay.ArchivePath = "runs.db"
	require.NoError(t, Save(path, cfg))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestValidateRequiresCredentials(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "")
	cfg := defaultConfig()
	cfg.Backend.Type = "llm"
	cfg.LLM.APIKeyEnv = "RAGCHAT_TEST_KEY"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	t.Setenv("RAGCHAT_TEST_KEY", "sk-env")
	require.NoError(t, cfg.Validate())
	key, err := cfg.LLMKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", key)
}

func TestValidateRAGRequiresKnowledgePath(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "sk-env")
	cfg := defaultConfig()
	cfg.Backend.Type = "rag"
	cfg.LLM.APIKeyEnv = "RAGCHAT_TEST_KEY"
	assert.True(t, errors.Is(cfg.Validate(), domain.ErrConfig))

	cfg.Knowledge.Path = "kb.json"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownSelections(t *testing.T) {
	for name, mutate := range map[string]func(*AppConfig){
		"backend":   func(c *AppConfig) { c.Backend.Type = "parrot" },
		"embedder":  func(c *AppConfig) { c.Embedder.Type = "word2vec" },
		"cache":     func(c *AppConfig) { c.Cache.Type = "redis" },
		"alignment": func(c *AppConfig) { c.Replay.Alignment = "fuzzy" },
		"top_k":     func(c *AppConfig) { c.Retrieval.TopK = -1 },
	} {
		cfg := defaultConfig()
		mutate(cfg)
		assert.True(t, errors.Is(cfg.Validate(), domain.ErrConfig), name)
	}
}

func TestResolveKeyPrefersFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "openai.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("sk-file\n"), 0o600))
	t.Setenv("RAGCHAT_TEST_KEY", "sk-env")

	key, err := ResolveKey("RAGCHAT_TEST_KEY", keyFile)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", key)

	_, err = ResolveKey("RAGCHAT_TEST_KEY", filepath.Join(dir, "absent.key"))
	assert.True(t, errors.Is(err, domain.ErrConfig))

	empty := filepath.Join(dir, "empty.key")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = ResolveKey("RAGCHAT_TEST_KEY", empty)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
