package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReplayThenScoreWithEchoBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, filepath.Join(dir, "ragchat.yaml"), "backend:\n  type: echo\nlogs_dir: "+filepath.Join(dir, "logs")+"\n")
	input := writeFile(t, filepath.Join(dir, "dialogues.json"), `[
		[{"speaker": "user", "utterance": "where is the porters lodge"},
		 {"speaker": "assistant", "utterance": "where is the porters lodge"},
		 {"speaker": "user", "utterance": "thanks"}]
	]`)
	results := filepath.Join(dir, "out.json")
	db := filepath.Join(dir, "runs.db")

	out, err := run(t, "--config", cfg, "replay", input, "-o", results, "--archive", db, "--score")
	require.NoError(t, err)
	assert.Contains(t, out, "Results saved to "+results)
	assert.Contains(t, out, "Archived as run ")
	assert.Contains(t, out, "Average BLEU score: 1.0000")

	out, err = run(t, "--config", cfg, "score", results)
	require.NoError(t, err)
	assert.Contains(t, out, "Average BLEU score: 1.0000")
	assert.Contains(t, out, "Scored 1 turns, skipped 1")

	out, err = run(t, "--config", cfg, "score", "--archive", db)
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
}

func TestIndexBuildsFileCache(t *testing.T) {
	dir := t.TempDir()
	kb := writeFile(t, filepath.Join(dir, "kb.json"), `[{"text": "King's College has a famous chapel."}, {"text": "Punts can be hired on the Cam."}]`)
	cfg := writeFile(t, filepath.Join(dir, "ragchat.yaml"), "embedder:\n  type: tfidf\n")

	out, err := run(t, "--config", cfg, "index", "--kb", kb)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 documents")
	assert.Contains(t, out, "Embedding cache: "+filepath.Join(dir, "kb_embeddings.json"))
	assert.NotContains(t, out, "famous chapel")
	_, err = os.Stat(filepath.Join(dir, "kb_embeddings.json"))
	assert.NoError(t, err)

	out, err = run(t, "--config", cfg, "index", "--kb", kb, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "King's College has a famous chapel.")
	assert.Contains(t, out, "Punts can be hired on the Cam.")
}

func TestLogToFileRedirectsAndRestores(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	path, restore, err := logToFile(dir, "chat.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chat.log"), path)

	log.Error().Msg("kept off the screen")
	restore()
	log.Error().Msg("back on stderr")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept off the screen")
	assert.NotContains(t, string(data), "back on stderr")
}

func TestInvalidLogLevelIsConfigError(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--log-level", "loud", "index"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Contains(t, err.Error(), `"loud"`)
}

func TestReplayRejectsMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RAGCHAT_MISSING_KEY", "")
	cfg := writeFile(t, filepath.Join(dir, "ragchat.yaml"), "backend:\n  type: llm\nllm:\n  api_key_env: RAGCHAT_MISSING_KEY\n")
	input := writeFile(t, filepath.Join(dir, "dialogues.json"), `[[{"speaker": "user", "utterance": "hi"}]]`)
	_, err := run(t, "--config", cfg, "replay", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAGCHAT_MISSING_KEY")
}
