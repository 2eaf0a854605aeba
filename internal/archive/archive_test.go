package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/replay"
)

func str(s string) *string { return &s }

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	stamp := time.Date(2026, 3, 1, 10, 20, 4, 0, time.UTC)
	results := []replay.DialogueResult{
		{DialogueID: 1, Turns: []replay.TurnRecord{
			{UserUtterance: "A", GroundTruth: str("B"), SystemResponse: str("gen A"), Meta: map[string]any{"retrieved_context": "ctx"}, Timestamp: stamp},
			{UserUtterance: "C", SystemResponse: nil, Meta: map[string]any{"error": "down"}, Timestamp: stamp},
		}},
		{DialogueID: 2, Turns: []replay.TurnRecord{}},
	}

	id, err := s.SaveRun(ctx, Run{Backend: "echo", ResultPath: "logs/batch.json"}, results)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	back, err := s.LoadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, results, back)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "echo", runs[0].Backend)
	assert.Equal(t, "logs/batch.json", runs[0].ResultPath)
	assert.Equal(t, 2, runs[0].Dialogues)
}

func TestLoadRunUnknownID(t *testing.T) {
	_, err := openStore(t).LoadRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.SaveRun(ctx, Run{ID: "old", Backend: "echo", CreatedAt: older}, nil)
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, Run{ID: "new", Backend: "llm", CreatedAt: older.Add(time.Hour)}, nil)
	require.NoError(t, err)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, []string{"new", "old"}, []string{runs[0].ID, runs[1].ID})
}

func TestRunsNewestFirstWithinOneSecond(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	whole := time.Date(2026, 1, 1, 9, 0, 27, 0, time.UTC)
	_, err := s.SaveRun(ctx, Run{ID: "whole", Backend: "echo", CreatedAt: whole}, nil)
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, Run{ID: "half", Backend: "echo", CreatedAt: whole.Add(500 * time.Millisecond)}, nil)
	require.NoError(t, err)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, []string{"half", "whole"}, []string{runs[0].ID, runs[1].ID})
	assert.True(t, runs[0].CreatedAt.Equal(whole.Add(500*time.Millisecond)))
}
