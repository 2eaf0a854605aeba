package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestOpenAICompleteSendsSystemPromptFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		if assert.Len(t, body.Messages, 3) {
			assert.Equal(t, "system", body.Messages[0].Role)
			assert.Equal(t, "be brief", body.Messages[0].Content)
			assert.Equal(t, "user", body.Messages[1].Role)
			assert.Equal(t, "assistant", body.Messages[2].Role)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Hello there.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "test-model"})
	require.NoError(t, err)
	text, err := c.Complete(context.Background(), "be brief", []domain.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", text)
}

func TestOpenAICompleteServerErrorIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", []domain.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrService))
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

// scripted fails the first n calls with err.
type scripted struct {
	failures int
	err      error
	calls    int
}

func (s *scripted) Complete(ctx context.Context, _ string, _ []domain.Message) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", s.err
	}
	return "ok", nil
}

func noBackoff(int) time.Duration { return 0 }

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	next := &scripted{failures: 2, err: domain.Ef(domain.ErrService, "complete", "503")}
	r := &Retrying{Next: next, MaxRetries: 2, Backoff: noBackoff}
	text, err := r.Complete(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, next.calls)
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	next := &scripted{failures: 5, err: domain.Ef(domain.ErrService, "complete", "503")}
	r := &Retrying{Next: next, MaxRetries: 1, Backoff: noBackoff}
	_, err := r.Complete(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrService))
	assert.Equal(t, 2, next.calls)
}

func TestRetryingDoesNotRetryOtherErrors(t *testing.T) {
	next := &scripted{failures: 5, err: domain.Ef(domain.ErrValidation, "complete", "bad")}
	r := &Retrying{Next: next, MaxRetries: 3, Backoff: noBackoff}
	_, err := r.Complete(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}

type hanging struct{}

func (hanging) Complete(ctx context.Context, _ string, _ []domain.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRetryingTimeoutBecomesServiceError(t *testing.T) {
	r := &Retrying{Next: hanging{}, Timeout: 10 * time.Millisecond, Backoff: noBackoff}
	_, err := r.Complete(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrService))
}

type wordCounter struct{}

func (wordCounter) Count(text string) (int, error) { return len(strings.Fields(text)), nil }

func TestFitDropsOldestMessages(t *testing.T) {
	msgs := []domain.Message{
		{Role: "user", Content: "one two three"},
		{Role: "assistant", Content: "four five"},
		{Role: "user", Content: "six"},
	}
	// sys(1)+4, then 3+4, 2+4, 1+4 => 23 total
	kept, total, err := Fit(wordCounter{}, 0, "sys", msgs)
	require.NoError(t, err)
	assert.Len(t, kept, 3)
	assert.Equal(t, 23, total)

	kept, total, err = Fit(wordCounter{}, 16, "sys", msgs)
	require.NoError(t, err)
	assert.Equal(t, msgs[1:], kept)
	assert.Equal(t, 16, total)

	kept, _, err = Fit(wordCounter{}, 1, "sys", msgs)
	require.NoError(t, err)
	assert.Equal(t, msgs[2:], kept)
}

func TestTiktokenCounts(t *testing.T) {
	tk, err := NewTiktoken("")
	require.NoError(t, err)
	n, err := tk.Count("Punting on the Cam is a Cambridge tradition.")
	require.NoError(t, err)
	assert.Greater(t, n, 5)
}
