package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	client     *http.Client
	maxRetries int
}

// Config configures the OpenAI-compatible embeddings client. The API key is
// passed in resolved; the client never reads the environment.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	BatchSize  int // 0 sends every text in a single request
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.Ef(domain.ErrConfig, "new embeddings client", "missing API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		client:     &http.Client{Timeout: t},
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name returns the identifier of this embedder, including the model so that
// caches built with another model are never reused.
func (c *Client) Name() string { return "openai:" + c.model }

// Prepare is not required for remote embedding.
func (c *Client) Prepare(corpus []string) error { return nil }

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := c.batchSize
	if size <= 0 || size > len(texts) {
		size = len(texts)
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	dim := len(out[0])
	for i, v := range out {
		if len(v) == 0 || len(v) != dim {
			return nil, domain.Ef(domain.ErrService, "embed", "vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	log.Debug().Str("model", c.model).Int("count", len(texts)).Int("dimension", dim).Msg("embedded batch")
	return out, nil
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama /api/embed shape
	Embeddings [][]float64 `json:"embeddings"`
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, domain.E(domain.ErrFormat, "embed", err)
	}
	var (
		lastErr    error
		// retryAfter, when set by the server, replaces the backoff once.
		retryAfter time.Duration = -1
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryDelay(attempt - 1)
			if retryAfter >= 0 {
				wait = retryAfter
			}
			retryAfter = -1
			if err := sleep(ctx, wait); err != nil {
				return nil, domain.E(domain.ErrService, "embed", err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, domain.E(domain.ErrService, "embed", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = errors.Errorf("openai embeddings failed: %s", resp.Status)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
			log.Warn().Int("attempt", attempt).Str("status", resp.Status).Msg("embeddings request failed")
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, domain.Ef(domain.ErrService, "embed", "openai embeddings failed: %s", resp.Status)
		}

		vecs, err := decode(payload, len(texts))
		if err != nil {
			return nil, domain.E(domain.ErrService, "embed", err)
		}
		return vecs, nil
	}
	return nil, domain.E(domain.ErrService, "embed", lastErr)
}

func decode(payload []byte, want int) ([][]float64, error) {
	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, errors.Wrap(err, "decode embeddings response")
	}
	var vecs [][]float64
	switch {
	case len(out.Data) > 0:
		sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		vecs = make([][]float64, len(out.Data))
		for i, d := range out.Data {
			vecs[i] = d.Embedding
		}
	case len(out.Embeddings) > 0:
		vecs = out.Embeddings
	}
	if len(vecs) != want {
		return nil, errors.Errorf("got %d embeddings for %d inputs", len(vecs), want)
	}
	return vecs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
