package domain

import (
	"context"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ParseSpeaker validates a raw speaker label.
func ParseSpeaker(s string) (Speaker, error) {
	switch Speaker(s) {
	case SpeakerUser, SpeakerAssistant:
		return Speaker(s), nil
	}
	return "", Ef(ErrValidation, "parse speaker", "speaker must be %q or %q, got %q", SpeakerUser, SpeakerAssistant, s)
}

// Turn is one utterance by one speaker. Turns are never modified after they
// are appended to a session.
type Turn struct {
	Timestamp time.Time      `json:"timestamp"`
	Speaker   Speaker        `json:"speaker"`
	Utterance string         `json:"utterance"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Message is a role/content pair sent to the language model service.
type Message struct {
	Role    string
	Content string
}

// Reply is the structured result of a backend chat call.
type Reply struct {
	Text             string
	Action           map[string]any
	RetrievedContext string
	Extra            map[string]any
}

// Meta returns every populated reply field except the text.
func (r Reply) Meta() map[string]any {
	meta := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		meta[k] = v
	}
	if r.Action != nil {
		meta["action"] = r.Action
	}
	if r.RetrievedContext != "" {
		meta["retrieved_context"] = r.RetrievedContext
	}
	return meta
}

// Document is a single knowledge base entry. ID is its position in the
// ordered collection.
type Document struct {
	ID   int
	Text string
}

// SearchResult represents a matching document with its cosine similarity.
type SearchResult struct {
	Document Document
	Score    float64
}

// Embedder converts an ordered batch of texts into one vector per text.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Completer is the language model service: one call produces one reply.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}
