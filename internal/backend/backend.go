// Package backend defines the chat backend contract and its variants.
//
// A backend turns the conversation so far plus a new utterance into a
// structured reply. Backends take everything they need from their explicit
// arguments so replays are deterministic for deterministic services.
package backend

import (
	"context"

	"ragchat/internal/domain"
)

// Kind tags a backend variant. Callers dispatch on the tag, never on the
// concrete type.
type Kind string

const (
	KindEcho               Kind = "echo"
	KindLanguageModel      Kind = "llm"
	KindRetrievalAugmented Kind = "rag"
	KindOrder              Kind = "order"
)

// ParseKind validates a configured backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindEcho, KindLanguageModel, KindRetrievalAugmented, KindOrder:
		return k, nil
	}
	return "", domain.Ef(domain.ErrConfig, "parse backend", "unknown backend type %q", s)
}

// Backend produces one reply per call.
type Backend interface {
	Kind() Kind
	Chat(ctx context.Context, history []domain.Turn, utterance string) (domain.Reply, error)
}

// Resetter is implemented by backends holding per-dialogue state. The
// replay engine calls Reset before every dialogue.
type Resetter interface {
	Reset()
}

// Retriever is the slice of the retrieval index a backend queries.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
}

// Messages maps history to chat messages and appends the utterance as the
// final user message.
func Messages(history []domain.Turn, utterance string) []domain.Message {
	msgs := make([]domain.Message, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Speaker == domain.SpeakerAssistant {
			role = "assistant"
		}
		msgs = append(msgs, domain.Message{Role: role, Content: t.Utterance})
	}
	return append(msgs, domain.Message{Role: "user", Content: utterance})
}
