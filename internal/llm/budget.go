package llm

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"

	"ragchat/internal/domain"
)

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) (int, error)
}

// Tiktoken counts tokens with a BPE encoding such as cl100k_base.
type Tiktoken struct {
	codec tokenizer.Codec
}

// NewTiktoken loads the named encoding; empty means cl100k_base.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = string(tokenizer.Cl100kBase)
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, domain.E(domain.ErrConfig, "load tokenizer", errors.Wrapf(err, "encoding %s", encoding))
	}
	return &Tiktoken{codec: codec}, nil
}

func (t *Tiktoken) Count(text string) (int, error) {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "encode")
	}
	return len(ids), nil
}

// perMessageOverhead approximates the role and separator tokens the chat
// format adds around each message.
const perMessageOverhead = 4

// Fit drops the oldest messages until the system prompt plus messages fit
// in maxTokens. The last message is always kept. It returns the kept
// messages and their token count. maxTokens <= 0 keeps everything.
func Fit(counter TokenCounter, maxTokens int, systemPrompt string, messages []domain.Message) ([]domain.Message, int, error) {
	sys, err := counter.Count(systemPrompt)
	if err != nil {
		return nil, 0, err
	}
	costs := make([]int, len(messages))
	total := sys + perMessageOverhead
	for i, m := range messages {
		n, err := counter.Count(m.Content)
		if err != nil {
			return nil, 0, err
		}
		costs[i] = n + perMessageOverhead
		total += costs[i]
	}
	start := 0
	for maxTokens > 0 && total > maxTokens && start < len(messages)-1 {
		total -= costs[start]
		start++
	}
	return messages[start:], total, nil
}
