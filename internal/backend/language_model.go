package backend

import (
	"context"

	"ragchat/internal/domain"
	"ragchat/internal/llm"
)

// DefaultSystemPrompt is the instruction used when none is configured.
const DefaultSystemPrompt = "You are a friendly and knowledgeable Cambridge student who enjoys helping others learn about college life."

// Budget caps the prompt size. Oldest history messages are dropped first.
type Budget struct {
	Counter   llm.TokenCounter
	MaxTokens int
}

// LanguageModel sends the system prompt, the history and the utterance to
// the completion service in a single request.
type LanguageModel struct {
	Completer    domain.Completer
	SystemPrompt string
	Budget       *Budget
}

func NewLanguageModel(c domain.Completer, systemPrompt string) *LanguageModel {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &LanguageModel{Completer: c, SystemPrompt: systemPrompt}
}

func (lm *LanguageModel) Kind() Kind { return KindLanguageModel }

func (lm *LanguageModel) Chat(ctx context.Context, history []domain.Turn, utterance string) (domain.Reply, error) {
	return lm.reply(ctx, lm.SystemPrompt, history, utterance)
}

func (lm *LanguageModel) reply(ctx context.Context, systemPrompt string, history []domain.Turn, utterance string) (domain.Reply, error) {
	msgs := Messages(history, utterance)
	var extra map[string]any
	if lm.Budget != nil && lm.Budget.Counter != nil {
		kept, tokens, err := llm.Fit(lm.Budget.Counter, lm.Budget.MaxTokens, systemPrompt, msgs)
		if err != nil {
			return domain.Reply{}, domain.E(domain.ErrValidation, "count prompt tokens", err)
		}
		msgs = kept
		extra = map[string]any{"prompt_tokens": tokens}
	}
	text, err := lm.Completer.Complete(ctx, systemPrompt, msgs)
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.Reply{Text: text, Extra: extra}, nil
}
