package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ragchat/internal/domain"
	"ragchat/internal/order"
)

// DefaultOrderPrompt is the persona used to phrase order replies.
const DefaultOrderPrompt = "You are GelatoBot, a friendly and polite assistant working at Jack's Gelato. " +
	"You help customers place ice cream orders and make small talk if needed. " +
	"When the order is complete, confirm the details cheerfully. " +
	"If something is missing (flavours, size, or container), ask naturally for clarification."

// Order parses the conversation into a structured order, then asks the
// language model for the next assistant message given that order.
type Order struct {
	Parser       *order.Parser
	Completer    domain.Completer
	SystemPrompt string
}

func NewOrder(c domain.Completer, systemPrompt string) *Order {
	if systemPrompt == "" {
		systemPrompt = DefaultOrderPrompt
	}
	return &Order{Parser: order.NewParser(c), Completer: c, SystemPrompt: systemPrompt}
}

func (o *Order) Kind() Kind { return KindOrder }

func (o *Order) Chat(ctx context.Context, history []domain.Turn, utterance string) (domain.Reply, error) {
	conversation := Transcript(history, utterance)
	res, err := o.Parser.Parse(ctx, conversation)
	if err != nil {
		return domain.Reply{}, err
	}
	parsed, err := json.MarshalIndent(res.Order, "", "    ")
	if err != nil {
		return domain.Reply{}, domain.E(domain.ErrFormat, "encode order", err)
	}
	prompt := fmt.Sprintf("Here is the current parsed order:\n%s\n\nConversation so far:\n%s\n\nPlease write the next assistant message.",
		parsed, conversation)
	text, err := o.Completer.Complete(ctx, o.SystemPrompt, []domain.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return domain.Reply{}, err
	}

	reply := domain.Reply{
		Text: text,
		Action: map[string]any{
			"type":     "order",
			"order":    res.Order,
			"complete": res.Order.Complete(),
			"missing":  res.Order.Missing(),
			"absent":   res.Absent,
		},
	}
	if res.Fallback {
		reply.Extra = map[string]any{"parse_fallback": true}
	}
	return reply, nil
}

// Transcript renders the conversation as "User: ..." / "Assistant: ..."
// lines, ending with the new utterance.
func Transcript(history []domain.Turn, utterance string) string {
	var b strings.Builder
	for _, m := range Messages(history, utterance) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(m.Role[:1]) + m.Role[1:])
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
