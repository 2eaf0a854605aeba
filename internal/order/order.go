// Package order turns a free-form ice cream conversation into a structured
// order with one completion call.
package order

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
)

const parserPrompt = "You are a semantic parser for an ice cream shop called Jack's Gelato. " +
	"Given a conversation between a user and assistant, extract the user's final order " +
	"as a JSON object with the following fields: " +
	"flavours (list of strings), size (string), and container (string). " +
	"If any information is missing, use an empty string (''). " +
	"Return only valid JSON and nothing else."

// Order is the structured form of a customer's request.
type Order struct {
	Flavours  []string `json:"flavours"`
	Size      string   `json:"size"`
	Container string   `json:"container"`
}

// Empty is the order returned when the model output cannot be parsed.
func Empty() Order {
	return Order{Flavours: []string{}}
}

// Complete reports whether every field carries a value.
func (o Order) Complete() bool {
	return len(o.Flavours) > 0 && o.Size != "" && o.Container != ""
}

// Missing lists the fields that still need a value, in declaration order.
func (o Order) Missing() []string {
	out := []string{}
	if len(o.Flavours) == 0 {
		out = append(out, "flavours")
	}
	if o.Size == "" {
		out = append(out, "size")
	}
	if o.Container == "" {
		out = append(out, "container")
	}
	return out
}

// Result is the outcome of one parse.
type Result struct {
	Order Order
	// Fallback is set when the model output was not a JSON object and the
	// empty order was substituted.
	Fallback bool
	// Absent lists the fields the model left out entirely, as opposed to
	// returning them empty.
	Absent []string
}

// Parser extracts orders through a language model.
type Parser struct {
	Completer domain.Completer
}

func NewParser(c domain.Completer) *Parser {
	return &Parser{Completer: c}
}

// Parse sends the conversation transcript to the model. Service errors are
// returned; malformed model output degrades to the empty order.
func (p *Parser) Parse(ctx context.Context, conversation string) (Result, error) {
	raw, err := p.Completer.Complete(ctx, parserPrompt, []domain.Message{{Role: "user", Content: conversation}})
	if err != nil {
		return Result{}, err
	}
	res, ok := decode(raw)
	if !ok {
		log.Warn().Str("output", truncate(raw, 120)).Msg("order parser output is not valid JSON, using empty order")
		return Result{Order: Empty(), Fallback: true, Absent: []string{}}, nil
	}
	return res, nil
}

type wireOrder struct {
	Flavours  json.RawMessage `json:"flavours"`
	Size      *string         `json:"size"`
	Container *string         `json:"container"`
}

func decode(raw string) (Result, bool) {
	var w wireOrder
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &w); err != nil {
		return Result{}, false
	}
	res := Result{Order: Empty(), Absent: []string{}}
	flavours, present, ok := decodeFlavours(w.Flavours)
	if !ok {
		return Result{}, false
	}
	if present {
		res.Order.Flavours = append(res.Order.Flavours, flavours...)
	} else {
		res.Absent = append(res.Absent, "flavours")
	}
	if w.Size != nil {
		res.Order.Size = strings.TrimSpace(*w.Size)
	} else {
		res.Absent = append(res.Absent, "size")
	}
	if w.Container != nil {
		res.Order.Container = strings.TrimSpace(*w.Container)
	} else {
		res.Absent = append(res.Absent, "container")
	}
	return res, true
}

// decodeFlavours accepts a list of names or a single string. The empty
// string is an empty but present field; null and a missing key are absent.
func decodeFlavours(raw json.RawMessage) (flavours []string, present, ok bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, false, true
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true, true
	}
	var one string
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, false, false
	}
	if one = strings.TrimSpace(one); one != "" {
		return []string{one}, true, true
	}
	return nil, true, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
