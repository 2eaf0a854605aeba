package backend

import (
	"context"

	"ragchat/internal/domain"
)

// Echo repeats the utterance back. It makes no external calls.
type Echo struct{}

func NewEcho() Echo { return Echo{} }

func (Echo) Kind() Kind { return KindEcho }

func (Echo) Chat(_ context.Context, _ []domain.Turn, utterance string) (domain.Reply, error) {
	return domain.Reply{
		Text:   utterance,
		Action: map[string]any{"type": "echo"},
	}, nil
}
