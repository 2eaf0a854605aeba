package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
)

// DefaultRetrievalPrompt precedes the retrieved context block.
const DefaultRetrievalPrompt = "You are a friendly and knowledgeable Cambridge student who helps " +
	"others learn about university life. " +
	"Use the retrieved context below to answer accurately and naturally. " +
	"If you don't know, say so politely."

// DefaultTopK is the number of snippets retrieved per utterance.
const DefaultTopK = 3

// RetrievalAugmented grounds language model replies in the documents most
// similar to the utterance.
type RetrievalAugmented struct {
	Retriever    Retriever
	Model        *LanguageModel
	SystemPrompt string
	TopK         int
}

func NewRetrievalAugmented(r Retriever, c domain.Completer, systemPrompt string, topK int) *RetrievalAugmented {
	if systemPrompt == "" {
		systemPrompt = DefaultRetrievalPrompt
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &RetrievalAugmented{
		Retriever:    r,
		Model:        &LanguageModel{Completer: c},
		SystemPrompt: systemPrompt,
		TopK:         topK,
	}
}

func (ra *RetrievalAugmented) Kind() Kind { return KindRetrievalAugmented }

func (ra *RetrievalAugmented) Chat(ctx context.Context, history []domain.Turn, utterance string) (domain.Reply, error) {
	results, err := ra.Retriever.Query(ctx, utterance, ra.TopK)
	if err != nil {
		return domain.Reply{}, err
	}
	texts := make([]string, len(results))
	ids := make([]int, len(results))
	for i, r := range results {
		texts[i] = r.Document.Text
		ids[i] = r.Document.ID
	}
	retrieved := strings.Join(texts, "\n")
	if len(results) > 0 {
		log.Debug().Int("k", len(results)).Float64("top_score", results[0].Score).Ints("ids", ids).Msg("retrieved context")
	}

	reply, err := ra.Model.reply(ctx, ContextPrompt(ra.SystemPrompt, retrieved), history, utterance)
	if err != nil {
		return domain.Reply{}, err
	}
	reply.RetrievedContext = retrieved
	if reply.Extra == nil {
		reply.Extra = map[string]any{}
	}
	reply.Extra["retrieved_ids"] = ids
	return reply, nil
}

// ContextPrompt appends the delimited context block to an instruction.
func ContextPrompt(instruction, retrieved string) string {
	return fmt.Sprintf("%s\n\n--- Retrieved context ---\n%s\n--- End context ---", instruction, retrieved)
}
