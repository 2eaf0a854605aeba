// Package metric scores batch replay output against the scripted reference
// replies.
package metric

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
	"ragchat/internal/replay"
)

type wireTurn struct {
	UserUtterance  string          `json:"user_utterance"`
	GroundTruth    *string         `json:"ground_truth"`
	SystemResponse *string         `json:"system_response"`
	Meta           map[string]any  `json:"meta"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

type wireDialogue struct {
	DialogueID int         `json:"dialogue_id"`
	Turns      *[]wireTurn `json:"turns"`
}

// LoadResults reads a batch result document. Timestamps are not needed for
// scoring and are accepted in any form.
func LoadResults(path string) ([]replay.DialogueResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.ErrIO, "load results", err)
	}
	var raw []wireDialogue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.E(domain.ErrFormat, "load results", err)
	}
	out := make([]replay.DialogueResult, len(raw))
	for i, d := range raw {
		if d.Turns == nil {
			return nil, domain.Ef(domain.ErrFormat, "load results", "dialogue at position %d has no turns", i+1)
		}
		res := replay.DialogueResult{DialogueID: d.DialogueID, Turns: make([]replay.TurnRecord, len(*d.Turns))}
		for j, t := range *d.Turns {
			res.Turns[j] = replay.TurnRecord{
				UserUtterance:  t.UserUtterance,
				GroundTruth:    t.GroundTruth,
				SystemResponse: t.SystemResponse,
				Meta:           t.Meta,
			}
		}
		out[i] = res
	}
	return out, nil
}

// Scorable reports whether a record has both a reference and a response.
func Scorable(t replay.TurnRecord) bool {
	return t.GroundTruth != nil && *t.GroundTruth != "" &&
		t.SystemResponse != nil && *t.SystemResponse != ""
}

// TurnScore is the BLEU score of one record, with the reference as
// reference and the response as candidate.
func TurnScore(t replay.TurnRecord) float64 {
	return SentenceBLEU(Tokenize(*t.GroundTruth), Tokenize(*t.SystemResponse))
}

// Score is the mean BLEU over all scorable records, or 0 when none are.
func Score(results []replay.DialogueResult) float64 {
	return Summarize(results).Mean
}

// DialogueScore is the BLEU mean within one dialogue.
type DialogueScore struct {
	DialogueID int     `json:"dialogue_id"`
	Mean       float64 `json:"mean"`
	Scorable   int     `json:"scorable"`
}

// Summary aggregates a whole result set.
type Summary struct {
	Mean      float64         `json:"mean"`
	Scorable  int             `json:"scorable"`
	Skipped   int             `json:"skipped"`
	Dialogues []DialogueScore `json:"dialogues"`
}

func Summarize(results []replay.DialogueResult) Summary {
	s := Summary{Dialogues: make([]DialogueScore, 0, len(results))}
	var total float64
	for _, d := range results {
		ds := DialogueScore{DialogueID: d.DialogueID}
		var sum float64
		for _, t := range d.Turns {
			if !Scorable(t) {
				s.Skipped++
				continue
			}
			v := TurnScore(t)
			sum += v
			ds.Scorable++
		}
		if ds.Scorable > 0 {
			ds.Mean = sum / float64(ds.Scorable)
		}
		s.Dialogues = append(s.Dialogues, ds)
		s.Scorable += ds.Scorable
		total += sum
	}
	if s.Scorable > 0 {
		s.Mean = total / float64(s.Scorable)
	}
	log.Debug().Int("scorable", s.Scorable).Int("skipped", s.Skipped).Float64("mean", s.Mean).Msg("scored results")
	return s
}
