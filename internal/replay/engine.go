// Package replay drives scripted dialogues through a chat backend and
// records generated replies next to the scripted reference replies.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/backend"
	"ragchat/internal/domain"
	"ragchat/internal/session"
)

// TurnRecord pairs one generated reply with its reference.
type TurnRecord struct {
	UserUtterance  string         `json:"user_utterance"`
	GroundTruth    *string        `json:"ground_truth"`
	SystemResponse *string        `json:"system_response"`
	Meta           map[string]any `json:"meta"`
	Timestamp      time.Time      `json:"timestamp"`
}

// DialogueResult holds the records of one dialogue. DialogueID is 1-based.
type DialogueResult struct {
	DialogueID int          `json:"dialogue_id"`
	Turns      []TurnRecord `json:"turns"`
}

// Engine replays dialogues one at a time, one turn at a time.
type Engine struct {
	Backend   backend.Backend
	LogsDir   string
	Alignment Alignment
	// FailFast aborts the run on the first service error instead of
	// recording the turn without a response.
	FailFast bool
	Clock    func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) logsDir() string {
	if e.LogsDir == "" {
		return "logs"
	}
	return e.LogsDir
}

// Run replays every dialogue in order and returns one result per dialogue.
func (e *Engine) Run(ctx context.Context, dialogues []Dialogue) ([]DialogueResult, error) {
	if err := Validate(dialogues, e.Alignment); err != nil {
		return nil, err
	}
	log.Info().Int("dialogues", len(dialogues)).Str("backend", string(e.Backend.Kind())).Msg("batch replay started")

	results := make([]DialogueResult, 0, len(dialogues))
	for d, dlg := range dialogues {
		res, err := e.runDialogue(ctx, d+1, dlg)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) runDialogue(ctx context.Context, id int, dlg Dialogue) (DialogueResult, error) {
	if r, ok := e.Backend.(backend.Resetter); ok {
		r.Reset()
	}
	sess := session.New(session.WithLogsDir(e.logsDir()), session.WithClock(e.now))
	log.Debug().Int("dialogue_id", id).Int("turns", len(dlg)).Msg("dialogue started")

	res := DialogueResult{DialogueID: id, Turns: []TurnRecord{}}
	for i, turn := range dlg {
		if turn.Speaker != domain.SpeakerUser {
			continue
		}
		if err := ctx.Err(); err != nil {
			return DialogueResult{}, err
		}
		if err := sess.AppendTurn(domain.SpeakerUser, turn.Utterance, nil); err != nil {
			return DialogueResult{}, err
		}

		rec := TurnRecord{UserUtterance: turn.Utterance, GroundTruth: GroundTruth(dlg, i)}
		reply, err := e.Backend.Chat(ctx, sess.History(), turn.Utterance)
		switch {
		case err == nil:
			text := reply.Text
			rec.SystemResponse = &text
			rec.Meta = reply.Meta()
		case errors.Is(err, domain.ErrService) && !e.FailFast && ctx.Err() == nil:
			log.Warn().Err(err).Int("dialogue_id", id).Int("turn", i+1).Msg("backend failed, recording turn without response")
			rec.Meta = map[string]any{"error": err.Error()}
		default:
			return DialogueResult{}, errors.Wrapf(err, "dialogue %d turn %d", id, i+1)
		}
		rec.Timestamp = e.now().UTC()
		res.Turns = append(res.Turns, rec)

		if rec.SystemResponse != nil {
			if err := sess.AppendTurn(domain.SpeakerAssistant, *rec.SystemResponse, nil); err != nil {
				return DialogueResult{}, err
			}
		}
	}
	log.Info().Int("dialogue_id", id).Int("records", len(res.Turns)).Msg("dialogue finished")
	return res, nil
}

// WriteResults stores the results as an indented JSON array. An empty path
// becomes <logs>/batch_output_<timestamp>.json. It returns the path written.
func (e *Engine) WriteResults(path string, results []DialogueResult) (string, error) {
	if path == "" {
		path = filepath.Join(e.logsDir(), "batch_output_"+e.now().Format("20060102_150405")+".json")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", domain.E(domain.ErrIO, "write results", err)
		}
	}
	if results == nil {
		results = []DialogueResult{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(results); err != nil {
		return "", domain.E(domain.ErrFormat, "write results", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", domain.E(domain.ErrIO, "write results", err)
	}
	log.Info().Str("path", path).Int("dialogues", len(results)).Msg("batch results written")
	return path, nil
}

// Failures counts the records that carry no response.
func Failures(results []DialogueResult) int {
	n := 0
	for _, d := range results {
		for _, t := range d.Turns {
			if t.SystemResponse == nil {
				n++
			}
		}
	}
	return n
}
