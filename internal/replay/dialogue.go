package replay

import (
	"encoding/json"
	"os"
	"strings"

	"ragchat/internal/domain"
)

// ScriptedTurn is one line of a scripted transcript.
type ScriptedTurn struct {
	Speaker   domain.Speaker `json:"speaker"`
	Utterance string         `json:"utterance"`
}

// Dialogue is an ordered scripted transcript.
type Dialogue []ScriptedTurn

// Alignment decides how transcripts that do not alternate speakers are
// treated.
type Alignment string

const (
	// AlignLenient pairs a user turn with the turn right after it when that
	// turn is spoken by the assistant, and with nothing otherwise.
	AlignLenient Alignment = "lenient"
	// AlignStrict rejects transcripts in which the same speaker talks twice
	// in a row.
	AlignStrict Alignment = "strict"
)

// ParseAlignment validates a configured alignment name. Empty means lenient.
func ParseAlignment(s string) (Alignment, error) {
	switch a := Alignment(strings.ToLower(s)); a {
	case "":
		return AlignLenient, nil
	case AlignLenient, AlignStrict:
		return a, nil
	}
	return "", domain.Ef(domain.ErrConfig, "parse alignment", "unknown alignment %q", s)
}

type wireTurn struct {
	Speaker   *string `json:"speaker"`
	Utterance *string `json:"utterance"`
}

// LoadDialogues reads a JSON array of transcripts. Speaker labels are
// matched case-insensitively and normalized.
func LoadDialogues(path string) ([]Dialogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.ErrIO, "load dialogues", err)
	}
	var raw [][]wireTurn
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.E(domain.ErrFormat, "load dialogues", err)
	}
	out := make([]Dialogue, len(raw))
	for d, turns := range raw {
		out[d] = make(Dialogue, len(turns))
		for i, t := range turns {
			if t.Speaker == nil || t.Utterance == nil {
				return nil, domain.Ef(domain.ErrFormat, "load dialogues", "dialogue %d turn %d: speaker and utterance are required", d+1, i+1)
			}
			out[d][i] = ScriptedTurn{
				Speaker:   domain.Speaker(strings.ToLower(strings.TrimSpace(*t.Speaker))),
				Utterance: *t.Utterance,
			}
		}
	}
	return out, nil
}

// Validate checks speaker labels and, under AlignStrict, that speakers
// alternate.
func Validate(dialogues []Dialogue, align Alignment) error {
	for d, dlg := range dialogues {
		for i, t := range dlg {
			if _, err := domain.ParseSpeaker(string(t.Speaker)); err != nil {
				return domain.Ef(domain.ErrFormat, "validate dialogues", "dialogue %d turn %d: unknown speaker %q", d+1, i+1, t.Speaker)
			}
			if align == AlignStrict && i > 0 && dlg[i-1].Speaker == t.Speaker {
				return domain.Ef(domain.ErrFormat, "validate dialogues", "dialogue %d turn %d: %s speaks twice in a row", d+1, i+1, t.Speaker)
			}
		}
	}
	return nil
}

// GroundTruth returns the reference reply for the user turn at position i:
// the next turn's utterance when the assistant speaks it, nil otherwise.
func GroundTruth(dlg Dialogue, i int) *string {
	if i+1 < len(dlg) && dlg[i+1].Speaker == domain.SpeakerAssistant {
		gt := dlg[i+1].Utterance
		return &gt
	}
	return nil
}
