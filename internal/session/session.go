package session

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
)

// DefaultLogsDir is where snapshots go when no path is given.
const DefaultLogsDir = "logs"

// Session holds the ordered turns of one conversation. It is not safe for
// concurrent use.
type Session struct {
	turns   []domain.Turn
	logsDir string
	now     func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithLogsDir sets the directory used by Persist when no path is given.
func WithLogsDir(dir string) Option {
	return func(s *Session) { s.logsDir = dir }
}

// WithClock overrides the wall clock used to stamp turns and snapshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates an empty session.
func New(opts ...Option) *Session {
	s := &Session{logsDir: DefaultLogsDir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset clears the turn sequence.
func (s *Session) Reset() {
	s.turns = nil
}

// AppendTurn stamps and appends one turn. The meta map is deep-copied.
func (s *Session) AppendTurn(speaker domain.Speaker, utterance string, meta map[string]any) error {
	if _, err := domain.ParseSpeaker(string(speaker)); err != nil {
		return err
	}
	turn := domain.Turn{
		Timestamp: s.now().UTC(),
		Speaker:   speaker,
		Utterance: utterance,
	}
	if len(meta) > 0 {
		turn.Meta = cloneMeta(meta)
	}
	s.turns = append(s.turns, turn)
	return nil
}

// History returns a copy of the ordered turns. Meta maps are copied too, so
// callers cannot reach the stored turns.
func (s *Session) History() []domain.Turn {
	out := slices.Clone(s.turns)
	for i := range out {
		if out[i].Meta != nil {
			out[i].Meta = cloneMeta(out[i].Meta)
		}
	}
	return out
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMeta(x)
	case []any:
		c := make([]any, len(x))
		for i := range x {
			c[i] = cloneValue(x[i])
		}
		return c
	case []string:
		return slices.Clone(x)
	}
	return v
}

// Len returns the number of turns.
func (s *Session) Len() int { return len(s.turns) }

// Persist writes the turns as a JSON array and returns the path written.
// An empty path yields logs/conversation_<timestamp>.json.
func (s *Session) Persist(path string) (string, error) {
	if path == "" {
		path = filepath.Join(s.logsDir, "conversation_"+s.now().Format("20060102_150405")+".json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", domain.E(domain.ErrIO, "persist session", err)
	}
	turns := s.turns
	if turns == nil {
		turns = []domain.Turn{}
	}
	data, err := encodeIndented(turns)
	if err != nil {
		return "", domain.E(domain.ErrFormat, "persist session", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", domain.E(domain.ErrIO, "persist session", err)
	}
	log.Info().Str("path", path).Int("turns", len(turns)).Msg("conversation saved")
	return path, nil
}

// Load reads a snapshot written by Persist into a new session.
func Load(path string, opts ...Option) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.ErrIO, "load session", err)
	}
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, domain.E(domain.ErrFormat, "load session", errors.Wrapf(err, "parse %s", path))
	}
	for i, t := range turns {
		if _, err := domain.ParseSpeaker(string(t.Speaker)); err != nil {
			return nil, domain.E(domain.ErrFormat, "load session", errors.Wrapf(err, "turn %d", i))
		}
	}
	s := New(opts...)
	s.turns = turns
	return s, nil
}

func encodeIndented(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
