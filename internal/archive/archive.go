// Package archive keeps replay runs in a SQLite database so they can be
// rescored later.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"ragchat/internal/domain"
	"ragchat/internal/replay"
)

// timeLayout is fixed-width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	backend     TEXT NOT NULL,
	result_path TEXT,
	dialogues   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	dialogue_id     INTEGER NOT NULL,
	position        INTEGER NOT NULL,
	user_utterance  TEXT NOT NULL,
	ground_truth    TEXT,
	system_response TEXT,
	meta_json       TEXT,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS turns_by_run ON turns(run_id, dialogue_id, position);
`

// Store is a SQLite replay archive.
type Store struct {
	db *sql.DB
}

// Run describes one archived replay.
type Run struct {
	ID         string
	CreatedAt  time.Time
	Backend    string
	ResultPath string
	Dialogues  int
}

// Open opens or creates the archive at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.E(domain.ErrIO, "open archive", err)
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, domain.E(domain.ErrIO, "open archive", errors.Wrap(err, "apply schema"))
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveRun stores results under a new run id and returns it. ID, CreatedAt
// and Dialogues of run are filled in when empty.
func (s *Store) SaveRun(ctx context.Context, run Run, results []replay.DialogueResult) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Dialogues = len(results)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.E(domain.ErrIO, "save run", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, backend, result_path, dialogues) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), run.Backend, nullIfEmpty(run.ResultPath), run.Dialogues,
	)
	if err != nil {
		return "", domain.E(domain.ErrIO, "save run", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (run_id, dialogue_id, position, user_utterance, ground_truth, system_response, meta_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", domain.E(domain.ErrIO, "save run", err)
	}
	defer stmt.Close()

	for _, d := range results {
		for pos, t := range d.Turns {
			meta, err := json.Marshal(t.Meta)
			if err != nil {
				return "", domain.E(domain.ErrFormat, "save run", errors.Wrapf(err, "dialogue %d turn %d meta", d.DialogueID, pos+1))
			}
			_, err = stmt.ExecContext(ctx, run.ID, d.DialogueID, pos, t.UserUtterance,
				nullable(t.GroundTruth), nullable(t.SystemResponse), string(meta), t.Timestamp.UTC().Format(timeLayout))
			if err != nil {
				return "", domain.E(domain.ErrIO, "save run", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", domain.E(domain.ErrIO, "save run", err)
	}
	log.Info().Str("run_id", run.ID).Int("dialogues", run.Dialogues).Msg("replay run archived")
	return run.ID, nil
}

// LoadRun rebuilds the results of an archived run.
func (s *Store) LoadRun(ctx context.Context, id string) ([]replay.DialogueResult, error) {
	var dialogues int
	err := s.db.QueryRowContext(ctx, `SELECT dialogues FROM runs WHERE run_id = ?`, id).Scan(&dialogues)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.ErrValidation, "load run", "no archived run %q", id)
	}
	if err != nil {
		return nil, domain.E(domain.ErrIO, "load run", err)
	}

	results := make([]replay.DialogueResult, dialogues)
	for i := range results {
		results[i] = replay.DialogueResult{DialogueID: i + 1, Turns: []replay.TurnRecord{}}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT dialogue_id, user_utterance, ground_truth, system_response, meta_json, created_at
		 FROM turns WHERE run_id = ? ORDER BY dialogue_id, position`, id)
	if err != nil {
		return nil, domain.E(domain.ErrIO, "load run", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dialogueID  int
			rec         replay.TurnRecord
			gt, resp    sql.NullString
			meta, stamp string
		)
		if err := rows.Scan(&dialogueID, &rec.UserUtterance, &gt, &resp, &meta, &stamp); err != nil {
			return nil, domain.E(domain.ErrIO, "load run", err)
		}
		if dialogueID < 1 || dialogueID > dialogues {
			return nil, domain.Ef(domain.ErrFormat, "load run", "turn references dialogue %d of %d", dialogueID, dialogues)
		}
		rec.GroundTruth = fromNull(gt)
		rec.SystemResponse = fromNull(resp)
		if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
			return nil, domain.E(domain.ErrFormat, "load run", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, domain.E(domain.ErrFormat, "load run", err)
		}
		results[dialogueID-1].Turns = append(results[dialogueID-1].Turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.E(domain.ErrIO, "load run", err)
	}
	return results, nil
}

// Runs lists archived runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, backend, COALESCE(result_path, ''), dialogues FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, domain.E(domain.ErrIO, "list runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r     Run
			stamp string
		)
		if err := rows.Scan(&r.ID, &stamp, &r.Backend, &r.ResultPath, &r.Dialogues); err != nil {
			return nil, domain.E(domain.ErrIO, "list runs", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, domain.E(domain.ErrFormat, "list runs", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.E(domain.ErrIO, "list runs", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
