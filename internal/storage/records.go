package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryAll runs query and appends one scanned value per row.
func queryAll[T any](ctx context.Context, db *sql.DB, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func parseStamp(col, text string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q: %w", col, text, err)
	}
	return t, nil
}

// User states: one opaque JSON document per (user, track).

// GetUserState returns the stored payload for one user track.
func (s *Store) GetUserState(ctx context.Context, userID, track string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM user_states WHERE user_id = ? AND track = ?`, userID, track).
		Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return []byte(payload), err
}

const upsertUserState = `INSERT INTO user_states (user_id, track, payload, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (user_id, track) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

// StateWrite is one track payload of a multi-track write.
type StateWrite struct {
	Track   string
	Payload []byte
}

// PutUserStates replaces several tracks for userID in one transaction:
// either every write lands or none does.
func (s *Store) PutUserStates(ctx context.Context, userID string, writes []StateWrite, updatedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := stamp(updatedAt)
	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, upsertUserState, userID, w.Track, string(w.Payload), at); err != nil {
			return fmt.Errorf("saving %s state for %s: %w", w.Track, userID, err)
		}
	}
	return tx.Commit()
}

// UserTracks lists the tracks stored for userID.
func (s *Store) UserTracks(ctx context.Context, userID string) ([]string, error) {
	return queryAll(ctx, s.db, func(r rowScanner) (string, error) {
		var track string
		return track, r.Scan(&track)
	}, `SELECT track FROM user_states WHERE user_id = ? ORDER BY track`, userID)
}

// Runs: history of completed pipeline runs.

const runColumns = `id, user_id, query_type, final_state, content_version, withheld, duration_ms, created_at`

// RecordRun appends r to the history. An empty Withheld is stored as [].
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if r.Withheld == "" {
		r.Withheld = "[]"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.QueryType, r.FinalState, r.ContentVersion, r.Withheld, r.DurationMS, stamp(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ID, err)
	}
	return nil
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var created string
	if err := row.Scan(&r.ID, &r.UserID, &r.QueryType, &r.FinalState, &r.ContentVersion, &r.Withheld, &r.DurationMS, &created); err != nil {
		return r, err
	}
	var err error
	r.CreatedAt, err = parseStamp("created_at", created)
	return r, err
}

// ListRuns returns the most recent runs for userID, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	return queryAll(ctx, s.db, scanRun,
		`SELECT `+runColumns+` FROM runs WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
}

// PruneRuns deletes runs created before cutoff and returns how many went.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, stamp(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Teachings: imported sentences, unique per tradition.

// AddTeachings stores texts for tradition, skipping ones already present.
// It returns the number of new rows.
func (s *Store) AddTeachings(ctx context.Context, tradition, source string, texts []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO teachings (tradition, text, source, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tradition, text) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := stamp(time.Now())
	var added int64
	for _, text := range texts {
		res, err := stmt.ExecContext(ctx, tradition, text, source, now)
		if err != nil {
			return 0, fmt.Errorf("adding %s teaching: %w", tradition, err)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	return int(added), tx.Commit()
}

// Teachings returns up to limit teachings for tradition in import order.
func (s *Store) Teachings(ctx context.Context, tradition string, limit int) ([]Teaching, error) {
	return queryAll(ctx, s.db, func(row rowScanner) (Teaching, error) {
		var tc Teaching
		var created string
		if err := row.Scan(&tc.ID, &tc.Tradition, &tc.Text, &tc.Source, &created); err != nil {
			return tc, err
		}
		var err error
		tc.CreatedAt, err = parseStamp("created_at", created)
		return tc, err
	}, `SELECT id, tradition, text, source, created_at FROM teachings WHERE tradition = ? ORDER BY id LIMIT ?`, tradition, limit)
}
