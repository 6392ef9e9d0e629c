package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job statuses. A job moves pending → running → completed, or back to
// pending with a later run_after until it runs out of attempts and fails.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// DefaultMaxAttempts applies to jobs enqueued without a MaxAttempts.
const DefaultMaxAttempts = 3

const (
	retryBase = 2 * time.Second
	retryCap  = 5 * time.Minute
)

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// EnqueueJob inserts job as pending. A zero RunAfter means now.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	_, err := s.db.Exec(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, NULL)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, job.MaxAttempts, stamp(job.RunAfter), stamp(now), stamp(now),
	)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimNextJob marks the oldest due pending job of one of types as running
// and returns it, or returns nil when nothing is due. The select and update
// are one statement, so two workers never claim the same job.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := stamp(time.Now())

	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}
	query := `UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (?` + strings.Repeat(", ?", len(types)-1) + `)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return j, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return nil, err
	}
	j.LastError = lastError.String

	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&j.RunAfter, runAfter}, {&j.CreatedAt, createdAt}, {&j.UpdatedAt, updatedAt}} {
		t, err := time.Parse(time.RFC3339, f.src)
		if err != nil {
			return nil, fmt.Errorf("job %s: bad timestamp %q: %w", j.ID, f.src, err)
		}
		*f.dst = t
	}
	return &j, nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, JobCompleted, stamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff, or marked failed once it has used max_attempts.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}

	now := time.Now()
	attempts++
	status, runAfter := JobPending, now.Add(retryDelay(attempts))
	if attempts >= maxAttempts {
		status, runAfter = JobFailed, now
	}
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, stamp(runAfter), stamp(now), id); err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return tx.Commit()
}

// retryDelay doubles from retryBase per attempt, capped at retryCap.
func retryDelay(attempts int) time.Duration {
	d := retryBase
	for i := 1; i < attempts && d < retryCap; i++ {
		d *= 2
	}
	return min(d, retryCap)
}

// PruneJobs deletes completed and failed jobs last updated before cutoff.
func (s *Store) PruneJobs(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`, JobCompleted, JobFailed, stamp(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
