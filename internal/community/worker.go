package community

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/oracle/internal/storage"
)

// JobStore is the slice of the outbox the worker drives.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

const defaultPoll = 500 * time.Millisecond

// errBadShare marks payloads that can never be published.
var errBadShare = errors.New("bad share payload")

// Worker moves queued shares from the outbox onto the community bus.
type Worker struct {
	store  JobStore
	pub    Publisher
	prefix string
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker returns a Worker publishing under prefix (DefaultSubjectPrefix
// when empty) and polling every poll (500ms when not positive).
func NewWorker(store JobStore, pub Publisher, prefix string, poll time.Duration) *Worker {
	w := &Worker{store: store, pub: pub, prefix: prefix, poll: poll, logger: slog.Default()}
	if w.prefix == "" {
		w.prefix = DefaultSubjectPrefix
	}
	if w.poll <= 0 {
		w.poll = defaultPoll
	}
	return w
}

func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	if l != nil {
		w.logger = l
	}
	return w
}

// Subject is where shares for community are published.
func (w *Worker) Subject(community string) string {
	return w.prefix + "." + community
}

// Run drains the queue on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	tick := time.NewTicker(w.poll)
	defer tick.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("community worker", "error", err)
			return
		}
		if !worked {
			return
		}
	}
}

// RunOnce handles at most one queued share and reports whether it found one.
// Publish failures are recorded on the job, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil || job == nil {
		return false, err
	}
	log := w.logger.With("job_id", job.ID, "attempt", job.Attempts+1)

	if err := w.publish(ctx, job); err != nil {
		log.Warn("share not published", "error", err)
		if ferr := w.store.FailJob(job.ID, err.Error()); ferr != nil {
			log.Error("recording share failure", "error", ferr)
		}
		return true, nil
	}
	return true, w.store.CompleteJob(job.ID)
}

func (w *Worker) publish(ctx context.Context, job *storage.Job) error {
	var msg Message
	if err := json.Unmarshal([]byte(job.PayloadJSON), &msg); err != nil {
		return fmt.Errorf("%w: %v", errBadShare, err)
	}
	if msg.Community == "" {
		return fmt.Errorf("%w: no community", errBadShare)
	}
	subject := w.Subject(msg.Community)
	if err := w.pub.Publish(ctx, subject, []byte(job.PayloadJSON)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	w.logger.Debug("share published", "share_id", msg.ShareID, "subject", subject)
	return nil
}
