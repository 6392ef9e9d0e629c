package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one completed pipeline run, kept for history.
type Run struct {
	ID             string
	UserID         string
	QueryType      string
	FinalState     string
	ContentVersion string
	Withheld       string // JSON array stored as text
	DurationMS     int64
	CreatedAt      time.Time
}

// Job is a unit of background work in the queue. PayloadJSON is opaque to
// the store; the worker registered for Type decodes it.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // one of the Job* status constants
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Teaching is one imported sentence attributed to a tradition.
type Teaching struct {
	ID        int64
	Tradition string
	Text      string
	Source    string
	CreatedAt time.Time
}
