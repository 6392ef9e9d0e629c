package content

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source supplies the current content table. Implementations must return
// snapshots that are never mutated after being handed out.
type Source interface {
	Table() *Table
}

// Static serves a single fixed table.
type Static struct {
	table *Table
}

// NewStatic returns a Source backed by t, or by the embedded table if t is nil.
func NewStatic(t *Table) *Static {
	if t == nil {
		t = Default()
	}
	return &Static{table: t}
}

func (s *Static) Table() *Table { return s.table }

const defaultWatchDebounce = 500 * time.Millisecond

// FileSource serves a table loaded from a YAML file and can reload it when
// the file changes. A reload that fails validation keeps the previous table.
type FileSource struct {
	path     string
	current  atomic.Pointer[Table]
	debounce time.Duration
	logger   *slog.Logger
	onReload func(*Table)
}

// FileOption customizes a FileSource.
type FileOption func(*FileSource)

// WithDebounce sets the window used to coalesce bursts of file events.
func WithDebounce(d time.Duration) FileOption {
	return func(s *FileSource) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(l *slog.Logger) FileOption {
	return func(s *FileSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReloadHook registers fn to be called after every successful reload.
func WithReloadHook(fn func(*Table)) FileOption {
	return func(s *FileSource) { s.onReload = fn }
}

// OpenFile loads the table at path. The file must exist and be valid.
func OpenFile(path string, opts ...FileOption) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving content path: %w", err)
	}
	s := &FileSource{
		path:     filepath.Clean(abs),
		debounce: defaultWatchDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) Table() *Table { return s.current.Load() }

// Path returns the absolute path of the watched file.
func (s *FileSource) Path() string { return s.path }

// Reload re-reads the file and swaps the table in on success.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading content file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return fmt.Errorf("loading %s: %w", s.path, err)
	}
	prev := s.current.Swap(t)
	if prev != nil && prev.Version != t.Version {
		s.logger.Info("content table reloaded", "from", prev.Version, "to", t.Version)
	}
	if s.onReload != nil {
		s.onReload(t)
	}
	return nil
}

// Watch reloads the table whenever the file is written, created or renamed
// into place. It blocks until ctx is cancelled.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating content watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors replace files by rename.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("content watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("content reload rejected, keeping previous table", "error", err)
			}
		}
	}
}
