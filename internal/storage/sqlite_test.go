package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsSchemaVersions(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want, err := first.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if err := first.PutUserStates(context.Background(), "u1", []StateWrite{{Track: "profile", Payload: []byte(`{}`)}}, time.Now()); err != nil {
		t.Fatalf("PutUserStates: %v", err)
	}
	first.Close()

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schema versions changed on reopen (-first +second):\n%s", diff)
	}
	if _, err := second.GetUserState(context.Background(), "u1", "profile"); err != nil {
		t.Errorf("state lost across reopen: %v", err)
	}
}

func TestOpen_Schema(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Errorf("versions = %v, want to start at 1", versions)
	}

	objects := map[string][]string{
		"table": {"user_states", "runs", "jobs", "teachings"},
		"index": {"idx_runs_user_created", "idx_runs_created", "idx_jobs_status_run_after", "idx_teachings_tradition"},
	}
	for kind, names := range objects {
		for _, name := range names {
			var n int
			if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n); err != nil {
				t.Fatalf("sqlite_master: %v", err)
			}
			if n != 1 {
				t.Errorf("%s %s missing", kind, name)
			}
		}
	}
}

func TestJobDefaults(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec(`INSERT INTO jobs (id, type, payload_json) VALUES ('raw', 'community_share', '{}')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var status string
	var attempts, maxAttempts int
	if err := s.db.QueryRow(`SELECT status, attempts, max_attempts FROM jobs WHERE id = 'raw'`).
		Scan(&status, &attempts, &maxAttempts); err != nil {
		t.Fatalf("select: %v", err)
	}
	if status != JobPending || attempts != 0 || maxAttempts != DefaultMaxAttempts {
		t.Errorf("defaults = %s/%d/%d", status, attempts, maxAttempts)
	}
}

func TestUserStateNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUserState(context.Background(), "nobody", "shadow")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUserStateUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.PutUserStates(ctx, "u1", []StateWrite{{Track: "shadow", Payload: []byte(`{"sessions":1}`)}}, now); err != nil {
		t.Fatalf("PutUserStates: %v", err)
	}
	if err := s.PutUserStates(ctx, "u1", []StateWrite{{Track: "shadow", Payload: []byte(`{"sessions":2}`)}}, now); err != nil {
		t.Fatalf("PutUserStates: %v", err)
	}
	if err := s.PutUserStates(ctx, "u1", []StateWrite{{Track: "profile", Payload: []byte(`{}`)}}, now); err != nil {
		t.Fatalf("PutUserStates: %v", err)
	}

	got, err := s.GetUserState(ctx, "u1", "shadow")
	if err != nil {
		t.Fatalf("GetUserState: %v", err)
	}
	if string(got) != `{"sessions":2}` {
		t.Errorf("payload = %s, want last write", got)
	}

	tracks, err := s.UserTracks(ctx, "u1")
	if err != nil {
		t.Fatalf("UserTracks: %v", err)
	}
	if len(tracks) != 2 || tracks[0] != "profile" || tracks[1] != "shadow" {
		t.Errorf("tracks = %v, want [profile shadow]", tracks)
	}
}

func TestPutUserStates_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.PutUserStates(ctx, "u1", []StateWrite{
		{Track: "profile", Payload: []byte(`{"v":1}`)},
		{Track: "shadow", Payload: []byte(`{"v":1}`)},
	}, now); err != nil {
		t.Fatalf("PutUserStates: %v", err)
	}

	if _, err := s.db.Exec(`CREATE TRIGGER refuse_purpose BEFORE INSERT ON user_states
		WHEN NEW.track = 'purpose' BEGIN SELECT RAISE(ABORT, 'purpose refused'); END`); err != nil {
		t.Fatalf("creating trigger: %v", err)
	}
	err := s.PutUserStates(ctx, "u1", []StateWrite{
		{Track: "profile", Payload: []byte(`{"v":2}`)},
		{Track: "shadow", Payload: []byte(`{"v":2}`)},
		{Track: "purpose", Payload: []byte(`{"v":2}`)},
	}, now)
	if err == nil {
		t.Fatal("expected error from refused track")
	}

	for _, track := range []string{"profile", "shadow"} {
		got, err := s.GetUserState(ctx, "u1", track)
		if err != nil {
			t.Fatalf("GetUserState(%s): %v", track, err)
		}
		if string(got) != `{"v":1}` {
			t.Errorf("%s = %s after rolled back write, want {\"v\":1}", track, got)
		}
	}
	if _, err := s.GetUserState(ctx, "u1", "purpose"); err != ErrNotFound {
		t.Errorf("purpose err = %v, want ErrNotFound", err)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		r := Run{
			ID:             fmt.Sprintf("run-%d", i),
			UserID:         "u1",
			QueryType:      "wisdom_synthesis",
			FinalState:     "Completed",
			ContentVersion: "2026.10.1",
			DurationMS:     int64(10 * i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	if err := s.RecordRun(ctx, Run{ID: "other", UserID: "u2", QueryType: "comprehensive", FinalState: "Completed", CreatedAt: base}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := s.ListRuns(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Errorf("order = %s, %s; want run-2, run-1", runs[0].ID, runs[1].ID)
	}
	if runs[0].Withheld != "[]" {
		t.Errorf("Withheld = %q, want []", runs[0].Withheld)
	}
	if !runs[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", runs[0].CreatedAt)
	}
}

func TestPruneRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := Run{ID: "old", UserID: "u", QueryType: "x", FinalState: "Completed", CreatedAt: now.Add(-100 * 24 * time.Hour)}
	recent := Run{ID: "recent", UserID: "u", QueryType: "x", FinalState: "Completed", CreatedAt: now}
	for _, r := range []Run{old, recent} {
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	n, err := s.PruneRuns(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	runs, _ := s.ListRuns(ctx, "u", 10)
	if len(runs) != 1 || runs[0].ID != "recent" {
		t.Errorf("remaining runs = %+v", runs)
	}
}

func TestAddTeachingsSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.AddTeachings(ctx, "celtic", "book.pdf", []string{"The land remembers.", "Honor the threshold."})
	if err != nil {
		t.Fatalf("AddTeachings: %v", err)
	}
	if n != 2 {
		t.Errorf("added = %d, want 2", n)
	}
	n, err = s.AddTeachings(ctx, "celtic", "book.pdf", []string{"The land remembers.", "Listen to the wind."})
	if err != nil {
		t.Fatalf("AddTeachings: %v", err)
	}
	if n != 1 {
		t.Errorf("added = %d, want 1", n)
	}

	got, err := s.Teachings(ctx, "celtic", 10)
	if err != nil {
		t.Fatalf("Teachings: %v", err)
	}
	want := []string{"The land remembers.", "Honor the threshold.", "Listen to the wind."}
	if len(got) != len(want) {
		t.Fatalf("got %d teachings, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("teaching %d = %q, want %q", i, got[i].Text, want[i])
		}
		if got[i].Source != "book.pdf" {
			t.Errorf("teaching %d source = %q", i, got[i].Source)
		}
	}

	if other, _ := s.Teachings(ctx, "african", 10); len(other) != 0 {
		t.Errorf("teachings leaked across traditions: %v", other)
	}
}
