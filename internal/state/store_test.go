package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/purpose"
	"github.com/kalambet/oracle/internal/shadow"
	"github.com/kalambet/oracle/internal/storage"
)

type memBacking struct {
	mu    sync.Mutex
	data  map[string][]byte
	gets  int
	putFn func(userID, track string) error
}

func newMemBacking() *memBacking {
	return &memBacking{data: make(map[string][]byte)}
}

func (m *memBacking) GetUserState(_ context.Context, userID, track string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	b, ok := m.data[userID+"/"+track]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *memBacking) PutUserStates(_ context.Context, userID string, writes []storage.StateWrite, _ time.Time) error {
	if m.putFn != nil {
		for _, w := range writes {
			if err := m.putFn(userID, w.Track); err != nil {
				return err
			}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		m.data[userID+"/"+w.Track] = w.Payload
	}
	return nil
}

func (m *memBacking) has(userID string, track Track) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[userID+"/"+string(track)]
	return ok
}

func (m *memBacking) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func TestStoreGetAbsent(t *testing.T) {
	s, err := NewStore(TrackShadow, newMemBacking(), 4, shadow.State.Clone)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, ok, err := s.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("ok = true for unknown user")
	}
}

func TestStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStore(TrackShadow, newMemBacking(), 4, shadow.State.Clone)

	if err := s.Put(ctx, "u1", shadow.State{Sessions: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "u1", shadow.State{Sessions: 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", got.Sessions)
	}
}

func TestStoreEvictedEntriesReloadFromBacking(t *testing.T) {
	ctx := context.Background()
	b := newMemBacking()
	s, _ := NewStore(TrackShadow, b, 2, shadow.State.Clone)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, id, shadow.State{Sessions: i + 1}); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}
	if s.Cached() != 2 {
		t.Errorf("Cached = %d, want 2", s.Cached())
	}

	before := b.getCount()
	got, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get(a) = %v, %v", ok, err)
	}
	if got.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", got.Sessions)
	}
	if b.getCount() != before+1 {
		t.Errorf("backing reads = %d, want %d", b.getCount(), before+1)
	}

	// Now cached again.
	if _, _, err := s.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if b.getCount() != before+1 {
		t.Error("second Get should be served from cache")
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStore(TrackShadow, newMemBacking(), 4, shadow.State.Clone)

	orig := shadow.State{Complexes: []shadow.Complex{{Type: shadow.Persona, Indicators: []string{"reputation"}}}}
	if err := s.Put(ctx, "u", orig); err != nil {
		t.Fatal(err)
	}
	orig.Complexes[0].Indicators[0] = "mutated"

	got, _, _ := s.Get(ctx, "u")
	got.Complexes[0].Indicators[0] = "also mutated"

	again, _, _ := s.Get(ctx, "u")
	if again.Complexes[0].Indicators[0] != "reputation" {
		t.Errorf("cached value mutated: %q", again.Complexes[0].Indicators[0])
	}
}

func TestStorePutFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	b := newMemBacking()
	s, _ := NewStore(TrackShadow, b, 4, shadow.State.Clone)

	if err := s.Put(ctx, "u", shadow.State{Sessions: 1}); err != nil {
		t.Fatal(err)
	}
	b.putFn = func(string, string) error { return errors.New("disk full") }
	if err := s.Put(ctx, "u", shadow.State{Sessions: 2}); err == nil {
		t.Fatal("expected error")
	}
	got, _, _ := s.Get(ctx, "u")
	if got.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", got.Sessions)
	}
}

func TestUsersCommitWritesEveryTrack(t *testing.T) {
	ctx := context.Background()
	b := newMemBacking()
	u, err := NewUsers(b, 4)
	if err != nil {
		t.Fatal(err)
	}

	snap := Snapshot{
		Profile: culture.Profile{PrimaryCulture: "celtic"},
		Shadow:  shadow.State{Sessions: 1},
		Purpose: purpose.State{Sessions: 1},
	}
	if err := u.Commit(ctx, "u", snap); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for _, tr := range []Track{TrackProfile, TrackShadow, TrackPurpose, TrackDream} {
		if !b.has("u", tr) {
			t.Errorf("track %s not written", tr)
		}
	}
	reads := b.getCount()
	got, ok, err := u.Shadow.Get(ctx, "u")
	if err != nil || !ok || got.Sessions != 1 {
		t.Errorf("Shadow.Get = %+v, %v, %v", got, ok, err)
	}
	if b.getCount() != reads {
		t.Error("committed state should be served from cache")
	}
}

func TestUsersCommitFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	b := newMemBacking()
	u, _ := NewUsers(b, 4)

	if err := u.Commit(ctx, "u", Snapshot{Shadow: shadow.State{Sessions: 1}}); err != nil {
		t.Fatal(err)
	}
	b.putFn = func(_, track string) error {
		if track == string(TrackPurpose) {
			return errors.New("disk full")
		}
		return nil
	}
	err := u.Commit(ctx, "u", Snapshot{
		Profile: culture.Profile{PrimaryCulture: "celtic"},
		Shadow:  shadow.State{Sessions: 2},
		Purpose: purpose.State{Sessions: 2},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	got, _, _ := u.Shadow.Get(ctx, "u")
	if got.Sessions != 1 {
		t.Errorf("cached Sessions = %d, want 1", got.Sessions)
	}
	b.putFn = nil
	fresh, _ := NewUsers(b, 4)
	got, _, _ = fresh.Shadow.Get(ctx, "u")
	if got.Sessions != 1 {
		t.Errorf("stored Sessions = %d, want 1", got.Sessions)
	}
	p, _, _ := fresh.Profiles.Get(ctx, "u")
	if p.PrimaryCulture != "" {
		t.Errorf("stored PrimaryCulture = %q, want empty", p.PrimaryCulture)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	var k KeyedMutex
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "user")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if k.Len() != 0 {
		t.Errorf("Len = %d after all unlocks, want 0", k.Len())
	}
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	var k KeyedMutex
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx2, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked: %v", err)
	}
	unlockB()
	unlockB() // idempotent
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	var k KeyedMutex
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if k.Len() != 1 {
		t.Errorf("Len = %d, want 1", k.Len())
	}
}
