package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/oracle/internal/storage"
)

// ErrNotFound must be returned by Backing.GetUserState for absent entries.
var ErrNotFound = storage.ErrNotFound

// Track names one per-user development track.
type Track string

const (
	TrackProfile Track = "profile"
	TrackShadow  Track = "shadow"
	TrackPurpose Track = "purpose"
	TrackDream   Track = "dream"
)

// Backing defines the durable storage a Store sits in front of.
// Implemented by storage.Store.
type Backing interface {
	GetUserState(ctx context.Context, userID, track string) ([]byte, error)
	// PutUserStates replaces every listed track for userID, all or nothing.
	PutUserStates(ctx context.Context, userID string, writes []storage.StateWrite, updatedAt time.Time) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the wall clock in UTC.
func RealClock() Clock { return realClock{} }

// DefaultCacheSize bounds each track's in-memory cache.
const DefaultCacheSize = 1024

// Store is a per-user keyed store for one track: a bounded LRU over a
// durable backing. Get returns absent for unknown users; Put overwrites.
// There is no delete.
type Store[T any] struct {
	track   Track
	backing Backing
	clock   Clock
	clone   func(T) T

	mu    sync.Mutex
	cache *lru.Cache[string, T]
}

// NewStore creates a store for track. clone must return a deep copy so
// callers can never mutate cached values; nil means T has no reference
// fields.
func NewStore[T any](track Track, backing Backing, size int, clone func(T) T) (*Store[T], error) {
	return NewStoreWithClock(track, backing, size, clone, realClock{})
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock[T any](track Track, backing Backing, size int, clone func(T) T, clock Clock) (*Store[T], error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, T](size)
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", track, err)
	}
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Store[T]{
		track:   track,
		backing: backing,
		clock:   clock,
		clone:   clone,
		cache:   cache,
	}, nil
}

// Track returns the track this store holds.
func (s *Store[T]) Track() Track { return s.track }

// Get returns the state for userID. ok is false when the user has none.
func (s *Store[T]) Get(ctx context.Context, userID string) (v T, ok bool, err error) {
	// Fast path: the LRU is safe for concurrent use.
	if cached, hit := s.cache.Get(userID); hit {
		return s.clone(cached), true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the lock.
	if cached, hit := s.cache.Get(userID); hit {
		return s.clone(cached), true, nil
	}

	payload, err := s.backing.GetUserState(ctx, userID, string(s.track))
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("loading %s state: %w", s.track, err)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s state: %w", s.track, err)
	}
	s.cache.Add(userID, v)
	return s.clone(v), true, nil
}

// Put persists v for userID, replacing any previous value.
func (s *Store[T]) Put(ctx context.Context, userID string, v T) error {
	p, err := s.prepare(userID, v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backing.PutUserStates(ctx, userID, []storage.StateWrite{p.write}, s.clock.Now()); err != nil {
		return fmt.Errorf("saving %s state: %w", s.track, err)
	}
	p.publish()
	return nil
}

// staged is an encoded write waiting for its transaction. publish puts the
// value in the cache and must run with mu held, after the commit.
type staged struct {
	write   storage.StateWrite
	mu      *sync.Mutex
	publish func()
}

func (s *Store[T]) prepare(userID string, v T) (staged, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return staged{}, fmt.Errorf("encoding %s state: %w", s.track, err)
	}
	v = s.clone(v)
	return staged{
		write:   storage.StateWrite{Track: string(s.track), Payload: payload},
		mu:      &s.mu,
		publish: func() { s.cache.Add(userID, v) },
	}, nil
}

// Cached returns the number of users currently held in memory.
func (s *Store[T]) Cached() int { return s.cache.Len() }
