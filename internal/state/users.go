package state

import (
	"context"
	"fmt"

	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/dream"
	"github.com/kalambet/oracle/internal/purpose"
	"github.com/kalambet/oracle/internal/shadow"
	"github.com/kalambet/oracle/internal/storage"
)

// Users bundles the per-user stores. The pipeline is their only writer.
type Users struct {
	Profiles *Store[culture.Profile]
	Shadow   *Store[shadow.State]
	Purpose  *Store[purpose.State]
	Dream    *Store[dream.State]

	backing Backing
	clock   Clock
}

// Snapshot is every track of one user as a completed run leaves them.
type Snapshot struct {
	Profile culture.Profile
	Shadow  shadow.State
	Purpose purpose.State
	Dream   dream.State
}

// NewUsers builds all track stores over one backing, each holding at most
// cacheSize users in memory.
func NewUsers(backing Backing, cacheSize int) (*Users, error) {
	return NewUsersWithClock(backing, cacheSize, realClock{})
}

// NewUsersWithClock creates the stores with a custom clock (for testing).
func NewUsersWithClock(backing Backing, cacheSize int, clock Clock) (*Users, error) {
	u := Users{backing: backing, clock: clock}
	var err error
	if u.Profiles, err = NewStoreWithClock(TrackProfile, backing, cacheSize, culture.Profile.Clone, clock); err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}
	if u.Shadow, err = NewStoreWithClock(TrackShadow, backing, cacheSize, shadow.State.Clone, clock); err != nil {
		return nil, fmt.Errorf("shadow store: %w", err)
	}
	if u.Purpose, err = NewStoreWithClock(TrackPurpose, backing, cacheSize, purpose.State.Clone, clock); err != nil {
		return nil, fmt.Errorf("purpose store: %w", err)
	}
	if u.Dream, err = NewStoreWithClock(TrackDream, backing, cacheSize, dream.State.Clone, clock); err != nil {
		return nil, fmt.Errorf("dream store: %w", err)
	}
	return &u, nil
}

// Commit writes every track of snap for userID in one backing transaction.
// Caches change only after the transaction commits, so a failed commit
// leaves both the backing and the caches as they were.
func (u *Users) Commit(ctx context.Context, userID string, snap Snapshot) error {
	pending := make([]staged, 0, 4)
	for _, prepare := range []func() (staged, error){
		func() (staged, error) { return u.Profiles.prepare(userID, snap.Profile) },
		func() (staged, error) { return u.Shadow.prepare(userID, snap.Shadow) },
		func() (staged, error) { return u.Purpose.prepare(userID, snap.Purpose) },
		func() (staged, error) { return u.Dream.prepare(userID, snap.Dream) },
	} {
		p, err := prepare()
		if err != nil {
			return err
		}
		pending = append(pending, p)
	}

	writes := make([]storage.StateWrite, len(pending))
	for i, p := range pending {
		p.mu.Lock()
		defer p.mu.Unlock()
		writes[i] = p.write
	}
	if err := u.backing.PutUserStates(ctx, userID, writes, u.clock.Now()); err != nil {
		return fmt.Errorf("committing state for %s: %w", userID, err)
	}
	for _, p := range pending {
		p.publish()
	}
	return nil
}
