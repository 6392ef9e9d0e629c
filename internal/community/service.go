// Package community shares gated wisdom with named communities. Sharing is
// asynchronous: Service.Share evaluates the sovereignty gate and writes an
// outbox job, Worker publishes queued shares.
package community

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/sovereignty"
	"github.com/kalambet/oracle/internal/storage"
)

// JobType is the outbox job type for community shares.
const JobType = "community_share"

var (
	ErrInvalidShare = errors.New("invalid share request")

	communityName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// ShareRequest asks to publish content from a tradition to a community.
type ShareRequest struct {
	UserID      string `json:"userId"`
	Community   string `json:"community"`
	Tradition   string `json:"tradition"`
	Content     string `json:"content"`
	IntendedUse string `json:"intendedUse,omitempty"`
	Consent     *bool  `json:"consent,omitempty"`
}

// ShareResult reports what happened to a share. On denial Content carries
// the gate's guidance instead of the submitted text and nothing is queued.
type ShareResult struct {
	ShareID  string               `json:"shareId,omitempty"`
	Queued   bool                 `json:"queued"`
	Content  string               `json:"content"`
	Decision sovereignty.Decision `json:"decision"`
}

// Message is the payload of an outbox job and of the published message.
type Message struct {
	ShareID   string    `json:"shareId"`
	UserID    string    `json:"userId"`
	Community string    `json:"community"`
	Tradition string    `json:"tradition"`
	Content   string    `json:"content"`
	Guidance  string    `json:"guidance,omitempty"`
	SharedAt  time.Time `json:"sharedAt"`
}

// Enqueuer writes outbox jobs. Implemented by storage.Store.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// ProfileLookup resolves the requester's stored cultural profile.
// Implemented by state.Store[culture.Profile].
type ProfileLookup interface {
	Get(ctx context.Context, userID string) (culture.Profile, bool, error)
}

// Service evaluates and queues community shares.
type Service struct {
	gate        *sovereignty.Gate
	profiles    ProfileLookup
	jobs        Enqueuer
	maxAttempts int
	now         func() time.Time
}

// NewService creates a Service. profiles may be nil, in which case every
// requester is treated as holding the universal profile.
func NewService(gate *sovereignty.Gate, profiles ProfileLookup, jobs Enqueuer) *Service {
	return &Service{
		gate:        gate,
		profiles:    profiles,
		jobs:        jobs,
		maxAttempts: storage.DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Share gates req and, if permitted, queues it for publishing.
func (s *Service) Share(ctx context.Context, req ShareRequest) (ShareResult, error) {
	community, err := validate(req)
	if err != nil {
		return ShareResult{}, err
	}

	profile := culture.Universal()
	if s.profiles != nil {
		stored, ok, err := s.profiles.Get(ctx, req.UserID)
		if err != nil {
			return ShareResult{}, fmt.Errorf("loading profile: %w", err)
		}
		if ok {
			profile = stored
		}
	}

	use := req.IntendedUse
	if strings.TrimSpace(use) == "" {
		use = sovereignty.DefaultIntendedUse
	}
	d := s.gate.Evaluate(sovereignty.Request{
		Tradition:        req.Tradition,
		RequesterCulture: profile.RequesterCulture(),
		IntendedUse:      use,
		ConsentGiven:     req.Consent == nil || *req.Consent,
	})
	if !d.Permitted {
		return ShareResult{Content: d.GuidanceText, Decision: d}, nil
	}

	msg := Message{
		ShareID:   uuid.NewString(),
		UserID:    req.UserID,
		Community: community,
		Tradition: d.Tradition,
		Content:   req.Content,
		Guidance:  d.GuidanceText,
		SharedAt:  s.now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return ShareResult{}, fmt.Errorf("encoding share: %w", err)
	}
	if err := s.jobs.EnqueueJob(storage.Job{
		ID:          msg.ShareID,
		Type:        JobType,
		PayloadJSON: string(payload),
		MaxAttempts: s.maxAttempts,
	}); err != nil {
		return ShareResult{}, fmt.Errorf("enqueueing share: %w", err)
	}
	return ShareResult{ShareID: msg.ShareID, Queued: true, Content: req.Content, Decision: d}, nil
}

func validate(req ShareRequest) (string, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return "", fmt.Errorf("%w: userId must not be empty", ErrInvalidShare)
	}
	if strings.TrimSpace(req.Content) == "" {
		return "", fmt.Errorf("%w: content must not be empty", ErrInvalidShare)
	}
	if strings.TrimSpace(req.Tradition) == "" {
		return "", fmt.Errorf("%w: tradition must not be empty", ErrInvalidShare)
	}
	community := culture.Normalize(req.Community)
	if !communityName.MatchString(community) {
		return "", fmt.Errorf("%w: community %q is not a valid name", ErrInvalidShare, req.Community)
	}
	return community, nil
}
