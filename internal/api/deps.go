// Package api exposes the oracle over HTTP and MCP. Both surfaces share
// Deps and record every completed run in the run history.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/oracle/internal/community"
	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/dream"
	"github.com/kalambet/oracle/internal/pipeline"
	"github.com/kalambet/oracle/internal/purpose"
	"github.com/kalambet/oracle/internal/shadow"
	"github.com/kalambet/oracle/internal/sovereignty"
	"github.com/kalambet/oracle/internal/state"
	"github.com/kalambet/oracle/internal/storage"
)

// Querier runs the pipeline. Implemented by pipeline.Orchestrator.
type Querier interface {
	ProcessQuery(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// RunStore keeps the run history. Implemented by storage.Store.
type RunStore interface {
	RecordRun(ctx context.Context, r storage.Run) error
	ListRuns(ctx context.Context, userID string, limit int) ([]storage.Run, error)
}

// Sharer queues community shares. Implemented by community.Service.
type Sharer interface {
	Share(ctx context.Context, req community.ShareRequest) (community.ShareResult, error)
}

// Deps holds everything the HTTP and MCP surfaces need.
type Deps struct {
	Pipeline  Querier
	Gate      *sovereignty.Gate
	Users     *state.Users
	Runs      RunStore
	Community Sharer
	Content   content.Source
	Token     string
	Metrics   http.Handler // optional; mounted at /metrics
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// process runs req and records it when it completes. A failed run is
// never recorded. A history write failure is logged, not returned: the
// user's state is already committed at that point.
func (d Deps) process(ctx context.Context, req pipeline.Request) (pipeline.Response, error) {
	start := time.Now()
	resp, err := d.Pipeline.ProcessQuery(ctx, req)
	if err != nil {
		return pipeline.Response{}, err
	}
	if d.Runs == nil {
		return resp, nil
	}

	withheld, _ := json.Marshal(resp.WithheldTraditions)
	run := storage.Run{
		ID:             resp.RunID,
		UserID:         req.UserID,
		QueryType:      string(req.QueryType),
		FinalState:     string(resp.State),
		ContentVersion: resp.ContentVersion,
		Withheld:       string(withheld),
		DurationMS:     time.Since(start).Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.Runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		d.logger().Warn("recording run failed", "run_id", resp.RunID, "error", err)
	}
	return resp, nil
}

// checkSovereignty evaluates a standalone gate request. Consent defaults
// to given and the intended use to personal guidance, as in the pipeline.
func (d Deps) checkSovereignty(tradition, requester, use string, consent *bool) sovereignty.Decision {
	if use == "" {
		use = sovereignty.DefaultIntendedUse
	}
	return d.Gate.Evaluate(sovereignty.Request{
		Tradition:        tradition,
		RequesterCulture: requester,
		IntendedUse:      use,
		ConsentGiven:     consent == nil || *consent,
	})
}

// UserState is every stored track for one user. Absent tracks are nil.
type UserState struct {
	UserID  string           `json:"userId"`
	Profile *culture.Profile `json:"profile"`
	Shadow  *shadow.State    `json:"shadow"`
	Purpose *purpose.State   `json:"purpose"`
	Dream   *dream.State     `json:"dream"`
}

func (s UserState) empty() bool {
	return s.Profile == nil && s.Shadow == nil && s.Purpose == nil && s.Dream == nil
}

func (d Deps) userState(ctx context.Context, userID string) (UserState, error) {
	out := UserState{UserID: userID}
	if err := loadTrack(ctx, d.Users.Profiles, userID, &out.Profile); err != nil {
		return out, err
	}
	if err := loadTrack(ctx, d.Users.Shadow, userID, &out.Shadow); err != nil {
		return out, err
	}
	if err := loadTrack(ctx, d.Users.Purpose, userID, &out.Purpose); err != nil {
		return out, err
	}
	if err := loadTrack(ctx, d.Users.Dream, userID, &out.Dream); err != nil {
		return out, err
	}
	return out, nil
}

func loadTrack[T any](ctx context.Context, s *state.Store[T], userID string, dst **T) error {
	v, ok, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		*dst = &v
	}
	return nil
}

// RunView is the JSON shape of one run history entry.
type RunView struct {
	ID             string    `json:"id"`
	QueryType      string    `json:"queryType"`
	FinalState     string    `json:"finalState"`
	ContentVersion string    `json:"contentVersion"`
	Withheld       []string  `json:"withheldTraditions"`
	DurationMS     int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

func runViews(runs []storage.Run) []RunView {
	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		v := RunView{
			ID:             r.ID,
			QueryType:      r.QueryType,
			FinalState:     r.FinalState,
			ContentVersion: r.ContentVersion,
			Withheld:       []string{},
			DurationMS:     r.DurationMS,
			CreatedAt:      r.CreatedAt,
		}
		if err := json.Unmarshal([]byte(r.Withheld), &v.Withheld); err != nil || v.Withheld == nil {
			v.Withheld = []string{}
		}
		out = append(out, v)
	}
	return out
}
