// Package pipeline sequences the per-request stages: context resolution,
// archetype identification, dialogue, synthesis, pathway building and the
// sovereignty gate. It is the only writer of per-user state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/oracle/internal/archetype"
	"github.com/kalambet/oracle/internal/compose"
	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/dialogue"
	"github.com/kalambet/oracle/internal/dream"
	"github.com/kalambet/oracle/internal/pathway"
	"github.com/kalambet/oracle/internal/purpose"
	"github.com/kalambet/oracle/internal/shadow"
	"github.com/kalambet/oracle/internal/sovereignty"
	"github.com/kalambet/oracle/internal/state"
	"github.com/kalambet/oracle/internal/storage"
	"github.com/kalambet/oracle/internal/synthesis"
)

// Stage names reported in StageFailure, metrics and spans.
const (
	StageLoadState  = "load_state"
	StageContext    = "context"
	StageArchetypes = "archetypes"
	StageDialogue   = "dialogue"
	StageSynthesis  = "synthesis"
	StagePathway    = "pathway"
	StageGate       = "gate"
	StageCommit     = "commit"
)

const (
	DefaultStageTimeout = 2 * time.Second
	DefaultStoreRetries = 2

	retryBackoff  = 50 * time.Millisecond
	teachingLimit = 3
)

// TeachingStore looks up imported teachings for a tradition.
// Implemented by storage.Store.
type TeachingStore interface {
	Teachings(ctx context.Context, tradition string, limit int) ([]storage.Teaching, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock (for testing).
func WithClock(c state.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithStageTimeout bounds each external lookup.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

// WithStoreRetries sets how many times a failed lookup is retried.
func WithStoreRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.retries = n
		}
	}
}

func WithTeachings(t TeachingStore) Option {
	return func(o *Orchestrator) { o.teachings = t }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTransitionHook registers fn to observe every state transition. Hooks
// run synchronously on the run's goroutine.
func WithTransitionHook(fn func(Transition)) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, fn) }
}

// Orchestrator runs the pipeline. It is safe for concurrent use; runs for
// the same user are serialized.
type Orchestrator struct {
	src       content.Source
	users     *state.Users
	teachings TeachingStore

	resolver    *culture.Resolver
	identifier  *archetype.Identifier
	facilitator *dialogue.Facilitator
	synthesizer *synthesis.Synthesizer
	builder     *pathway.Builder
	gate        *sovereignty.Gate
	composer    *compose.Composer
	shadows     *shadow.Analyzer
	purposes    *purpose.Analyzer
	dreams      *dream.Analyzer

	locks        state.KeyedMutex
	clock        state.Clock
	stageTimeout time.Duration
	retries      int
	metrics      *Metrics
	logger       *slog.Logger
	hooks        []func(Transition)
}

// New wires all components over one content source and the user stores.
func New(src content.Source, users *state.Users, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		src:          src,
		users:        users,
		clock:        state.RealClock(),
		stageTimeout: DefaultStageTimeout,
		retries:      DefaultStoreRetries,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}
	resolver := culture.NewResolver(src)
	o.resolver = resolver
	o.identifier = archetype.NewIdentifier(src, resolver)
	o.facilitator = dialogue.NewFacilitator(src)
	o.synthesizer = synthesis.NewSynthesizerWithClock(src, o.clock)
	o.builder = pathway.NewBuilder()
	o.gate = sovereignty.NewGate(src)
	o.composer = compose.New(0)
	o.shadows = shadow.NewAnalyzer(src)
	o.purposes = purpose.NewAnalyzer(src)
	o.dreams = dream.NewAnalyzer(src)
	return o
}

// Gate returns the sovereignty gate the pipeline applies.
func (o *Orchestrator) Gate() *sovereignty.Gate { return o.gate }

// run carries everything one request produces on its way through the
// stages. Nothing in it is visible outside the run until commit.
type run struct {
	id    string
	req   Request
	state RunState
	tbl   *content.Table
	now   time.Time

	storedProfile culture.Profile
	hasProfile    bool
	storedShadow  shadow.State
	storedPurpose purpose.State
	storedDream   dream.State

	profile     culture.Profile
	nextPurpose purpose.State
	nextDream   dream.State
	archetypes  []archetype.Archetype
	detected    []shadow.Complex
	nextShadow  shadow.State
	dialogue    dialogue.ShadowLightDialogue
	sources     []synthesis.Source
	record      synthesis.Record
	pathway     pathway.Pathway

	decisions []sovereignty.Decision
	byTrad    map[string]sovereignty.Decision
	withheld  []string
	shared    sharedView
}

type stage struct {
	name string
	to   RunState
	fn   func(context.Context, *run) error
}

// ProcessQuery validates req and walks the state machine
// Received → ContextResolved → ArchetypesIdentified → DialogueComplete →
// Synthesized → GateChecked → Completed. Any stage error moves the run to
// Failed and is returned as a *StageFailure; user state is written only
// after GateChecked. A gate denial is not an error.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req Request) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}

	r := &run{
		id:    uuid.NewString(),
		req:   req,
		state: StateReceived,
		tbl:   o.src.Table(),
	}

	ctx, span := startSpan(ctx, traceSpanRun,
		attribute.String(traceAttrRunID, r.id),
		attribute.String(traceAttrUserID, req.UserID),
		attribute.String(traceAttrQueryType, string(req.QueryType)),
	)
	defer span.End()

	o.metrics.runStarted()
	defer o.metrics.runFinished()
	start := time.Now()

	unlock, err := o.locks.Lock(ctx, req.UserID)
	if err != nil {
		err = &StageFailure{Stage: StageLoadState, Err: fmt.Errorf("waiting for user lock: %w", err)}
		o.fail(r, err)
		markSpanResult(span, err)
		return Response{}, err
	}
	defer unlock()
	r.now = o.clock.Now()

	stages := []stage{
		{StageLoadState, "", o.loadState},
		{StageContext, StateContextResolved, o.resolveContext},
		{StageArchetypes, StateArchetypesIdentified, o.identifyArchetypes},
		{StageDialogue, StateDialogueComplete, o.facilitate},
		{StageSynthesis, StateSynthesized, o.synthesize},
		{StagePathway, "", o.buildPathway},
		{StageGate, StateGateChecked, o.applyGate},
		{StageCommit, "", o.commit},
	}
	for _, st := range stages {
		if err := o.runStage(ctx, r, st); err != nil {
			o.fail(r, err)
			markSpanResult(span, err)
			return Response{}, err
		}
		if st.to != "" {
			o.transition(r, st.to)
		}
	}

	resp := o.assemble(r)
	o.transition(r, StateCompleted)
	resp.State = r.state
	o.metrics.IncRun(req.QueryType, StateCompleted)
	markSpanResult(span, nil)

	o.logger.Debug("pipeline complete",
		"run_id", r.id,
		"query_type", req.QueryType,
		"duration_ms", time.Since(start).Milliseconds(),
		"sovereignty_maintained", resp.CulturalSovereigntyMaintained,
		"withheld", len(resp.WithheldTraditions),
	)
	return resp, nil
}

// runStage executes one stage with its own span and converts errors and
// panics into a StageFailure.
func (o *Orchestrator) runStage(ctx context.Context, r *run, st stage) (err error) {
	ctx, span := startSpan(ctx, traceSpanStage, attribute.String(traceAttrStage, st.name))
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			var sf *StageFailure
			if !errors.As(err, &sf) {
				err = &StageFailure{Stage: st.name, Err: err}
			}
		}
		o.metrics.ObserveStage(st.name, err, time.Since(started))
		markSpanResult(span, err)
		span.End()
	}()
	return st.fn(ctx, r)
}

func (o *Orchestrator) transition(r *run, to RunState) {
	from := r.state
	r.state = to
	for _, h := range o.hooks {
		h(Transition{RunID: r.id, UserID: r.req.UserID, From: from, To: to})
	}
}

func (o *Orchestrator) fail(r *run, err error) {
	o.logger.Error("pipeline failed", "run_id", r.id, "user_id", r.req.UserID, "from", r.state, "error", err)
	o.transition(r, StateFailed)
	o.metrics.IncRun(r.req.QueryType, StateFailed)
}

// external bounds fn with the stage timeout and retries it with exponential
// backoff. Timeouts and cancellation are not retried.
func (o *Orchestrator) external(ctx context.Context, stage string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := range o.retries + 1 {
		if attempt > 0 {
			o.metrics.IncRetry(stage)
			backoff := retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		sctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
		err := fn(sctx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		o.logger.Warn("lookup failed", "stage", stage, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("after %d attempts: %w", o.retries+1, lastErr)
}

// --- stages ---

func (o *Orchestrator) loadState(ctx context.Context, r *run) error {
	g, ctx := errgroup.WithContext(ctx)
	uid := r.req.UserID
	g.Go(func() error {
		return o.external(ctx, StageLoadState, func(ctx context.Context) (err error) {
			r.storedProfile, r.hasProfile, err = o.users.Profiles.Get(ctx, uid)
			return err
		})
	})
	g.Go(func() error {
		return o.external(ctx, StageLoadState, func(ctx context.Context) (err error) {
			r.storedShadow, _, err = o.users.Shadow.Get(ctx, uid)
			return err
		})
	})
	g.Go(func() error {
		return o.external(ctx, StageLoadState, func(ctx context.Context) (err error) {
			r.storedPurpose, _, err = o.users.Purpose.Get(ctx, uid)
			return err
		})
	})
	g.Go(func() error {
		return o.external(ctx, StageLoadState, func(ctx context.Context) (err error) {
			r.storedDream, _, err = o.users.Dream.Get(ctx, uid)
			return err
		})
	})
	return g.Wait()
}

// resolveContext never fails: a malformed hint falls back to the universal
// profile.
func (o *Orchestrator) resolveContext(_ context.Context, r *run) error {
	var fresh culture.Profile
	hint, err := culture.DecodeHint(r.req.ProfileHint)
	if err != nil {
		o.logger.Warn("profile hint unusable, using universal profile", "run_id", r.id, "error", err)
		fresh = culture.Universal()
	} else {
		fresh = o.resolver.Resolve(r.req.UserInput, hint)
	}
	if r.hasProfile {
		r.profile = culture.Merge(r.storedProfile, fresh)
	} else {
		r.profile = fresh
	}
	return nil
}

func (o *Orchestrator) identifyArchetypes(_ context.Context, r *run) error {
	text := r.req.UserInput
	r.nextPurpose = o.purposes.Analyze(r.storedPurpose, text, r.now)
	r.nextDream = dream.Record(r.storedDream, o.dreams.Extract(text), r.now)

	var ps *purpose.State
	if r.nextPurpose.HasSignature() {
		ps = &r.nextPurpose
	}
	r.archetypes = o.identifier.Identify(text, r.profile, ps)
	if len(r.archetypes) == 0 {
		return errors.New("no archetypes identified")
	}
	return nil
}

func (o *Orchestrator) facilitate(_ context.Context, r *run) error {
	r.detected = o.shadows.Detect(r.req.UserInput)
	r.nextShadow = shadow.Integrate(r.storedShadow, r.detected, r.now)
	r.dialogue = o.facilitator.Facilitate(r.archetypes, r.req.UserInput, r.profile, r.nextShadow.Complexes)
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, r *run) error {
	sources := o.baseSources(r)

	if o.teachings != nil {
		for _, tradition := range culturalTraditions(sources) {
			var found []storage.Teaching
			err := o.external(ctx, StageSynthesis, func(ctx context.Context) (err error) {
				found, err = o.teachings.Teachings(ctx, tradition, teachingLimit)
				return err
			})
			if err != nil {
				return fmt.Errorf("loading teachings for %s: %w", tradition, err)
			}
			sources = append(sources, teachingSources(r.tbl, tradition, found)...)
		}
	}

	rec, err := o.synthesizer.Synthesize(r.dialogue.Exchanges, r.profile, sources)
	if err != nil {
		return err
	}
	r.sources = sources
	r.record = rec
	return nil
}

func (o *Orchestrator) buildPathway(_ context.Context, r *run) error {
	p, err := o.builder.Build(r.record, r.profile)
	if err != nil {
		return err
	}
	r.pathway = p
	return nil
}

// applyGate evaluates every tradition whose content would appear in the
// response and prepares the redacted view that may leave the process.
func (o *Orchestrator) applyGate(_ context.Context, r *run) error {
	requester := r.profile.RequesterCulture()
	r.byTrad = make(map[string]sovereignty.Decision)
	for _, tradition := range gatedTraditions(r.profile, r.sources) {
		d := o.gate.Evaluate(sovereignty.Request{
			Tradition:        tradition,
			RequesterCulture: requester,
			IntendedUse:      r.req.intendedUse(),
			ConsentGiven:     r.req.consent(),
		})
		o.metrics.IncGate(d.Tradition, d.Permitted)
		r.decisions = append(r.decisions, d)
		r.byTrad[tradition] = d
		if !d.Permitted {
			r.withheld = append(r.withheld, tradition)
			o.logger.Warn("sovereignty gate denied content",
				"run_id", r.id, "tradition", tradition, "risk", d.RiskLevel)
		}
	}

	view, err := o.redact(r)
	if err != nil {
		return err
	}
	r.shared = view
	return nil
}

func (o *Orchestrator) commit(ctx context.Context, r *run) error {
	snap := state.Snapshot{
		Profile: r.profile,
		Shadow:  r.nextShadow,
		Purpose: r.nextPurpose,
		Dream:   r.nextDream,
	}
	return o.external(ctx, StageCommit, func(ctx context.Context) error {
		return o.users.Commit(ctx, r.req.UserID, snap)
	})
}
