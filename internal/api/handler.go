package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/community"
	"github.com/kalambet/oracle/internal/pipeline"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// NewHandler returns the HTTP API. /health and /metrics are open; every
// /v1 route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/query", handleQuery(deps))
		r.Get("/users/{id}/state", handleUserState(deps))
		r.Get("/users/{id}/runs", handleListRuns(deps))
		r.Post("/sovereignty/check", handleSovereigntyCheck(deps))
		r.Post("/community/share", handleShare(deps))
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if deps.Content != nil {
			body["contentVersion"] = deps.Content.Table().Version
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[pipeline.Request](w, r)
		if !ok {
			return
		}
		resp, err := deps.process(r.Context(), req)
		if err != nil {
			pipelineError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// pipelineError maps pipeline errors to HTTP statuses. Stage failures
// name the stage but not the cause.
func pipelineError(w http.ResponseWriter, deps Deps, err error) {
	var verr *pipeline.ValidationError
	var serr *pipeline.StageFailure
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Error())
	case errors.As(err, &serr):
		deps.logger().Error("pipeline failed", "stage", serr.Stage, "error", serr.Err)
		httpError(w, http.StatusInternalServerError, "stage_failure", "pipeline failed at stage %s", serr.Stage)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "pipeline failed: %v", err)
	}
}

func handleUserState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		st, err := deps.userState(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load user state: %v", err)
			return
		}
		if st.empty() {
			httpError(w, http.StatusNotFound, "not_found", "no state stored for user %q", id)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit := queryInt(r, "limit", defaultRunLimit, maxRunLimit)

		runs, err := deps.Runs.ListRuns(r.Context(), id, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, runViews(runs))
	}
}

// SovereigntyCheck is the body of POST /v1/sovereignty/check.
type SovereigntyCheck struct {
	Tradition        string `json:"tradition"`
	RequesterCulture string `json:"requesterCulture"`
	IntendedUse      string `json:"intendedUse"`
	ConsentGiven     *bool  `json:"consentGiven,omitempty"`
}

func handleSovereigntyCheck(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[SovereigntyCheck](w, r)
		if !ok {
			return
		}
		if strings.TrimSpace(req.Tradition) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tradition is required")
			return
		}

		writeJSON(w, http.StatusOK, deps.checkSovereignty(req.Tradition, req.RequesterCulture, req.IntendedUse, req.ConsentGiven))
	}
}

func handleShare(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeBody[community.ShareRequest](w, r)
		if !ok {
			return
		}
		res, err := deps.Community.Share(r.Context(), req)
		if errors.Is(err, community.ErrInvalidShare) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to share: %v", err)
			return
		}

		status := http.StatusOK
		if res.Queued {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}
