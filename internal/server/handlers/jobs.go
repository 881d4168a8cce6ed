package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/procctl/internal/errors"
	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
	"github.com/3leaps/procctl/pkg/jobspec"
)

const maxSpecBytes = 1 << 20

// JobsHandler exposes the registry over HTTP.
type JobsHandler struct {
	registry *jobregistry.Registry
	catalog  *jobs.Catalog
	logger   *zap.Logger
}

func NewJobsHandler(r *jobregistry.Registry, c *jobs.Catalog, logger *zap.Logger) *JobsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{registry: r, catalog: c, logger: logger}
}

// Routes mounts the handlers under the caller's prefix (e.g. /v1/jobs).
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/result", h.Result)
	r.Delete("/{id}", h.Kill)
}

// SubmitResponse is returned by POST /v1/jobs.
type SubmitResponse struct {
	JobID     jobregistry.JobID `json:"job_id"`
	StatusURL string            `json:"status_url"`
}

// Submit accepts a JSON job spec and starts the job.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	spec, err := jobspec.LoadFromReader(http.MaxBytesReader(w, r.Body, maxSpecBytes), "request.json")
	if err != nil {
		respondWithError(w, r, &apperrors.HTTPError{
			Status:  http.StatusBadRequest,
			Code:    apperrors.CodeInvalidSpec,
			Message: err.Error(),
			Err:     err,
		})
		return
	}

	id, err := h.catalog.Submit(h.registry, *spec)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Info("Job submitted",
		zap.Int64("job_id", int64(id)),
		zap.String("kind", spec.Kind),
		zap.String("name", spec.Name),
	)

	url := "/v1/jobs/" + id.String()
	w.Header().Set("Location", url)
	apperrors.WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: id, StatusURL: url})
}

func (h *JobsHandler) List(w http.ResponseWriter, _ *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"jobs": h.registry.List()})
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	snap, err := h.registry.Snapshot(id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, snap)
}

// ResultResponse is returned by GET /v1/jobs/{id}/result.
type ResultResponse struct {
	JobID  jobregistry.JobID  `json:"job_id"`
	Result jobregistry.Result `json:"result"`
}

// Result returns the result of a finished job; 409 until then.
func (h *JobsHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	res, err := h.registry.Result(id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, ResultResponse{JobID: id, Result: res})
}

// KillResponse is returned by DELETE /v1/jobs/{id}. Killed is false when
// the job had already ended; it is removed either way.
type KillResponse struct {
	JobID  jobregistry.JobID `json:"job_id"`
	Killed bool              `json:"killed"`
}

func (h *JobsHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	killed, err := h.registry.Kill(id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, KillResponse{JobID: id, Killed: killed})
}

func (h *JobsHandler) jobID(w http.ResponseWriter, r *http.Request) (jobregistry.JobID, bool) {
	id, err := jobregistry.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid job id", err))
		return 0, false
	}
	return id, true
}
