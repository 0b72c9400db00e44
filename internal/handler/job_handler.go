package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aura-linux/forge/internal/models"
	apierrors "github.com/aura-linux/forge/internal/pkg/errors"
	"github.com/aura-linux/forge/internal/pkg/response"
	"github.com/aura-linux/forge/internal/service"
)

// JobService is the read/administrative slice of the scheduler.
type JobService interface {
	Info(ctx context.Context, id int) (*service.JobView, error)
	List(ctx context.Context, page, perPage int) ([]*service.JobView, int64, error)
	Restart(ctx context.Context, id int) (*models.Job, error)
}

// JobHandler serves /api/job.
type JobHandler struct {
	jobs     JobService
	validate *validator.Validate
}

// NewJobHandler creates the job handler.
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs, validate: validator.New()}
}

// Routes returns the job route tree.
func (h *JobHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/info", h.Info)
	r.Get("/list", h.List)
	r.Post("/restart", h.Restart)
	return r
}

// Info returns one job merged with its pipeline.
func (h *JobHandler) Info(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("job_id"))
	if err != nil {
		response.BadRequest(w, "job_id must be an integer")
		return
	}
	view, err := h.jobs.Info(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, view)
}

// List returns one page of jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	items, total, err := h.jobs.List(r.Context(), page, perPage)
	if err != nil {
		response.Error(w, err)
		return
	}
	if items == nil {
		items = []*service.JobView{}
	}
	response.OK(w, listResponse[*service.JobView]{TotalItems: total, Items: items})
}

type restartRequest struct {
	JobID int `json:"job_id" validate:"required,min=1"`
}

// Restart clones a finished job back into the queue.
func (h *JobHandler) Restart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrInputInvalid.WithMessage(err.Error()))
		return
	}

	job, err := h.jobs.Restart(r.Context(), req.JobID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, job)
}
