// Package handler exposes the coordinator's HTTP API.
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

// PipelineService is the slice of the pipeline factory the HTTP layer
// uses.
type PipelineService interface {
	CreateFromBranch(ctx context.Context, branch, packages string, archs []string, opts service.CreateOptions) (*models.Pipeline, []*models.Job, error)
	CreateFromPullRequest(ctx context.Context, prNumber int, archs []string, opts service.CreateOptions) (*models.Pipeline, []*models.Job, error)
	Info(ctx context.Context, id int) (*service.PipelineView, error)
	List(ctx context.Context, page, perPage int) ([]*service.PipelineView, int64, error)
	QueueStatus(ctx context.Context) ([]service.QueueStatus, error)
	Dashboard(ctx context.Context) (*service.DashboardStatus, error)
}

// PipelineHandler serves /api/pipeline.
type PipelineHandler struct {
	pipelines PipelineService
	validate  *validator.Validate
}

// NewPipelineHandler creates the pipeline handler.
func NewPipelineHandler(pipelines PipelineService) *PipelineHandler {
	return &PipelineHandler{
		pipelines: pipelines,
		validate:  validator.New(),
	}
}

// Routes returns the pipeline route tree.
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/new", h.New)
	r.Post("/new_pr", h.NewPR)
	r.Get("/info", h.Info)
	r.Get("/list", h.List)
	r.Get("/status", h.Status)
	return r
}

type newPipelineRequest struct {
	GitBranch string   `json:"git_branch" validate:"required"`
	Packages  string   `json:"packages" validate:"required"`
	Archs     []string `json:"archs" validate:"required,min=1"`
}

type newPipelineResponse struct {
	ID int `json:"id"`
}

// New creates a pipeline from a branch head.
func (h *PipelineHandler) New(w http.ResponseWriter, r *http.Request) {
	var req newPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrInputInvalid.WithMessage(err.Error()))
		return
	}

	p, _, err := h.pipelines.CreateFromBranch(r.Context(), req.GitBranch, req.Packages, req.Archs, service.CreateOptions{
		Source: models.SourceManual,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, newPipelineResponse{ID: p.ID})
}

type newPRPipelineRequest struct {
	PR    int      `json:"pr" validate:"required,min=1"`
	Archs []string `json:"archs"`
}

// NewPR creates a pipeline from a pull request.
func (h *PipelineHandler) NewPR(w http.ResponseWriter, r *http.Request) {
	var req newPRPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrInputInvalid.WithMessage(err.Error()))
		return
	}

	p, _, err := h.pipelines.CreateFromPullRequest(r.Context(), req.PR, req.Archs, service.CreateOptions{
		Source:        models.SourceGitHub,
		OpenCheckRuns: true,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, newPipelineResponse{ID: p.ID})
}

// Info returns one pipeline with its jobs.
func (h *PipelineHandler) Info(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("pipeline_id"))
	if err != nil {
		response.BadRequest(w, "pipeline_id must be an integer")
		return
	}
	view, err := h.pipelines.Info(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, view)
}

type listResponse[T any] struct {
	TotalItems int64 `json:"total_items"`
	Items      []T   `json:"items"`
}

// pagination parses ?page= and ?items_per_page=. items_per_page = -1
// requests everything.
func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage = 25
	if s := r.URL.Query().Get("items_per_page"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			perPage = n
		}
	}
	return page, perPage
}

// List returns one page of pipelines.
func (h *PipelineHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	items, total, err := h.pipelines.List(r.Context(), page, perPage)
	if err != nil {
		response.Error(w, err)
		return
	}
	if items == nil {
		items = []*service.PipelineView{}
	}
	response.OK(w, listResponse[*service.PipelineView]{TotalItems: total, Items: items})
}

// Status returns the per-arch queue picture.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.pipelines.QueueStatus(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, status)
}
