package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/aura-linux/forge/internal/pkg/errors"
	"github.com/aura-linux/forge/internal/pkg/response"
	"github.com/aura-linux/forge/internal/repository"
	"github.com/aura-linux/forge/internal/service"
)

// WorkerService is the slice of the worker registry the HTTP layer
// uses.
type WorkerService interface {
	Heartbeat(ctx context.Context, secret string, p repository.HeartbeatProfile) error
	List(ctx context.Context, page, perPage int) ([]service.WorkerView, int64, error)
	Info(ctx context.Context, id int) (*service.WorkerInfo, error)
	InfoByIdentity(ctx context.Context, hostname, workerArch string) (*service.WorkerInfo, error)
}

// WorkerJobService is the scheduler slice reachable by worker agents.
type WorkerJobService interface {
	Poll(ctx context.Context, secret, hostname, workerArch string, res repository.Resources) (*service.JobOffer, error)
	Report(ctx context.Context, secret, hostname, workerArch string, jobID int, result service.JobResult) error
}

// WorkerHandler serves /api/worker.
type WorkerHandler struct {
	workers  WorkerService
	jobs     WorkerJobService
	validate *validator.Validate
}

// NewWorkerHandler creates the worker handler.
func NewWorkerHandler(workers WorkerService, jobs WorkerJobService) *WorkerHandler {
	return &WorkerHandler{
		workers:  workers,
		jobs:     jobs,
		validate: validator.New(),
	}
}

// Routes returns the worker route tree.
func (h *WorkerHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/poll", h.Poll)
	r.Post("/job_update", h.JobUpdate)
	r.Get("/list", h.List)
	r.Get("/status", h.List)
	r.Get("/info", h.Info)
	return r
}

type heartbeatRequest struct {
	Hostname             string `json:"hostname" validate:"required"`
	Arch                 string `json:"arch" validate:"required"`
	GitCommit            string `json:"git_commit"`
	MemoryBytes          int64  `json:"memory_bytes" validate:"min=0"`
	LogicalCores         int    `json:"logical_cores" validate:"min=0"`
	DiskFreeSpaceBytes   int64  `json:"disk_free_space_bytes" validate:"min=0"`
	Performance          *int64 `json:"performance"`
	InternetConnectivity *bool  `json:"internet_connectivity"`
	Secret               string `json:"worker_secret" validate:"required"`
}

// Heartbeat records a worker's liveness and resource profile.
func (h *WorkerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrInputInvalid.WithMessage(err.Error()))
		return
	}

	err := h.workers.Heartbeat(r.Context(), req.Secret, repository.HeartbeatProfile{
		Hostname:             req.Hostname,
		Arch:                 req.Arch,
		GitCommit:            req.GitCommit,
		MemoryBytes:          req.MemoryBytes,
		LogicalCores:         req.LogicalCores,
		DiskFreeSpaceBytes:   req.DiskFreeSpaceBytes,
		Performance:          req.Performance,
		InternetConnectivity: req.InternetConnectivity,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

type pollRequest struct {
	Hostname           string `json:"hostname" validate:"required"`
	Arch               string `json:"arch" validate:"required"`
	MemoryBytes        int64  `json:"memory_bytes" validate:"min=0"`
	LogicalCores       int    `json:"logical_cores" validate:"min=0"`
	DiskFreeSpaceBytes int64  `json:"disk_free_space_bytes" validate:"min=0"`
	Secret             string `json:"worker_secret" validate:"required"`
}

// Poll offers the oldest eligible job to the calling worker. The body
// is the offer, or null when nothing matches.
func (h *WorkerHandler) Poll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrInputInvalid.WithMessage(err.Error()))
		return
	}

	offer, err := h.jobs.Poll(r.Context(), req.Secret, req.Hostname, req.Arch, repository.Resources{
		MemoryBytes:        req.MemoryBytes,
		LogicalCores:       req.LogicalCores,
		DiskFreeSpaceBytes: req.DiskFreeSpaceBytes,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, offer)
}

type jobUpdateRequest struct {
	Hostname string            `json:"hostname" validate:"required"`
	Arch     string            `json:"arch" validate:"required"`
	JobID    int               `json:"job_id" validate:"required,min=1"`
	Result   service.JobResult `json:"result" validate:"required"`
	Secret   string            `json:"worker_secret" validate:"required"`
}

// JobUpdate ingests a worker's result for its running job.
func (h *WorkerHandler) JobUpdate(w http.ResponseWriter, r *http.Request) {
	var req jobUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrInputInvalid.WithMessage(err.Error()))
		return
	}

	if err := h.jobs.Report(r.Context(), req.Secret, req.Hostname, req.Arch, req.JobID, req.Result); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// List returns visible workers with liveness.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	items, total, err := h.workers.List(r.Context(), page, perPage)
	if err != nil {
		response.Error(w, err)
		return
	}
	if items == nil {
		items = []service.WorkerView{}
	}
	response.OK(w, listResponse[service.WorkerView]{TotalItems: total, Items: items})
}

// Info returns one worker with its running job and built-job count.
// The worker is addressed either by worker_id or by hostname and arch.
func (h *WorkerHandler) Info(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("worker_id") == "" {
		hostname, workerArch := q.Get("hostname"), q.Get("arch")
		if hostname == "" || workerArch == "" {
			response.BadRequest(w, "worker_id or hostname and arch are required")
			return
		}
		info, err := h.workers.InfoByIdentity(r.Context(), hostname, workerArch)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.OK(w, info)
		return
	}

	id, err := strconv.Atoi(q.Get("worker_id"))
	if err != nil {
		response.BadRequest(w, "worker_id must be an integer")
		return
	}
	info, err := h.workers.Info(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, info)
}
