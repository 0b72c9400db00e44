package service

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/aura-linux/forge/internal/arch"
	"github.com/aura-linux/forge/internal/models"
	apierrors "github.com/aura-linux/forge/internal/pkg/errors"
	"github.com/aura-linux/forge/internal/repository"
)

// WorkerView is a worker row with derived liveness.
type WorkerView struct {
	*models.Worker
	Live bool `json:"live"`
}

// WorkerInfo is the single-worker detail view.
type WorkerInfo struct {
	WorkerView
	RunningJob *models.Job `json:"running_job,omitempty"`
	BuiltJobs  int64       `json:"built_jobs"`
}

// WorkerService is the registry and liveness tracker for the fleet.
type WorkerService struct {
	workers repository.WorkerRepository
	jobs    repository.JobRepository
	logger  *slog.Logger
	secret  string

	// now is swapped in tests.
	now func() time.Time
}

// NewWorkerService wires the worker registry. secret is the shared
// fleet secret checked on every mutating call.
func NewWorkerService(workers repository.WorkerRepository, jobs repository.JobRepository, logger *slog.Logger, secret string) *WorkerService {
	return &WorkerService{
		workers: workers,
		jobs:    jobs,
		logger:  logger,
		secret:  secret,
		now:     time.Now,
	}
}

// Authenticate verifies the fleet shared secret.
func (s *WorkerService) Authenticate(secret string) error {
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		return apierrors.ErrAuthFailed
	}
	return nil
}

// Heartbeat upserts a worker's profile and advances its liveness clock.
func (s *WorkerService) Heartbeat(ctx context.Context, secret string, p repository.HeartbeatProfile) error {
	if err := s.Authenticate(secret); err != nil {
		return err
	}
	if !arch.IsSupported(p.Arch) {
		return apierrors.ErrInputInvalid.WithMessage("unsupported architecture: " + p.Arch)
	}
	if p.Hostname == "" {
		return apierrors.ErrInputInvalid.WithMessage("hostname is required")
	}

	if _, err := s.workers.Heartbeat(ctx, p); err != nil {
		return apierrors.ErrStorage.WithMessage(err.Error())
	}
	return nil
}

func (s *WorkerService) view(w *models.Worker) WorkerView {
	return WorkerView{
		Worker: w,
		Live:   s.now().Sub(w.LastHeartbeatTime) < LiveSecs*time.Second,
	}
}

// List returns visible workers with derived liveness.
func (s *WorkerService) List(ctx context.Context, page, perPage int) ([]WorkerView, int64, error) {
	workers, total, err := s.workers.List(ctx, page, perPage)
	if err != nil {
		return nil, 0, apierrors.ErrStorage.WithMessage(err.Error())
	}
	out := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		out = append(out, s.view(w))
	}
	return out, total, nil
}

// Info returns one worker with its running job and built-job count.
func (s *WorkerService) Info(ctx context.Context, id int) (*WorkerInfo, error) {
	w, err := s.workers.GetByID(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	if w == nil {
		return nil, apierrors.NewNotFoundError("worker")
	}

	running, err := s.jobs.RunningByWorker(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	built, err := s.jobs.CountBuiltBy(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	return &WorkerInfo{WorkerView: s.view(w), RunningJob: running, BuiltJobs: built}, nil
}

// InfoByIdentity resolves a worker by its (hostname, arch) pair.
func (s *WorkerService) InfoByIdentity(ctx context.Context, hostname, workerArch string) (*WorkerInfo, error) {
	w, err := s.workers.GetByIdentity(ctx, hostname, workerArch)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	if w == nil {
		return nil, apierrors.NewNotFoundError("worker")
	}
	return s.Info(ctx, w.ID)
}
