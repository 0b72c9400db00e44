package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aura-linux/forge/internal/common"
	"github.com/aura-linux/forge/internal/middleware"
	"github.com/aura-linux/forge/internal/models"
	apierrors "github.com/aura-linux/forge/internal/pkg/errors"
	"github.com/aura-linux/forge/internal/report"
	"github.com/aura-linux/forge/internal/repository"
)

// JobOffer is what a successful poll hands to the worker.
type JobOffer = common.JobOffer

// JobResult is the tagged outcome a worker reports.
type JobResult = common.JobResult

// JobView is a job merged with its pipeline for the info endpoint.
type JobView struct {
	*models.Job
	Pipeline *models.Pipeline `json:"pipeline"`
}

// JobService is the scheduler and result ingester.
type JobService struct {
	jobs       repository.JobRepository
	pipelines  repository.PipelineRepository
	workers    repository.WorkerRepository
	auth       *WorkerService
	propagator *Propagator
	provider   Provider
	logger     *slog.Logger
}

// NewJobService wires the scheduler. propagator may be nil to disable
// result propagation (used in tests).
func NewJobService(
	jobs repository.JobRepository,
	pipelines repository.PipelineRepository,
	workers repository.WorkerRepository,
	auth *WorkerService,
	propagator *Propagator,
	provider Provider,
	logger *slog.Logger,
) *JobService {
	return &JobService{
		jobs:       jobs,
		pipelines:  pipelines,
		workers:    workers,
		auth:       auth,
		propagator: propagator,
		provider:   provider,
		logger:     logger,
	}
}

// Poll assigns the oldest eligible job to the calling worker, or
// returns nil when the queue holds nothing it can build.
func (s *JobService) Poll(ctx context.Context, secret, hostname, workerArch string, res repository.Resources) (*JobOffer, error) {
	if err := s.auth.Authenticate(secret); err != nil {
		return nil, err
	}

	job, pipeline, err := s.jobs.Poll(ctx, hostname, workerArch, res)
	if err != nil {
		if errors.Is(err, repository.ErrWorkerUnknown) {
			return nil, apierrors.NewConflictError("worker has not heartbeated yet")
		}
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	if job == nil {
		middleware.RecordJobPoll("empty")
		return nil, nil
	}

	middleware.RecordJobPoll("assigned")
	s.logger.Info("job assigned",
		"job_id", job.ID,
		"arch", job.Arch,
		"hostname", hostname,
		"packages", job.Packages,
	)
	return &JobOffer{
		JobID:     job.ID,
		GitBranch: pipeline.GitBranch,
		GitSHA:    pipeline.GitSHA,
		Packages:  pipeline.Packages,
	}, nil
}

// Report ingests a worker's outcome for a running job. The database
// commit completes before propagation starts, so propagation retries
// never race with state changes.
func (s *JobService) Report(ctx context.Context, secret, hostname, workerArch string, jobID int, result JobResult) error {
	if err := s.auth.Authenticate(secret); err != nil {
		return err
	}

	var job *models.Job
	var err error
	switch result.Kind {
	case "ok":
		if result.Ok == nil {
			return apierrors.ErrInputInvalid.WithMessage("ok result carries no outcome")
		}
		job, err = s.jobs.ReportOk(ctx, jobID, hostname, workerArch, *result.Ok)
	case "error":
		job, err = s.jobs.ReportError(ctx, jobID, hostname, workerArch, result.Message)
	default:
		return apierrors.ErrInputInvalid.WithMessage("unknown result kind: " + result.Kind)
	}
	if err != nil {
		if errors.Is(err, repository.ErrJobNotOwned) || errors.Is(err, repository.ErrWorkerUnknown) {
			return apierrors.NewConflictError(err.Error())
		}
		return apierrors.ErrStorage.WithMessage(err.Error())
	}

	middleware.RecordJobFinished(job.Arch, job.Status)
	s.logger.Info("job finished",
		"job_id", job.ID,
		"arch", job.Arch,
		"status", job.Status,
		"hostname", hostname,
	)

	if s.propagator != nil {
		pipeline, err := s.pipelines.GetByID(ctx, job.PipelineID)
		if err != nil || pipeline == nil {
			s.logger.Error("failed to load pipeline for propagation", "job_id", job.ID, "error", err)
			return nil
		}
		// Propagation outlives the request.
		go s.propagator.Propagate(context.Background(), job, pipeline, hostname)
	}
	return nil
}

// Info returns a job merged with its pipeline.
func (s *JobService) Info(ctx context.Context, id int) (*JobView, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	if job == nil {
		return nil, apierrors.NewNotFoundError("job")
	}
	pipeline, err := s.pipelines.GetByID(ctx, job.PipelineID)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	return &JobView{Job: job, Pipeline: pipeline}, nil
}

// List returns one page of jobs, newest first.
func (s *JobService) List(ctx context.Context, page, perPage int) ([]*JobView, int64, error) {
	jobs, total, err := s.jobs.List(ctx, page, perPage)
	if err != nil {
		return nil, 0, apierrors.ErrStorage.WithMessage(err.Error())
	}
	out := make([]*JobView, 0, len(jobs))
	for _, j := range jobs {
		pipeline, err := s.pipelines.GetByID(ctx, j.PipelineID)
		if err != nil {
			return nil, 0, apierrors.ErrStorage.WithMessage(err.Error())
		}
		out = append(out, &JobView{Job: j, Pipeline: pipeline})
	}
	return out, total, nil
}

// Restart clones a terminal job into a fresh created job, opening a new
// check run when the original carried one.
func (s *JobService) Restart(ctx context.Context, id int) (*models.Job, error) {
	old, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	if old == nil {
		return nil, apierrors.NewNotFoundError("job")
	}
	if !old.IsTerminal() {
		return nil, apierrors.NewConflictError("only finished jobs can be restarted")
	}

	job, err := s.jobs.Restart(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}

	if old.GitHubCheckRunID != nil && s.provider != nil {
		pipeline, err := s.pipelines.GetByID(ctx, job.PipelineID)
		if err == nil && pipeline != nil {
			runID, err := s.provider.CreateCheckRun(ctx, report.CheckRunName(job.Arch), pipeline.GitSHA)
			if err != nil {
				s.logger.Warn("failed to open check run for restarted job", "job_id", job.ID, "error", err)
			} else if runID != 0 {
				if err := s.jobs.SetCheckRunID(ctx, job.ID, runID); err == nil {
					job.GitHubCheckRunID = &runID
				}
			}
		}
	}

	s.logger.Info("job restarted", "old_job_id", id, "job_id", job.ID, "arch", job.Arch)
	return job, nil
}
