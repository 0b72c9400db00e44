package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aura-linux/forge/internal/arch"
	"github.com/aura-linux/forge/internal/buildtree"
	"github.com/aura-linux/forge/internal/chat"
	"github.com/aura-linux/forge/internal/github"
	"github.com/aura-linux/forge/internal/middleware"
	"github.com/aura-linux/forge/internal/models"
	apierrors "github.com/aura-linux/forge/internal/pkg/errors"
	"github.com/aura-linux/forge/internal/report"
	"github.com/aura-linux/forge/internal/repository"
)

// CreateOptions carries the originator of a pipeline.
type CreateOptions struct {
	Source       string
	GitHubPR     *int64
	TelegramUser *int64
	CreatorID    *int
	// Floors constrains each arch's job to sufficiently large workers.
	Floors map[string]repository.JobFloors
	// OpenCheckRuns opens a check run per job against the resolved
	// commit and records its id.
	OpenCheckRuns bool
}

// PipelineView is a pipeline with its jobs and a derived status.
type PipelineView struct {
	*models.Pipeline
	Status string        `json:"status"`
	Jobs   []*models.Job `json:"jobs,omitempty"`
}

// QueueStatus is the per-arch scheduling picture for the dashboard.
type QueueStatus struct {
	Arch             string `json:"arch"`
	PendingJobs      int64  `json:"pending_jobs"`
	RunningJobs      int64  `json:"running_jobs"`
	AvailableWorkers int64  `json:"available_workers"`
	TotalWorkers     int64  `json:"total_workers"`
}

// PipelineService is the pipeline factory: it normalises build
// requests, resolves branches to commits and fans out per-arch jobs.
type PipelineService struct {
	pipelines repository.PipelineRepository
	jobs      repository.JobRepository
	workers   repository.WorkerRepository
	tree      *buildtree.Tree
	provider  Provider
	notifier  chat.Notifier
	logger    *slog.Logger

	externalURL string
}

// NewPipelineService wires the pipeline factory. provider and notifier
// may be nil when the deployment has no hosting-provider or chat
// credentials.
func NewPipelineService(
	pipelines repository.PipelineRepository,
	jobs repository.JobRepository,
	workers repository.WorkerRepository,
	tree *buildtree.Tree,
	provider Provider,
	notifier chat.Notifier,
	logger *slog.Logger,
	externalURL string,
) *PipelineService {
	return &PipelineService{
		pipelines:   pipelines,
		jobs:        jobs,
		workers:     workers,
		tree:        tree,
		provider:    provider,
		notifier:    notifier,
		logger:      logger,
		externalURL: externalURL,
	}
}

// CreateFromBranch builds a pipeline for a branch head: resolves the
// branch to a commit, expands the arch list and inserts the pipeline
// with one created job per arch.
func (s *PipelineService) CreateFromBranch(ctx context.Context, branch, packages string, archs []string, opts CreateOptions) (*models.Pipeline, []*models.Job, error) {
	if !buildtree.ValidBranch(branch) {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(fmt.Sprintf("invalid branch name: %q", branch))
	}
	if !buildtree.ValidPackageList(packages) {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(fmt.Sprintf("invalid package list: %q", packages))
	}

	expanded, err := arch.Expand(archs)
	if err != nil {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(err.Error())
	}

	sha, err := s.tree.ResolveBranch(ctx, branch)
	if err != nil {
		return nil, nil, apierrors.NewUpstreamError(fmt.Sprintf("failed to resolve branch %s: %v", branch, err))
	}

	return s.create(ctx, branch, sha, packages, expanded, opts)
}

// CreateFromPullRequest builds a pipeline for a pull request. A merged
// PR builds its merge commit on the stable branch; an open PR builds
// its head. Fork PRs are rejected. The package list comes from the
// first PR-body line starting with the packages marker.
func (s *PipelineService) CreateFromPullRequest(ctx context.Context, prNumber int, archs []string, opts CreateOptions) (*models.Pipeline, []*models.Job, error) {
	if s.provider == nil {
		return nil, nil, apierrors.NewUpstreamError("hosting provider is not configured")
	}

	info, err := s.provider.PullRequest(ctx, prNumber)
	if err != nil {
		return nil, nil, apierrors.NewUpstreamError(err.Error())
	}
	if info.FromFork {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage("pull requests from forks cannot be built")
	}

	pkgs := github.PackagesFromBody(info.Body)
	if len(pkgs) == 0 {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage("pull request body carries no " + github.PackagesMarker + " line")
	}
	packages := strings.Join(pkgs, ",")
	if !buildtree.ValidPackageList(packages) {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(fmt.Sprintf("invalid package list: %q", packages))
	}
	if !buildtree.ValidBranch(info.Branch) {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(fmt.Sprintf("invalid branch name: %q", info.Branch))
	}
	if !buildtree.ValidSHA(info.SHA) {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(fmt.Sprintf("invalid commit id: %q", info.SHA))
	}

	if len(archs) == 0 {
		archs = []string{arch.Mainline}
	}
	expanded, err := arch.Expand(archs)
	if err != nil {
		return nil, nil, apierrors.ErrInputInvalid.WithMessage(err.Error())
	}

	pr := int64(prNumber)
	opts.GitHubPR = &pr
	if opts.Source == "" {
		opts.Source = models.SourceGitHub
	}
	return s.create(ctx, info.Branch, info.SHA, packages, expanded, opts)
}

func (s *PipelineService) create(ctx context.Context, branch, sha, packages string, archs []string, opts CreateOptions) (*models.Pipeline, []*models.Job, error) {
	source := opts.Source
	if source == "" {
		source = models.SourceManual
	}

	if opts.Floors == nil && s.tree != nil {
		reqs, err := s.tree.EnvironmentRequirements(strings.Split(packages, ","))
		if err != nil {
			// A pipeline without floors is schedulable everywhere.
			s.logger.Warn("failed to read resource floors", "packages", packages, "error", err)
		} else {
			opts.Floors = floorsFromRequirements(reqs)
		}
	}

	p := &models.Pipeline{
		Packages:     packages,
		Archs:        strings.Join(archs, ","),
		GitBranch:    branch,
		GitSHA:       sha,
		Source:       source,
		GitHubPR:     opts.GitHubPR,
		TelegramUser: opts.TelegramUser,
		CreatorID:    opts.CreatorID,
	}

	pipeline, jobs, err := s.pipelines.Create(ctx, p, archs, opts.Floors)
	if err != nil {
		return nil, nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	middleware.RecordPipelineCreated(source)
	s.logger.Info("pipeline created",
		"pipeline_id", pipeline.ID,
		"packages", packages,
		"archs", pipeline.Archs,
		"branch", branch,
		"source", source,
	)

	if opts.OpenCheckRuns && s.provider != nil {
		for _, job := range jobs {
			id, err := s.provider.CreateCheckRun(ctx, report.CheckRunName(job.Arch), sha)
			if err != nil || id == 0 {
				// The pipeline stands on its own when check runs are
				// unavailable.
				if err != nil {
					s.logger.Warn("failed to open check run", "job_id", job.ID, "error", err)
				}
				continue
			}
			if err := s.jobs.SetCheckRunID(ctx, job.ID, id); err != nil {
				s.logger.Warn("failed to record check run id", "job_id", job.ID, "error", err)
				continue
			}
			job.GitHubCheckRunID = &id
		}
	}

	s.announce(ctx, pipeline, jobs)
	return pipeline, jobs, nil
}

func floorsFromRequirements(reqs map[string]buildtree.Requirement) map[string]repository.JobFloors {
	floors := make(map[string]repository.JobFloors, len(reqs))
	for a, r := range reqs {
		floors[a] = repository.JobFloors{
			MinCore:            r.MinCore,
			MinTotalMem:        r.MinTotalMem,
			MinTotalMemPerCore: r.MinTotalMemPerCore,
			MinDisk:            r.MinDisk,
		}
	}
	return floors
}

// announce posts the new-pipeline summary to the originating channel.
func (s *PipelineService) announce(ctx context.Context, p *models.Pipeline, jobs []*models.Job) {
	summary := report.NewPipelineSummary(p, jobs, s.externalURL)
	if p.GitHubPR != nil && s.provider != nil && p.Source == models.SourceGitHub {
		if err := s.provider.CreateComment(ctx, int(*p.GitHubPR), summary); err != nil {
			s.logger.Warn("failed to post pipeline summary", "pipeline_id", p.ID, "error", err)
		}
	}
	if p.TelegramUser != nil && s.notifier != nil {
		if err := s.notifier.SendHTML(*p.TelegramUser, summary); err != nil {
			s.logger.Warn("failed to send pipeline summary", "pipeline_id", p.ID, "error", err)
		}
	}
}

// Info returns a pipeline with its jobs and derived status.
func (s *PipelineService) Info(ctx context.Context, id int) (*PipelineView, error) {
	p, err := s.pipelines.GetByID(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	if p == nil {
		return nil, apierrors.NewNotFoundError("pipeline")
	}
	jobs, err := s.jobs.ListByPipeline(ctx, id)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	return &PipelineView{Pipeline: p, Status: DerivePipelineStatus(jobs), Jobs: jobs}, nil
}

// List returns one page of pipelines with derived statuses.
func (s *PipelineService) List(ctx context.Context, page, perPage int) ([]*PipelineView, int64, error) {
	pipelines, total, err := s.pipelines.List(ctx, page, perPage)
	if err != nil {
		return nil, 0, apierrors.ErrStorage.WithMessage(err.Error())
	}
	out := make([]*PipelineView, 0, len(pipelines))
	for _, p := range pipelines {
		jobs, err := s.jobs.ListByPipeline(ctx, p.ID)
		if err != nil {
			return nil, 0, apierrors.ErrStorage.WithMessage(err.Error())
		}
		out = append(out, &PipelineView{Pipeline: p, Status: DerivePipelineStatus(jobs)})
	}
	return out, total, nil
}

// QueueStatus aggregates pending and running jobs against available
// workers per arch, folding arch aliases onto their hosting port.
func (s *PipelineService) QueueStatus(ctx context.Context) ([]QueueStatus, error) {
	jobCounts, err := s.jobs.StatusCounts(ctx)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	workerCounts, err := s.workers.CountByArch(ctx, LiveSecs)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}

	byArch := make(map[string]*QueueStatus)
	for _, a := range arch.All {
		byArch[a] = &QueueStatus{Arch: a}
	}
	for a, statuses := range jobCounts {
		folded := arch.Fold(a)
		qs, ok := byArch[folded]
		if !ok {
			qs = &QueueStatus{Arch: folded}
			byArch[folded] = qs
		}
		qs.PendingJobs += statuses[models.JobStatusCreated] + statuses[models.JobStatusAssigned]
		qs.RunningJobs += statuses[models.JobStatusRunning]
	}
	for a, counts := range workerCounts {
		folded := arch.Fold(a)
		qs, ok := byArch[folded]
		if !ok {
			qs = &QueueStatus{Arch: folded}
			byArch[folded] = qs
		}
		qs.TotalWorkers += counts[0]
		qs.AvailableWorkers += counts[1]
	}

	out := make([]QueueStatus, 0, len(byArch))
	for _, a := range arch.All {
		out = append(out, *byArch[a])
		delete(byArch, a)
	}
	for _, qs := range byArch {
		out = append(out, *qs)
	}
	return out, nil
}

// DashboardStatus is the aggregate counter view.
type DashboardStatus struct {
	TotalJobs    int64            `json:"total_jobs"`
	JobsByStatus map[string]int64 `json:"jobs_by_status"`
	ByArch       []QueueStatus    `json:"by_arch"`
}

// Dashboard aggregates job counters by status and arch.
func (s *PipelineService) Dashboard(ctx context.Context) (*DashboardStatus, error) {
	jobCounts, err := s.jobs.StatusCounts(ctx)
	if err != nil {
		return nil, apierrors.ErrStorage.WithMessage(err.Error())
	}
	byArch, err := s.QueueStatus(ctx)
	if err != nil {
		return nil, err
	}

	out := &DashboardStatus{JobsByStatus: make(map[string]int64), ByArch: byArch}
	for _, statuses := range jobCounts {
		for status, n := range statuses {
			out.JobsByStatus[status] += n
			out.TotalJobs += n
		}
	}
	return out, nil
}

// DerivePipelineStatus reduces a pipeline's jobs to a single status:
// the newest job per arch decides, and error outranks failed outranks
// running outranks success.
func DerivePipelineStatus(jobs []*models.Job) string {
	newest := make(map[string]*models.Job)
	for _, j := range jobs {
		if cur, ok := newest[j.Arch]; !ok || j.ID > cur.ID {
			newest[j.Arch] = j
		}
	}
	if len(newest) == 0 {
		return models.JobStatusSuccess
	}

	rank := map[string]int{
		models.JobStatusError:    4,
		models.JobStatusFailed:   3,
		models.JobStatusCreated:  2,
		models.JobStatusAssigned: 2,
		models.JobStatusRunning:  2,
		models.JobStatusSuccess:  1,
	}
	status := models.JobStatusSuccess
	best := 0
	for _, j := range newest {
		s := j.Status
		if s == models.JobStatusCreated || s == models.JobStatusAssigned {
			s = models.JobStatusRunning
		}
		if r := rank[j.Status]; r > best {
			best = r
			status = s
		}
	}
	return status
}
