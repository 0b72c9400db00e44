package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aura-linux/forge/internal/chat"
	"github.com/aura-linux/forge/internal/github"
	"github.com/aura-linux/forge/internal/models"
	"github.com/aura-linux/forge/internal/report"
)

// maxPropagationAttempts bounds retries across all surfaces of one job.
const maxPropagationAttempts = 5

// Propagator fans a terminal job's outcome out to the reporting
// surfaces: chat, PR comments, the PR-body checklist and the check run.
// Each surface is idempotent per job; transient failures share one
// bounded attempt counter.
type Propagator struct {
	provider Provider
	notifier chat.Notifier
	logger   *slog.Logger

	// prMu serialises checklist updates: the PR body is a shared
	// read-modify-write target for all sibling jobs.
	prMu sync.Mutex

	// retryDelay is swapped in tests.
	retryDelay func(attempt int) time.Duration

	// isTransient classifies surface errors; swapped in tests.
	isTransient func(error) bool
}

// NewPropagator wires the result propagator. provider and notifier may
// be nil when the respective surface is not configured.
func NewPropagator(provider Provider, notifier chat.Notifier, logger *slog.Logger) *Propagator {
	return &Propagator{
		provider: provider,
		notifier: notifier,
		logger:   logger,
		retryDelay: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
		isTransient: github.IsTransient,
	}
}

// pending tracks which surfaces of one job still need delivery.
type pending struct {
	chatDone      bool
	commentsDone  bool
	checklistDone bool
	checkRunDone  bool
}

// Propagate delivers the outcome of a terminal job to every applicable
// surface, retrying transient failures up to the shared attempt bound.
func (p *Propagator) Propagate(ctx context.Context, job *models.Job, pipeline *models.Pipeline, workerHostname string) {
	state := &pending{
		// Surfaces that do not apply are born done.
		chatDone:      pipeline.TelegramUser == nil || p.notifier == nil,
		commentsDone:  pipeline.GitHubPR == nil || p.provider == nil,
		checklistDone: pipeline.GitHubPR == nil || p.provider == nil,
		checkRunDone:  job.GitHubCheckRunID == nil || p.provider == nil,
	}

	for attempt := 0; ; attempt++ {
		if p.deliver(ctx, job, pipeline, workerHostname, state) {
			return
		}
		if attempt+1 >= maxPropagationAttempts {
			p.logger.Error("abandoning result propagation",
				"job_id", job.ID, "attempts", maxPropagationAttempts)
			return
		}
		select {
		case <-time.After(p.retryDelay(attempt)):
		case <-ctx.Done():
			return
		}
	}
}

// deliver attempts every still-pending surface once. Returns true when
// nothing is left to do.
func (p *Propagator) deliver(ctx context.Context, job *models.Job, pipeline *models.Pipeline, workerHostname string, state *pending) bool {
	success := job.Status == models.JobStatusSuccess

	if !state.chatDone {
		html := report.BuildResultHTML(job, pipeline, workerHostname)
		if err := p.notifier.SendHTML(*pipeline.TelegramUser, html); err != nil {
			// Chat send errors are always transient.
			p.logger.Warn("chat notification failed", "job_id", job.ID, "error", err)
		} else {
			state.chatDone = true
		}
	}

	if !state.commentsDone {
		err := p.provider.DeleteStaleJobComments(ctx, int(*pipeline.GitHubPR), job.Arch, report.IsStaleJobComment)
		state.commentsDone = p.settle(job, "comment cleanup", err)
	}

	if !state.checklistDone {
		err := p.updateChecklist(ctx, int(*pipeline.GitHubPR), job.Arch, success)
		state.checklistDone = p.settle(job, "checklist update", err)
	}

	if !state.checkRunDone {
		body := report.BuildResultMarkdown(job, pipeline, workerHostname)
		title := report.CheckRunName(job.Arch)
		err := p.provider.CompleteCheckRun(ctx, *job.GitHubCheckRunID, title, success, title, body)
		state.checkRunDone = p.settle(job, "check run update", err)
	}

	return state.chatDone && state.commentsDone && state.checklistDone && state.checkRunDone
}

// settle decides whether a surface is finished: done on nil, done on a
// fatal error (logged and dropped), pending on a transient one.
func (p *Propagator) settle(job *models.Job, surface string, err error) bool {
	if err == nil {
		return true
	}
	if p.isTransient(err) {
		p.logger.Warn("transient propagation failure", "job_id", job.ID, "surface", surface, "error", err)
		return false
	}
	p.logger.Error("fatal propagation failure", "job_id", job.ID, "surface", surface, "error", err)
	return true
}

// updateChecklist toggles the job's arch on the PR-body checklist under
// the process-wide PR mutex.
func (p *Propagator) updateChecklist(ctx context.Context, pr int, jobArch string, success bool) error {
	p.prMu.Lock()
	defer p.prMu.Unlock()

	body, err := p.provider.GetPullRequestBody(ctx, pr)
	if err != nil {
		return err
	}
	updated := report.ToggleChecklist(body, jobArch, success)
	if updated == body {
		return nil
	}
	return p.provider.SetPullRequestBody(ctx, pr, updated)
}
