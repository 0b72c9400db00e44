package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-linux/forge/internal/github"
	"github.com/aura-linux/forge/internal/models"
	"github.com/aura-linux/forge/internal/report"
)

var transientErr = errors.New("transient: connection refused")
var fatalErr = errors.New("fatal: bad credentials")

// stubProvider records calls and fails on demand.
type stubProvider struct {
	body string

	deleteErrs    []error
	getBodyErrs   []error
	setBodyErrs   []error
	completeErrs  []error
	deleteCalls   int
	getBodyCalls  int
	setBodyCalls  int
	completeCalls int
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *stubProvider) PullRequest(ctx context.Context, number int) (*github.PRInfo, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) CreateComment(ctx context.Context, number int, body string) error {
	return nil
}

func (s *stubProvider) DeleteStaleJobComments(ctx context.Context, number int, arch string, isStale func(body, arch string) bool) error {
	s.deleteCalls++
	return popErr(&s.deleteErrs)
}

func (s *stubProvider) GetPullRequestBody(ctx context.Context, number int) (string, error) {
	s.getBodyCalls++
	if err := popErr(&s.getBodyErrs); err != nil {
		return "", err
	}
	return s.body, nil
}

func (s *stubProvider) SetPullRequestBody(ctx context.Context, number int, body string) error {
	s.setBodyCalls++
	if err := popErr(&s.setBodyErrs); err != nil {
		return err
	}
	s.body = body
	return nil
}

func (s *stubProvider) CreateCheckRun(ctx context.Context, name, headSHA string) (int64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubProvider) CompleteCheckRun(ctx context.Context, id int64, name string, success bool, title, summary string) error {
	s.completeCalls++
	return popErr(&s.completeErrs)
}

type stubNotifier struct {
	sent []string
	errs []error
}

func (s *stubNotifier) SendHTML(chatID int64, html string) error {
	if err := popErr(&s.errs); err != nil {
		return err
	}
	s.sent = append(s.sent, html)
	return nil
}

func newTestPropagator(provider *stubProvider, notifier *stubNotifier) *Propagator {
	p := NewPropagator(nil, nil, slog.New(slog.DiscardHandler))
	if provider != nil {
		p.provider = provider
	}
	if notifier != nil {
		p.notifier = notifier
	}
	p.retryDelay = func(int) time.Duration { return 0 }
	p.isTransient = func(err error) bool {
		return err != nil && err == transientErr
	}
	return p
}

func prJob(status string) (*models.Job, *models.Pipeline) {
	pr := int64(42)
	checkRun := int64(900)
	job := &models.Job{
		ID:               7,
		PipelineID:       3,
		Arch:             "arm64",
		Status:           status,
		GitHubCheckRunID: &checkRun,
	}
	pipeline := &models.Pipeline{
		ID:        3,
		Packages:  "fd",
		Archs:     "arm64",
		GitBranch: "stable",
		GitSHA:    "abc123",
		Source:    models.SourceGitHub,
		GitHubPR:  &pr,
	}
	return job, pipeline
}

func TestPropagateHappyPath(t *testing.T) {
	provider := &stubProvider{body: "- [ ] " + report.ChecklistLabel("arm64")}
	p := newTestPropagator(provider, nil)

	job, pipeline := prJob(models.JobStatusSuccess)
	p.Propagate(context.Background(), job, pipeline, "builder-01")

	assert.Equal(t, 1, provider.deleteCalls)
	assert.Equal(t, 1, provider.completeCalls)
	assert.Equal(t, "- [x] "+report.ChecklistLabel("arm64"), provider.body)
}

func TestPropagateFailureUnchecksChecklist(t *testing.T) {
	provider := &stubProvider{body: "- [x] " + report.ChecklistLabel("arm64")}
	p := newTestPropagator(provider, nil)

	job, pipeline := prJob(models.JobStatusFailed)
	p.Propagate(context.Background(), job, pipeline, "builder-01")

	assert.Equal(t, "- [ ] "+report.ChecklistLabel("arm64"), provider.body)
}

func TestPropagateRetriesTransientThenSucceeds(t *testing.T) {
	provider := &stubProvider{
		body:       "- [ ] " + report.ChecklistLabel("arm64"),
		deleteErrs: []error{transientErr, transientErr},
	}
	p := newTestPropagator(provider, nil)

	job, pipeline := prJob(models.JobStatusSuccess)
	p.Propagate(context.Background(), job, pipeline, "builder-01")

	assert.Equal(t, 3, provider.deleteCalls)
	// Surfaces that succeeded earlier are not repeated on retries.
	assert.Equal(t, 1, provider.completeCalls)
	assert.Equal(t, "- [x] "+report.ChecklistLabel("arm64"), provider.body)
}

func TestPropagateBoundedAttempts(t *testing.T) {
	provider := &stubProvider{
		body: "irrelevant",
		deleteErrs: []error{
			transientErr, transientErr, transientErr, transientErr, transientErr, transientErr,
		},
	}
	p := newTestPropagator(provider, nil)

	job, pipeline := prJob(models.JobStatusSuccess)
	p.Propagate(context.Background(), job, pipeline, "builder-01")

	assert.Equal(t, maxPropagationAttempts, provider.deleteCalls)
}

func TestPropagateFatalErrorDropsSurface(t *testing.T) {
	provider := &stubProvider{
		body:         "- [ ] " + report.ChecklistLabel("arm64"),
		completeErrs: []error{fatalErr},
	}
	p := newTestPropagator(provider, nil)

	job, pipeline := prJob(models.JobStatusSuccess)
	p.Propagate(context.Background(), job, pipeline, "builder-01")

	// No retry for the fatal surface; the rest still completes.
	assert.Equal(t, 1, provider.completeCalls)
	assert.Equal(t, 1, provider.deleteCalls)
	assert.Equal(t, "- [x] "+report.ChecklistLabel("arm64"), provider.body)
}

func TestPropagateChatOnly(t *testing.T) {
	notifier := &stubNotifier{}
	p := newTestPropagator(nil, notifier)

	chatID := int64(555)
	job := &models.Job{ID: 9, PipelineID: 4, Arch: "amd64", Status: models.JobStatusSuccess}
	pipeline := &models.Pipeline{
		ID: 4, Packages: "fd", Archs: "amd64",
		GitBranch: "stable", GitSHA: "abc",
		Source: models.SourceTelegram, TelegramUser: &chatID,
	}

	p.Propagate(context.Background(), job, pipeline, "builder-01")

	assert.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "Job 9")
}

func TestPropagateChatErrorIsTransient(t *testing.T) {
	notifier := &stubNotifier{errs: []error{fatalErr}}
	p := newTestPropagator(nil, notifier)

	chatID := int64(555)
	job := &models.Job{ID: 9, PipelineID: 4, Arch: "amd64", Status: models.JobStatusFailed}
	pipeline := &models.Pipeline{
		ID: 4, Packages: "fd", Archs: "amd64",
		GitBranch: "stable", GitSHA: "abc",
		Source: models.SourceTelegram, TelegramUser: &chatID,
	}

	p.Propagate(context.Background(), job, pipeline, "builder-01")

	// The first send fails and is retried regardless of error class.
	assert.Len(t, notifier.sent, 1)
}
