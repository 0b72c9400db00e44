package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-linux/forge/internal/buildtree"
	"github.com/aura-linux/forge/internal/github"
	"github.com/aura-linux/forge/internal/models"
	"github.com/aura-linux/forge/internal/repository"
)

func job(id int, arch, status string) *models.Job {
	return &models.Job{ID: id, Arch: arch, Status: status}
}

func TestDerivePipelineStatus(t *testing.T) {
	tests := []struct {
		name string
		jobs []*models.Job
		want string
	}{
		{"all success", []*models.Job{job(1, "amd64", "success"), job(2, "arm64", "success")}, "success"},
		{"one running", []*models.Job{job(1, "amd64", "success"), job(2, "arm64", "running")}, "running"},
		{"created counts as running", []*models.Job{job(1, "amd64", "created")}, "running"},
		{"failed beats running", []*models.Job{job(1, "amd64", "failed"), job(2, "arm64", "running")}, "failed"},
		{"error beats failed", []*models.Job{job(1, "amd64", "failed"), job(2, "arm64", "error")}, "error"},
		{"no jobs", nil, "success"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePipelineStatus(tt.jobs))
		})
	}
}

func TestDerivePipelineStatusNewestJobPerArchWins(t *testing.T) {
	// A restarted arch is judged by its newest job only.
	jobs := []*models.Job{
		job(1, "amd64", "failed"),
		job(2, "amd64", "success"),
	}
	assert.Equal(t, "success", DerivePipelineStatus(jobs))
}

// capturePipelines records the floors handed to Create.
type capturePipelines struct {
	repository.PipelineRepository
	floors map[string]repository.JobFloors
}

func (c *capturePipelines) Create(ctx context.Context, p *models.Pipeline, archs []string, floors map[string]repository.JobFloors) (*models.Pipeline, []*models.Job, error) {
	c.floors = floors
	p.ID = 1
	jobs := make([]*models.Job, 0, len(archs))
	for i, a := range archs {
		jobs = append(jobs, &models.Job{ID: i + 1, PipelineID: p.ID, Arch: a, Status: models.JobStatusCreated})
	}
	return p, jobs, nil
}

// prProvider answers PullRequest with canned metadata.
type prProvider struct {
	stubProvider
	info *github.PRInfo
}

func (s *prProvider) PullRequest(ctx context.Context, number int) (*github.PRInfo, error) {
	return s.info, nil
}

func TestCreateFromPullRequestDerivesFloors(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "extra-utils", "fd")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	spec := "VER=9.0\nENVREQ=\"core=4 total_mem=32\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "spec"), []byte(spec), 0o644))

	pipelines := &capturePipelines{}
	provider := &prProvider{info: &github.PRInfo{
		Number: 42,
		Branch: "fd-9.0",
		SHA:    "abc123",
		Body:   "bump fd\n\n" + github.PackagesMarker + " fd\n",
	}}
	svc := NewPipelineService(
		pipelines, nil, nil, buildtree.New(dir),
		provider, nil, slog.New(slog.DiscardHandler), "https://forge.example",
	)

	_, jobs, err := svc.CreateFromPullRequest(context.Background(), 42, []string{"amd64"}, CreateOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	f, ok := pipelines.floors["amd64"]
	require.True(t, ok, "resource floors from the package spec must reach the repository")
	require.NotNil(t, f.MinCore)
	assert.Equal(t, 4, *f.MinCore)
	require.NotNil(t, f.MinTotalMem)
	assert.Equal(t, int64(32)<<30, *f.MinTotalMem)
	assert.Nil(t, f.MinDisk)
}

func TestCreateFromPullRequestKeepsExplicitFloors(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "extra-utils", "fd")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	spec := "VER=9.0\nENVREQ=\"total_mem=32\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "spec"), []byte(spec), 0o644))

	pipelines := &capturePipelines{}
	provider := &prProvider{info: &github.PRInfo{
		Number: 42,
		Branch: "fd-9.0",
		SHA:    "abc123",
		Body:   github.PackagesMarker + " fd\n",
	}}
	svc := NewPipelineService(
		pipelines, nil, nil, buildtree.New(dir),
		provider, nil, slog.New(slog.DiscardHandler), "https://forge.example",
	)

	core := 16
	explicit := map[string]repository.JobFloors{"amd64": {MinCore: &core}}
	_, _, err := svc.CreateFromPullRequest(context.Background(), 42, []string{"amd64"}, CreateOptions{Floors: explicit})
	require.NoError(t, err)

	f := pipelines.floors["amd64"]
	require.NotNil(t, f.MinCore)
	assert.Equal(t, 16, *f.MinCore)
	assert.Nil(t, f.MinTotalMem)
}

// fakeRecycleJobs overrides only the repository method the recycler
// uses.
type fakeRecycleJobs struct {
	repository.JobRepository
	recycled int64
	calls    int
}

func (f *fakeRecycleJobs) Recycle(ctx context.Context, staleSecs int) (int64, error) {
	f.calls++
	return f.recycled, nil
}

func TestRecyclerRunOnce(t *testing.T) {
	fake := &fakeRecycleJobs{recycled: 3}
	r := NewRecycler(fake, slog.New(slog.DiscardHandler))

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, fake.calls)
}
