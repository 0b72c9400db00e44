package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-linux/forge/internal/database"
	"github.com/aura-linux/forge/internal/models"
)

func TestPollArchs(t *testing.T) {
	assert.Equal(t, []string{"amd64", "noarch"}, pollArchs("amd64"))
	assert.Equal(t, []string{"arm64"}, pollArchs("arm64"))
	assert.Equal(t, []string{"loongson3"}, pollArchs("loongson3"))
}

// testPool opens a pool against FORGE_TEST_DATABASE_URL with a fresh
// schema, or skips the test when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("FORGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FORGE_TEST_DATABASE_URL is not set")
	}
	require.NoError(t, database.RunMigrationsURL(url))

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(),
		`TRUNCATE jobs, pipelines, workers, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func registerWorker(t *testing.T, pool *pgxpool.Pool, hostname, arch string) *models.Worker {
	t.Helper()
	w, err := NewWorkerRepository(pool).Heartbeat(context.Background(), HeartbeatProfile{
		Hostname:     hostname,
		Arch:         arch,
		GitCommit:    "deadbeef",
		MemoryBytes:  64 << 30,
		LogicalCores: 16,
	})
	require.NoError(t, err)
	return w
}

func createPipeline(t *testing.T, pool *pgxpool.Pool, packages string, archs []string, floors map[string]JobFloors) []*models.Job {
	t.Helper()
	_, jobs, err := NewPipelineRepository(pool).Create(context.Background(), &models.Pipeline{
		Packages:  packages,
		Archs:     "amd64",
		GitBranch: "stable",
		GitSHA:    "abc123",
		Source:    models.SourceManual,
	}, archs, floors)
	require.NoError(t, err)
	return jobs
}

func TestPollUnknownWorker(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepository(pool)

	createPipeline(t, pool, "fd", []string{"amd64"}, nil)

	_, _, err := repo.Poll(context.Background(), "ghost", "amd64", Resources{
		MemoryBytes: 32 << 30, LogicalCores: 8, DiskFreeSpaceBytes: 500 << 30,
	})
	assert.True(t, errors.Is(err, ErrWorkerUnknown))
}

func TestPollAssignsOldestJob(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	worker := registerWorker(t, pool, "builder-01", "amd64")
	first := createPipeline(t, pool, "fd", []string{"amd64"}, nil)
	createPipeline(t, pool, "ripgrep", []string{"amd64"}, nil)

	job, pipeline, err := repo.Poll(ctx, "builder-01", "amd64", Resources{
		MemoryBytes: 32 << 30, LogicalCores: 8, DiskFreeSpaceBytes: 500 << 30,
	})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first[0].ID, job.ID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.AssignedWorkerID)
	assert.Equal(t, worker.ID, *job.AssignedWorkerID)
	assert.NotNil(t, job.AssignTime)
	require.NotNil(t, pipeline)
	assert.Equal(t, "fd", pipeline.Packages)
}

func TestPollReclaimsLostJob(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	worker := registerWorker(t, pool, "builder-01", "amd64")
	createPipeline(t, pool, "fd", []string{"amd64"}, nil)
	createPipeline(t, pool, "ripgrep", []string{"amd64"}, nil)

	res := Resources{MemoryBytes: 32 << 30, LogicalCores: 8, DiskFreeSpaceBytes: 500 << 30}
	first, _, err := repo.Poll(ctx, "builder-01", "amd64", res)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The worker restarts without reporting. Its next poll must hand the
	// same job back instead of piling a second one onto the worker.
	again, _, err := repo.Poll(ctx, "builder-01", "amd64", res)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)

	running, err := repo.RunningByWorker(ctx, worker.ID)
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, first.ID, running.ID)

	var stuck int64
	err = pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE assigned_worker_id = $1 AND status = $2`,
		worker.ID, models.JobStatusRunning).Scan(&stuck)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stuck)
}

func TestPollReclaimLandsOnEmptyQueue(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	registerWorker(t, pool, "builder-01", "amd64")
	mem := int64(32) << 30
	jobs := createPipeline(t, pool, "chromium", []string{"amd64"},
		map[string]JobFloors{"amd64": {MinTotalMem: &mem}})

	big := Resources{MemoryBytes: 64 << 30, LogicalCores: 16, DiskFreeSpaceBytes: 500 << 30}
	held, _, err := repo.Poll(ctx, "builder-01", "amd64", big)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, jobs[0].ID, held.ID)

	// The same worker now declares too little memory for the floor. No
	// offer comes back, but the held job must still return to the queue.
	small := Resources{MemoryBytes: 16 << 30, LogicalCores: 16, DiskFreeSpaceBytes: 500 << 30}
	job, _, err := repo.Poll(ctx, "builder-01", "amd64", small)
	require.NoError(t, err)
	assert.Nil(t, job)

	requeued, err := repo.GetByID(ctx, held.ID)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, models.JobStatusCreated, requeued.Status)
	assert.Nil(t, requeued.AssignedWorkerID)
}

func TestPollFloorGating(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	registerWorker(t, pool, "small-box", "amd64")
	registerWorker(t, pool, "big-box", "amd64")

	mem := int64(32) << 30
	perCore := float64(int64(2) << 30)
	createPipeline(t, pool, "chromium", []string{"amd64"}, map[string]JobFloors{
		"amd64": {MinTotalMem: &mem, MinTotalMemPerCore: &perCore},
	})

	// 16 GiB over 8 cores fails both the total and the per-core floor.
	job, _, err := repo.Poll(ctx, "small-box", "amd64", Resources{
		MemoryBytes: 16 << 30, LogicalCores: 8, DiskFreeSpaceBytes: 500 << 30,
	})
	require.NoError(t, err)
	assert.Nil(t, job)

	// 64 GiB over 64 cores clears the total floor but only 1 GiB/core.
	job, _, err = repo.Poll(ctx, "big-box", "amd64", Resources{
		MemoryBytes: 64 << 30, LogicalCores: 64, DiskFreeSpaceBytes: 500 << 30,
	})
	require.NoError(t, err)
	assert.Nil(t, job)

	job, _, err = repo.Poll(ctx, "big-box", "amd64", Resources{
		MemoryBytes: 64 << 30, LogicalCores: 16, DiskFreeSpaceBytes: 500 << 30,
	})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestPollNoarchRouting(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepository(pool)
	ctx := context.Background()

	registerWorker(t, pool, "arm-box", "arm64")
	registerWorker(t, pool, "x86-box", "amd64")
	createPipeline(t, pool, "aosc-aaa", []string{"noarch"}, nil)

	res := Resources{MemoryBytes: 32 << 30, LogicalCores: 8, DiskFreeSpaceBytes: 500 << 30}

	job, _, err := repo.Poll(ctx, "arm-box", "arm64", res)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, _, err = repo.Poll(ctx, "x86-box", "amd64", res)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "noarch", job.Arch)
}
