package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-linux/forge/internal/common"
	"github.com/aura-linux/forge/internal/models"
)

// Sentinel errors surfaced to the service layer, which maps them onto
// the API error taxonomy.
var (
	// ErrWorkerUnknown is returned when a poll or report references a
	// (hostname, arch) pair that has never heartbeated.
	ErrWorkerUnknown = errors.New("worker not registered")
	// ErrJobNotOwned is returned when a report targets a job that is not
	// running or is assigned to a different worker.
	ErrJobNotOwned = errors.New("job is not running or not assigned to this worker")
)

// Resources is the resource profile a worker declares when polling.
type Resources = common.Resources

// Outcome carries the result fields of a successful worker report.
type Outcome = common.Outcome

// JobRepository manages job records and the assignment transaction.
type JobRepository interface {
	GetByID(ctx context.Context, id int) (*models.Job, error)
	ListByPipeline(ctx context.Context, pipelineID int) ([]*models.Job, error)
	List(ctx context.Context, page, perPage int) ([]*models.Job, int64, error)

	// Poll atomically assigns the oldest eligible created job to the
	// worker identified by (hostname, arch). Any job the worker still
	// holds is returned to the queue first, then eligibility requires an
	// arch match (amd64 workers additionally take noarch jobs) and that
	// every non-null resource floor is within the declared resources.
	// Returns (nil, nil, nil) when no job matches.
	Poll(ctx context.Context, hostname, workerArch string, res Resources) (*models.Job, *models.Pipeline, error)

	// ReportOk finishes a running job. Status becomes success when both
	// the build and the push succeeded, failed otherwise.
	ReportOk(ctx context.Context, jobID int, hostname, workerArch string, o Outcome) (*models.Job, error)

	// ReportError moves a running job to the error state.
	ReportError(ctx context.Context, jobID int, hostname, workerArch, message string) (*models.Job, error)

	// Restart clones a terminal job into a fresh created job carrying
	// the same packages, arch and resource floors.
	Restart(ctx context.Context, jobID int) (*models.Job, error)

	// Recycle returns queued-again jobs whose assigned worker has not
	// heartbeated for staleSecs seconds. Returns the count.
	Recycle(ctx context.Context, staleSecs int) (int64, error)

	// StatusCounts returns the number of jobs per (arch, status).
	StatusCounts(ctx context.Context) (map[string]map[string]int64, error)

	// RunningByWorker returns the job currently assigned to a worker,
	// or nil.
	RunningByWorker(ctx context.Context, workerID int) (*models.Job, error)

	// CountBuiltBy returns how many terminal jobs a worker has built.
	CountBuiltBy(ctx context.Context, workerID int) (int64, error)

	SetCheckRunID(ctx context.Context, jobID int, checkRunID int64) error
}

type postgresJobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a PostgreSQL-backed job repository.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &postgresJobRepository{pool: pool}
}

const jobColumns = `id, pipeline_id, packages, arch, creation_time, status,
	build_success, pushpkg_success, successful_packages, failed_package, skipped_packages, log_url,
	finish_time, error_message, elapsed_secs,
	assigned_worker_id, built_by_worker_id, assign_time, github_check_run_id,
	require_min_core, require_min_total_mem, require_min_total_mem_per_core, require_min_disk`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.PipelineID, &j.Packages, &j.Arch, &j.CreationTime, &j.Status,
		&j.BuildSuccess, &j.PushpkgSuccess, &j.SuccessfulPackages, &j.FailedPackage, &j.SkippedPackages, &j.LogURL,
		&j.FinishTime, &j.ErrorMessage, &j.ElapsedSecs,
		&j.AssignedWorkerID, &j.BuiltByWorkerID, &j.AssignTime, &j.GitHubCheckRunID,
		&j.RequireMinCore, &j.RequireMinTotalMem, &j.RequireMinTotalMemPerCore, &j.RequireMinDisk,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *postgresJobRepository) GetByID(ctx context.Context, id int) (*models.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (r *postgresJobRepository) ListByPipeline(ctx context.Context, pipelineID int) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE pipeline_id = $1 ORDER BY id`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *postgresJobRepository) List(ctx context.Context, page, perPage int) ([]*models.Job, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY id DESC`
	args := []any{}
	if perPage >= 0 {
		if page < 1 {
			page = 1
		}
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, perPage, (page-1)*perPage)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, total, rows.Err()
}

// pollArchs lists the job archs a worker can take: its own, and for
// amd64 additionally the architecture-independent jobs.
func pollArchs(workerArch string) []string {
	archs := []string{workerArch}
	if workerArch == "amd64" {
		archs = append(archs, "noarch")
	}
	return archs
}

func (r *postgresJobRepository) Poll(ctx context.Context, hostname, workerArch string, res Resources) (*models.Job, *models.Pipeline, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var workerID int
	err = tx.QueryRow(ctx, `SELECT id FROM workers WHERE hostname = $1 AND arch = $2`, hostname, workerArch).Scan(&workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrWorkerUnknown
		}
		return nil, nil, fmt.Errorf("failed to look up worker: %w", err)
	}

	// A worker holds at most one job and only polls when idle. Anything
	// it still owns from a lost offer acknowledgement goes back to the
	// queue first, so it becomes a candidate again immediately instead
	// of waiting for the recycler.
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $1, assigned_worker_id = NULL
		WHERE assigned_worker_id = $2 AND status IN ($3, $4)`,
		models.JobStatusCreated, workerID,
		models.JobStatusAssigned, models.JobStatusRunning,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reclaim jobs: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1
		  AND arch = ANY($2)
		  AND (require_min_core IS NULL OR require_min_core <= $3)
		  AND (require_min_total_mem IS NULL OR require_min_total_mem <= $4)
		  AND (require_min_total_mem_per_core IS NULL OR $3 > 0 AND require_min_total_mem_per_core <= $4::double precision / $3)
		  AND (require_min_disk IS NULL OR require_min_disk <= $5)
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		models.JobStatusCreated, pollArchs(workerArch),
		res.LogicalCores, res.MemoryBytes, res.DiskFreeSpaceBytes,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The reclaim above must still land.
			if err := tx.Commit(ctx); err != nil {
				return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to select job: %w", err)
	}

	row = tx.QueryRow(ctx, `
		UPDATE jobs SET status = $1, assigned_worker_id = $2, assign_time = now()
		WHERE id = $3
		RETURNING `+jobColumns,
		models.JobStatusRunning, workerID, job.ID,
	)
	job, err = scanJob(row)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assign job: %w", err)
	}

	prow := tx.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, job.PipelineID)
	pipeline, err := scanPipeline(prow)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read pipeline: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, pipeline, nil
}

// lockOwnedJob loads the job row for update and verifies it is running
// and assigned to the calling worker.
func lockOwnedJob(ctx context.Context, tx pgx.Tx, jobID int, hostname, workerArch string) (*models.Job, int, error) {
	var workerID int
	err := tx.QueryRow(ctx, `SELECT id FROM workers WHERE hostname = $1 AND arch = $2`, hostname, workerArch).Scan(&workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrWorkerUnknown
		}
		return nil, 0, fmt.Errorf("failed to look up worker: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrJobNotOwned
		}
		return nil, 0, fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status != models.JobStatusRunning || job.AssignedWorkerID == nil || *job.AssignedWorkerID != workerID {
		return nil, 0, ErrJobNotOwned
	}
	return job, workerID, nil
}

func (r *postgresJobRepository) ReportOk(ctx context.Context, jobID int, hostname, workerArch string, o Outcome) (*models.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, workerID, err := lockOwnedJob(ctx, tx, jobID, hostname, workerArch)
	if err != nil {
		return nil, err
	}

	status := models.JobStatusFailed
	if o.BuildSuccess && o.PushpkgSuccess {
		status = models.JobStatusSuccess
	}

	row := tx.QueryRow(ctx, `
		UPDATE jobs SET
			status = $1,
			build_success = $2, pushpkg_success = $3,
			successful_packages = $4, failed_package = $5, skipped_packages = $6,
			log_url = $7, elapsed_secs = $8,
			assigned_worker_id = NULL, built_by_worker_id = $9, finish_time = now()
		WHERE id = $10
		RETURNING `+jobColumns,
		status, o.BuildSuccess, o.PushpkgSuccess,
		o.SuccessfulPackages, o.FailedPackage, o.SkippedPackages,
		o.LogURL, o.ElapsedSecs, workerID, jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to finish job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, nil
}

func (r *postgresJobRepository) ReportError(ctx context.Context, jobID int, hostname, workerArch, message string) (*models.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, workerID, err := lockOwnedJob(ctx, tx, jobID, hostname, workerArch)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE jobs SET
			status = $1, error_message = $2,
			assigned_worker_id = NULL, built_by_worker_id = $3, finish_time = now()
		WHERE id = $4
		RETURNING `+jobColumns,
		models.JobStatusError, message, workerID, jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to finish job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, nil
}

func (r *postgresJobRepository) Restart(ctx context.Context, jobID int) (*models.Job, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO jobs (pipeline_id, packages, arch, status,
			require_min_core, require_min_total_mem, require_min_total_mem_per_core, require_min_disk)
		SELECT pipeline_id, packages, arch, $1,
			require_min_core, require_min_total_mem, require_min_total_mem_per_core, require_min_disk
		FROM jobs WHERE id = $2
		RETURNING `+jobColumns,
		models.JobStatusCreated, jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to restart job: %w", err)
	}
	return job, nil
}

func (r *postgresJobRepository) Recycle(ctx context.Context, staleSecs int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, assigned_worker_id = NULL
		WHERE status IN ($2, $3)
		  AND assigned_worker_id IN (
			SELECT id FROM workers
			WHERE last_heartbeat_time < now() - make_interval(secs => $4)
		  )`,
		models.JobStatusCreated,
		models.JobStatusAssigned, models.JobStatusRunning,
		staleSecs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recycle jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *postgresJobRepository) StatusCounts(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT arch, status, count(*) FROM jobs GROUP BY arch, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int64)
	for rows.Next() {
		var a, s string
		var n int64
		if err := rows.Scan(&a, &s, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		if out[a] == nil {
			out[a] = make(map[string]int64)
		}
		out[a][s] = n
	}
	return out, rows.Err()
}

func (r *postgresJobRepository) RunningByWorker(ctx context.Context, workerID int) (*models.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE assigned_worker_id = $1 AND status IN ($2, $3)
		ORDER BY id DESC LIMIT 1`,
		workerID, models.JobStatusAssigned, models.JobStatusRunning,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get running job: %w", err)
	}
	return j, nil
}

func (r *postgresJobRepository) CountBuiltBy(ctx context.Context, workerID int) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE built_by_worker_id = $1`, workerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count built jobs: %w", err)
	}
	return n, nil
}

func (r *postgresJobRepository) SetCheckRunID(ctx context.Context, jobID int, checkRunID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET github_check_run_id = $1 WHERE id = $2`, checkRunID, jobID)
	if err != nil {
		return fmt.Errorf("failed to set check run id: %w", err)
	}
	return nil
}
