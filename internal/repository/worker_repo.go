package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-linux/forge/internal/models"
)

// HeartbeatProfile is the full resource profile a worker sends with each
// heartbeat.
type HeartbeatProfile struct {
	Hostname             string
	Arch                 string
	GitCommit            string
	MemoryBytes          int64
	LogicalCores         int
	DiskFreeSpaceBytes   int64
	Performance          *int64
	InternetConnectivity *bool
}

// WorkerRepository manages the worker fleet registry.
type WorkerRepository interface {
	// Heartbeat upserts by (hostname, arch) and advances last_heartbeat.
	Heartbeat(ctx context.Context, p HeartbeatProfile) (*models.Worker, error)
	GetByID(ctx context.Context, id int) (*models.Worker, error)
	GetByIdentity(ctx context.Context, hostname, arch string) (*models.Worker, error)
	// List returns visible workers, plus the total count.
	List(ctx context.Context, page, perPage int) ([]*models.Worker, int64, error)
	// CountByArch returns (total, live) worker counts per arch. A worker
	// is live when its last heartbeat is within liveSecs seconds.
	CountByArch(ctx context.Context, liveSecs int) (map[string][2]int64, error)
}

type postgresWorkerRepository struct {
	pool *pgxpool.Pool
}

// NewWorkerRepository creates a PostgreSQL-backed worker repository.
func NewWorkerRepository(pool *pgxpool.Pool) WorkerRepository {
	return &postgresWorkerRepository{pool: pool}
}

const workerColumns = `id, hostname, arch, git_commit, memory_bytes, logical_cores, disk_free_space_bytes,
	last_heartbeat_time, performance, internet_connectivity, visible`

func scanWorker(row pgx.Row) (*models.Worker, error) {
	var w models.Worker
	err := row.Scan(
		&w.ID, &w.Hostname, &w.Arch, &w.GitCommit, &w.MemoryBytes, &w.LogicalCores, &w.DiskFreeSpaceBytes,
		&w.LastHeartbeatTime, &w.Performance, &w.InternetConnectivity, &w.Visible,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *postgresWorkerRepository) Heartbeat(ctx context.Context, p HeartbeatProfile) (*models.Worker, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO workers (hostname, arch, git_commit, memory_bytes, logical_cores, disk_free_space_bytes,
			last_heartbeat_time, performance, internet_connectivity)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8)
		ON CONFLICT (hostname, arch) DO UPDATE SET
			git_commit = EXCLUDED.git_commit,
			memory_bytes = EXCLUDED.memory_bytes,
			logical_cores = EXCLUDED.logical_cores,
			disk_free_space_bytes = EXCLUDED.disk_free_space_bytes,
			last_heartbeat_time = GREATEST(workers.last_heartbeat_time, now()),
			performance = COALESCE(EXCLUDED.performance, workers.performance),
			internet_connectivity = COALESCE(EXCLUDED.internet_connectivity, workers.internet_connectivity)
		RETURNING `+workerColumns,
		p.Hostname, p.Arch, p.GitCommit, p.MemoryBytes, p.LogicalCores, p.DiskFreeSpaceBytes,
		p.Performance, p.InternetConnectivity,
	)
	w, err := scanWorker(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert worker: %w", err)
	}
	return w, nil
}

func (r *postgresWorkerRepository) GetByID(ctx context.Context, id int) (*models.Worker, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return w, nil
}

func (r *postgresWorkerRepository) GetByIdentity(ctx context.Context, hostname, arch string) (*models.Worker, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE hostname = $1 AND arch = $2`, hostname, arch)
	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return w, nil
}

func (r *postgresWorkerRepository) List(ctx context.Context, page, perPage int) ([]*models.Worker, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM workers WHERE visible`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count workers: %w", err)
	}

	query := `SELECT ` + workerColumns + ` FROM workers WHERE visible ORDER BY hostname, arch`
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
		return nil, 0, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var out []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, total, rows.Err()
}

func (r *postgresWorkerRepository) CountByArch(ctx context.Context, liveSecs int) (map[string][2]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT arch,
			count(*),
			count(*) FILTER (WHERE last_heartbeat_time > now() - make_interval(secs => $1))
		FROM workers
		WHERE visible
		GROUP BY arch`, liveSecs)
	if err != nil {
		return nil, fmt.Errorf("failed to count workers: %w", err)
	}
	defer rows.Close()

	out := make(map[string][2]int64)
	for rows.Next() {
		var a string
		var total, live int64
		if err := rows.Scan(&a, &total, &live); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[a] = [2]int64{total, live}
	}
	return out, rows.Err()
}
