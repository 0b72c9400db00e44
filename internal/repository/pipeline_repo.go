// Package repository provides data access for pipelines, jobs, workers
// and users.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-linux/forge/internal/models"
)

// PipelineRepository manages pipeline records and their fan-out into jobs.
type PipelineRepository interface {
	// Create inserts the pipeline and one created job per arch in a
	// single transaction. Resource floors, when present, are keyed by
	// arch.
	Create(ctx context.Context, p *models.Pipeline, archs []string, floors map[string]JobFloors) (*models.Pipeline, []*models.Job, error)
	GetByID(ctx context.Context, id int) (*models.Pipeline, error)
	// List returns one page of pipelines, newest first, plus the total
	// count. perPage < 0 returns everything.
	List(ctx context.Context, page, perPage int) ([]*models.Pipeline, int64, error)
}

// JobFloors carries the optional resource floors for a job.
type JobFloors struct {
	MinCore            *int
	MinTotalMem        *int64
	MinTotalMemPerCore *float64
	MinDisk            *int64
}

type postgresPipelineRepository struct {
	pool *pgxpool.Pool
}

// NewPipelineRepository creates a PostgreSQL-backed pipeline repository.
func NewPipelineRepository(pool *pgxpool.Pool) PipelineRepository {
	return &postgresPipelineRepository{pool: pool}
}

const pipelineColumns = `id, packages, archs, git_branch, git_sha, creation_time, source, github_pr, telegram_user, creator_user_id`

func scanPipeline(row pgx.Row) (*models.Pipeline, error) {
	var p models.Pipeline
	err := row.Scan(
		&p.ID, &p.Packages, &p.Archs, &p.GitBranch, &p.GitSHA,
		&p.CreationTime, &p.Source, &p.GitHubPR, &p.TelegramUser, &p.CreatorID,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresPipelineRepository) Create(ctx context.Context, p *models.Pipeline, archs []string, floors map[string]JobFloors) (*models.Pipeline, []*models.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO pipelines (packages, archs, git_branch, git_sha, source, github_pr, telegram_user, creator_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+pipelineColumns,
		p.Packages, p.Archs, p.GitBranch, p.GitSHA, p.Source,
		p.GitHubPR, p.TelegramUser, p.CreatorID,
	)
	created, err := scanPipeline(row)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert pipeline: %w", err)
	}

	jobs := make([]*models.Job, 0, len(archs))
	for _, a := range archs {
		f := floors[a]
		jrow := tx.QueryRow(ctx, `
			INSERT INTO jobs (pipeline_id, packages, arch, status,
				require_min_core, require_min_total_mem, require_min_total_mem_per_core, require_min_disk)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+jobColumns,
			created.ID, p.Packages, a, models.JobStatusCreated,
			f.MinCore, f.MinTotalMem, f.MinTotalMemPerCore, f.MinDisk,
		)
		j, err := scanJob(jrow)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert job for %s: %w", a, err)
		}
		jobs = append(jobs, j)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, jobs, nil
}

func (r *postgresPipelineRepository) GetByID(ctx context.Context, id int) (*models.Pipeline, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id)
	p, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return p, nil
}

func (r *postgresPipelineRepository) List(ctx context.Context, page, perPage int) ([]*models.Pipeline, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM pipelines`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pipelines: %w", err)
	}

	query := `SELECT ` + pipelineColumns + ` FROM pipelines ORDER BY id DESC`
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
		return nil, 0, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
