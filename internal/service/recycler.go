package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aura-linux/forge/internal/middleware"
	"github.com/aura-linux/forge/internal/repository"
)

// RecycleInterval is how often orphaned assignments are swept.
const RecycleInterval = 60 * time.Second

// Recycler returns jobs to the queue when their assigned worker has
// gone silent.
type Recycler struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

// NewRecycler wires the recycler.
func NewRecycler(jobs repository.JobRepository, logger *slog.Logger) *Recycler {
	return &Recycler{jobs: jobs, logger: logger}
}

// RunOnce performs a single sweep and returns the number of recycled
// jobs. Terminal jobs are never touched; repeating the sweep is safe.
func (r *Recycler) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.jobs.Recycle(ctx, RecycleSecs)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		middleware.RecordJobsRecycled(int(n))
		r.logger.Info("recycled orphaned jobs", "count", n)
	}
	return n, nil
}

// Run sweeps on a fixed cadence until the context is cancelled.
func (r *Recycler) Run(ctx context.Context) error {
	ticker := time.NewTicker(RecycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("recycler sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
