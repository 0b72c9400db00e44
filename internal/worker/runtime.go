package worker

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aura-linux/forge/internal/common"
)

const (
	pollInterval      = 5 * time.Second
	maxPollBackoff    = 16 * time.Second
	heartbeatInterval = 60 * time.Second
	probeTimeout      = 10 * time.Second
)

// Config carries everything the agent needs to run.
type Config struct {
	CoordinatorURL string
	Secret         string
	Arch           string
	Hostname       string
	GitCommit      string
	// Performance is an operator-assigned rank, nil when unset.
	Performance *int64
	// ProbeURL is fetched to judge internet reachability.
	ProbeURL string
	Build    BuildConfig
}

// Runtime ties together the agent's long-running tasks.
type Runtime struct {
	cfg      Config
	identity Identity
	client   *Client
	builder  *Builder
	stream   *LogStream
	logger   *slog.Logger

	probe *http.Client
}

// NewRuntime assembles an agent from its configuration.
func NewRuntime(cfg Config, logger *slog.Logger) (*Runtime, error) {
	hostname, err := Hostname(cfg.Hostname)
	if err != nil {
		return nil, err
	}
	identity := Identity{Hostname: hostname, Arch: cfg.Arch, GitCommit: cfg.GitCommit}

	stream, err := NewLogStream(cfg.CoordinatorURL, hostname, logger)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		cfg:      cfg,
		identity: identity,
		client:   NewClient(cfg.CoordinatorURL, cfg.Secret),
		builder:  NewBuilder(cfg.Build, identity, logger, stream),
		stream:   stream,
		logger:   logger,
		probe:    &http.Client{Timeout: probeTimeout},
	}, nil
}

// Run drives the agent until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.stream.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return r.heartbeatLoop(ctx)
	})
	g.Go(func() error {
		return r.pollLoop(ctx)
	})

	return g.Wait()
}

// heartbeatLoop announces the worker immediately and then on a fixed
// cadence, piggybacking the reachability probe on each beat.
func (r *Runtime) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		r.beat(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runtime) beat(ctx context.Context) {
	res, err := Probe(r.cfg.Build.CielDir)
	if err != nil {
		r.logger.Error("resource probe failed", "error", err)
		return
	}

	var connectivity *bool
	if r.cfg.ProbeURL != "" {
		ok := r.checkReachability(ctx)
		connectivity = &ok
	}

	if err := r.client.Heartbeat(ctx, r.identity, res, r.cfg.Performance, connectivity); err != nil {
		r.logger.Warn("heartbeat failed", "error", err)
	}
}

func (r *Runtime) checkReachability(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// pollLoop asks for work on a short cadence, backing off when the
// coordinator is unreachable. Builds run inline: a worker holds one
// job at a time, and the coordinator reclaims anything it still holds
// on the next successful poll.
func (r *Runtime) pollLoop(ctx context.Context) error {
	backoff := pollInterval
	for {
		res, err := Probe(r.cfg.Build.CielDir)
		if err != nil {
			r.logger.Error("resource probe failed", "error", err)
		} else if offer, err := r.client.Poll(ctx, r.identity, res); err != nil {
			backoff *= 2
			if backoff > maxPollBackoff {
				backoff = maxPollBackoff
			}
			r.logger.Warn("poll failed", "error", err, "retry_in", backoff)
		} else {
			if offer != nil {
				r.execute(ctx, offer)
			}
			backoff = pollInterval
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runtime) execute(ctx context.Context, offer *common.JobOffer) {
	r.logger.Info("accepted job", "job_id", offer.JobID, "packages", offer.Packages,
		"branch", offer.GitBranch, "sha", offer.GitSHA)

	result := r.builder.Execute(ctx, offer)
	r.stream.Flush()

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(fetchDelays[attempt-1]):
			case <-ctx.Done():
				return
			}
		}
		err := r.client.Report(ctx, r.identity, offer.JobID, result)
		if err == nil {
			r.logger.Info("reported job", "job_id", offer.JobID, "kind", result.Kind)
			return
		}
		r.logger.Warn("job report failed", "job_id", offer.JobID, "error", err)
	}
	r.logger.Error("giving up on job report", "job_id", offer.JobID)
}
