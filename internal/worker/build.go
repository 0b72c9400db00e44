package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aura-linux/forge/internal/common"
)

const fetchAttempts = 5

// fetchDelays spaces the source-fetch retries.
var fetchDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

// BuildConfig describes the local build environment.
type BuildConfig struct {
	// CielDir is the ciel workspace; TREE lives under it.
	CielDir string
	// Instance is the ciel instance used for builds.
	Instance string
	// PushRemote is the pushpkg destination repository component.
	PushRemote string
	// LogDest is an scp destination for build logs, e.g. "logs@host:/srv/logs".
	LogDest string
	// LogBaseURL is the public prefix under which uploaded logs appear.
	LogBaseURL string
}

// Builder executes one job offer end to end.
type Builder struct {
	cfg      BuildConfig
	identity Identity
	logger   *slog.Logger
	stream   io.Writer

	// run is swapped out in tests.
	run func(ctx context.Context, dir string, out io.Writer, name string, args ...string) error
}

func NewBuilder(cfg BuildConfig, identity Identity, logger *slog.Logger, stream io.Writer) *Builder {
	return &Builder{
		cfg:      cfg,
		identity: identity,
		logger:   logger,
		stream:   stream,
		run:      runCommand,
	}
}

func runCommand(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// Execute runs the whole build pipeline for an offer and returns the
// result to report. Transport-level problems are the caller's concern;
// everything that goes wrong here is folded into the result.
func (b *Builder) Execute(ctx context.Context, offer *common.JobOffer) common.JobResult {
	started := time.Now()

	var log strings.Builder
	out := io.MultiWriter(&log, b.stream)

	fmt.Fprintf(out, "job %d: building %s on %s (%s @ %s)\n",
		offer.JobID, offer.Packages, b.identity.Hostname, offer.GitBranch, offer.GitSHA)

	if err := b.fetchSource(ctx, out, offer.GitBranch, offer.GitSHA); err != nil {
		b.logger.Error("source fetch failed", "job_id", offer.JobID, "error", err)
		return common.JobResult{Kind: "error", Message: fmt.Sprintf("failed to fetch sources: %v", err)}
	}

	if err := b.run(ctx, b.cfg.CielDir, out, "ciel", "update-os"); err != nil {
		b.logger.Error("container update failed", "job_id", offer.JobID, "error", err)
		return common.JobResult{Kind: "error", Message: fmt.Sprintf("failed to update build container: %v", err)}
	}

	packages := strings.Split(offer.Packages, ",")
	args := append([]string{"build", "-i", b.cfg.Instance}, packages...)
	buildErr := b.run(ctx, b.cfg.CielDir, out, "ciel", args...)

	report := ParseBuildOutput(log.String())
	outcome := common.Outcome{
		BuildSuccess: buildErr == nil,
	}
	if len(report.Built) > 0 {
		s := strings.Join(report.Built, ",")
		outcome.SuccessfulPackages = &s
	}
	if report.Failed != "" {
		outcome.FailedPackage = &report.Failed
	}
	if len(report.Skipped) > 0 {
		s := strings.Join(report.Skipped, ",")
		outcome.SkippedPackages = &s
	}

	if outcome.BuildSuccess {
		if err := b.pushPackages(ctx, out); err != nil {
			b.logger.Error("pushpkg failed", "job_id", offer.JobID, "error", err)
			fmt.Fprintf(out, "pushpkg failed: %v\n", err)
			outcome.PushpkgSuccess = false
		} else {
			outcome.PushpkgSuccess = true
		}
	}

	elapsed := int64(time.Since(started).Seconds())
	outcome.ElapsedSecs = &elapsed

	if url, err := b.uploadLog(ctx, offer, log.String()); err != nil {
		b.logger.Warn("log upload failed", "job_id", offer.JobID, "error", err)
	} else if url != "" {
		outcome.LogURL = &url
	}

	return common.JobResult{Kind: "ok", Ok: &outcome}
}

// fetchSource brings TREE to the requested commit. Fetches are retried
// since registry-side replication can lag a freshly pushed branch.
func (b *Builder) fetchSource(ctx context.Context, out io.Writer, branch, sha string) error {
	tree := filepath.Join(b.cfg.CielDir, "TREE")

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(fetchDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = b.run(ctx, tree, out, "git", "fetch", "origin", branch)
		if lastErr == nil {
			break
		}
		fmt.Fprintf(out, "git fetch failed (attempt %d/%d): %v\n", attempt+1, fetchAttempts, lastErr)
	}
	if lastErr != nil {
		return fmt.Errorf("git fetch origin %s: %w", branch, lastErr)
	}

	if err := b.run(ctx, tree, out, "git", "checkout", "-f", branch); err != nil {
		if err2 := b.run(ctx, tree, out, "git", "checkout", "-b", branch, "origin/"+branch); err2 != nil {
			return fmt.Errorf("git checkout %s: %w", branch, err)
		}
	}
	if err := b.run(ctx, tree, out, "git", "reset", "--hard", sha); err != nil {
		return fmt.Errorf("git reset --hard %s: %w", sha, err)
	}
	return nil
}

func (b *Builder) pushPackages(ctx context.Context, out io.Writer) error {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(fetchDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = b.run(ctx, b.cfg.CielDir, out, "pushpkg", b.cfg.PushRemote)
		if lastErr == nil {
			return nil
		}
		fmt.Fprintf(out, "pushpkg failed (attempt %d/%d): %v\n", attempt+1, fetchAttempts, lastErr)
	}
	return lastErr
}

// uploadLog ships the captured build log via scp and returns its public URL.
func (b *Builder) uploadLog(ctx context.Context, offer *common.JobOffer, log string) (string, error) {
	if b.cfg.LogDest == "" {
		return "", nil
	}

	name := fmt.Sprintf("%d-%s-%s-%s-%d.txt",
		offer.JobID,
		strings.ReplaceAll(offer.GitBranch, "/", "_"),
		b.identity.Arch,
		b.identity.Hostname,
		time.Now().Unix())

	tmp := filepath.Join("/tmp", name)
	if err := writeFile(tmp, log); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(fetchDelays[attempt-1]):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		lastErr = b.run(ctx, "/tmp", io.Discard, "scp", tmp, b.cfg.LogDest+"/"+name)
		if lastErr == nil {
			return strings.TrimRight(b.cfg.LogBaseURL, "/") + "/" + name, nil
		}
	}
	return "", fmt.Errorf("scp to %s: %w", b.cfg.LogDest, lastErr)
}

// BuildReport is the package classification parsed from acbs output.
type BuildReport struct {
	Built   []string
	Failed  string
	Skipped []string
}

const summaryBanner = "========================================"

// ParseBuildOutput scans acbs output for the trailing summary and
// classifies packages as built, failed or skipped.
func ParseBuildOutput(output string) BuildReport {
	var report BuildReport

	// Collection toggles as headers appear; package names are the
	// first token of each subsequent non-header line.
	const (
		collectNone = iota
		collectBuilt
		collectSkipped
	)
	mode := collectNone

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "" || strings.HasPrefix(line, summaryBanner):
			mode = collectNone
		case strings.HasPrefix(line, "Failed package:"):
			mode = collectNone
			report.Failed = firstToken(strings.TrimPrefix(line, "Failed package:"))
		case strings.HasPrefix(line, "Package(s) not built due to previous build failure:"):
			mode = collectSkipped
			appendTokens(&report.Skipped, strings.TrimPrefix(line, "Package(s) not built due to previous build failure:"))
		case strings.HasPrefix(line, "Package(s) built:"):
			mode = collectBuilt
			appendTokens(&report.Built, strings.TrimPrefix(line, "Package(s) built:"))
		case strings.HasPrefix(line, "ACBS Build"):
			mode = collectNone
		default:
			switch mode {
			case collectBuilt:
				if name := firstToken(line); name != "" {
					report.Built = append(report.Built, name)
				}
			case collectSkipped:
				if name := firstToken(line); name != "" {
					report.Skipped = append(report.Skipped, name)
				}
			}
		}
	}
	return report
}

func writeFile(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func appendTokens(dst *[]string, s string) {
	if name := firstToken(s); name != "" {
		*dst = append(*dst, name)
	}
}
