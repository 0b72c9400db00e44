// Package report renders build outcomes for the reporting surfaces:
// PR comments, the PR-body checklist, check runs and chat messages.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/aura-linux/forge/internal/arch"
	"github.com/aura-linux/forge/internal/models"
)

// Result glyphs. A report comment's first token identifies its verdict.
const (
	SuccessGlyph = "✅️"
	FailedGlyph  = "❌"
)

// ChecklistLabel is the per-arch line item used in PR-body checklists,
// e.g. "AArch64 `arm64`".
func ChecklistLabel(a string) string {
	return fmt.Sprintf("%s `%s`", arch.DisplayName(a), a)
}

// ToggleChecklist marks the arch's checklist item checked on success or
// unchecked on failure. The body is returned unchanged when it carries
// no item for the arch.
func ToggleChecklist(body, a string, success bool) string {
	label := ChecklistLabel(a)
	unchecked := "- [ ] " + label
	checked := "- [x] " + label
	if success {
		return strings.ReplaceAll(body, unchecked, checked)
	}
	return strings.ReplaceAll(body, checked, unchecked)
}

// IsStaleJobComment reports whether a bot comment is a superseded
// per-arch result: its first token is a verdict glyph and it names the
// arch on an "Architecture:" line.
func IsStaleJobComment(body, a string) bool {
	fields := strings.Fields(body)
	if len(fields) == 0 || (fields[0] != SuccessGlyph && fields[0] != FailedGlyph) {
		return false
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Architecture:"); ok {
			if strings.TrimSpace(rest) == a {
				return true
			}
		}
	}
	return false
}

// jobVerdict returns the glyph and a short verb for a terminal job.
func jobVerdict(job *models.Job) (glyph, verb string) {
	switch job.Status {
	case models.JobStatusSuccess:
		return SuccessGlyph, "succeeded"
	case models.JobStatusError:
		return FailedGlyph, "errored"
	default:
		return FailedGlyph, "failed"
	}
}

// BuildResultMarkdown renders a terminal job as a Markdown comment
// body. The first token is the verdict glyph and the body carries an
// "Architecture:" line, both load-bearing for stale-comment detection.
func BuildResultMarkdown(job *models.Job, p *models.Pipeline, workerHostname string) string {
	glyph, verb := jobVerdict(job)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Job %d %s\n\n", glyph, job.ID, verb)
	fmt.Fprintf(&b, "Architecture: %s\n", job.Arch)
	fmt.Fprintf(&b, "Package(s): %s\n", strings.ReplaceAll(p.Packages, ",", ", "))
	fmt.Fprintf(&b, "Git branch: %s\n", p.GitBranch)
	fmt.Fprintf(&b, "Git commit: %s\n", p.GitSHA)
	if workerHostname != "" {
		fmt.Fprintf(&b, "Worker: %s\n", workerHostname)
	}
	if job.ElapsedSecs != nil {
		fmt.Fprintf(&b, "Time elapsed: %s\n", (time.Duration(*job.ElapsedSecs) * time.Second).String())
	}

	if job.Status == models.JobStatusError {
		if job.ErrorMessage != nil {
			fmt.Fprintf(&b, "\nError:\n```\n%s\n```\n", *job.ErrorMessage)
		}
		return b.String()
	}

	if job.SuccessfulPackages != nil && *job.SuccessfulPackages != "" {
		fmt.Fprintf(&b, "\nSuccessful package(s): %s\n", *job.SuccessfulPackages)
	}
	if job.FailedPackage != nil && *job.FailedPackage != "" {
		fmt.Fprintf(&b, "Failed package: %s\n", *job.FailedPackage)
	}
	if job.SkippedPackages != nil && *job.SkippedPackages != "" {
		fmt.Fprintf(&b, "Skipped package(s): %s\n", *job.SkippedPackages)
	}
	if job.PushpkgSuccess != nil && !*job.PushpkgSuccess {
		b.WriteString("Artifact upload failed\n")
	}
	if job.LogURL != nil && *job.LogURL != "" {
		fmt.Fprintf(&b, "\n[Build log](%s)\n", *job.LogURL)
	}
	return b.String()
}

// BuildResultHTML renders a terminal job for the chat surface, which
// accepts a restricted HTML subset.
func BuildResultHTML(job *models.Job, p *models.Pipeline, workerHostname string) string {
	glyph, verb := jobVerdict(job)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Job %d %s\n", glyph, job.ID, verb)
	fmt.Fprintf(&b, "<b>Architecture</b>: %s\n", job.Arch)
	fmt.Fprintf(&b, "<b>Package(s)</b>: %s\n", strings.ReplaceAll(p.Packages, ",", ", "))
	fmt.Fprintf(&b, "<b>Git branch</b>: %s\n", p.GitBranch)
	if workerHostname != "" {
		fmt.Fprintf(&b, "<b>Worker</b>: %s\n", workerHostname)
	}
	if job.Status == models.JobStatusError && job.ErrorMessage != nil {
		fmt.Fprintf(&b, "<b>Error</b>: %s\n", *job.ErrorMessage)
	}
	if job.FailedPackage != nil && *job.FailedPackage != "" {
		fmt.Fprintf(&b, "<b>Failed package</b>: %s\n", *job.FailedPackage)
	}
	if job.LogURL != nil && *job.LogURL != "" {
		fmt.Fprintf(&b, `<a href="%s">Build log</a>`+"\n", *job.LogURL)
	}
	return b.String()
}

// CheckRunName is the per-arch check name shown on the PR.
func CheckRunName(a string) string {
	return "buildit " + a
}

// NewPipelineSummary renders the acknowledgement posted when a pipeline
// is created.
func NewPipelineSummary(p *models.Pipeline, jobs []*models.Job, externalURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %d created\n\n", p.ID)
	fmt.Fprintf(&b, "Package(s): %s\n", strings.ReplaceAll(p.Packages, ",", ", "))
	fmt.Fprintf(&b, "Architecture(s): %s\n", strings.ReplaceAll(p.Archs, ",", ", "))
	fmt.Fprintf(&b, "Git branch: %s\n", p.GitBranch)
	fmt.Fprintf(&b, "Git commit: %s\n", p.GitSHA)
	if externalURL != "" {
		fmt.Fprintf(&b, "\n[Status](%s/api/pipeline/info?pipeline_id=%d)\n", strings.TrimRight(externalURL, "/"), p.ID)
	}
	return b.String()
}
