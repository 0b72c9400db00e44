package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aura-linux/forge/internal/models"
)

func strp(s string) *string { return &s }
func i64p(n int64) *int64   { return &n }
func boolp(b bool) *bool    { return &b }

func TestToggleChecklistSuccess(t *testing.T) {
	body := "Checklist:\n- [ ] AMD64 `amd64`\n- [ ] AArch64 `arm64`\n"
	got := ToggleChecklist(body, "arm64", true)
	assert.Contains(t, got, "- [x] AArch64 `arm64`")
	assert.Contains(t, got, "- [ ] AMD64 `amd64`")
}

func TestToggleChecklistFailureReverts(t *testing.T) {
	body := "- [x] AArch64 `arm64`\n"
	got := ToggleChecklist(body, "arm64", false)
	assert.Equal(t, "- [ ] AArch64 `arm64`\n", got)
}

func TestToggleChecklistNoItem(t *testing.T) {
	body := "no checklist here"
	assert.Equal(t, body, ToggleChecklist(body, "riscv64", true))
}

func TestIsStaleJobComment(t *testing.T) {
	ok := SuccessGlyph + " Job 12 succeeded\n\nArchitecture: amd64\nPackage(s): fd\n"
	assert.True(t, IsStaleJobComment(ok, "amd64"))
	assert.False(t, IsStaleJobComment(ok, "arm64"))

	failed := FailedGlyph + " Job 13 failed\n\nArchitecture: riscv64\n"
	assert.True(t, IsStaleJobComment(failed, "riscv64"))

	// Human comments never match, even when they mention the arch.
	assert.False(t, IsStaleJobComment("please rebuild amd64\nArchitecture: amd64", "amd64"))
	assert.False(t, IsStaleJobComment("", "amd64"))
}

func TestBuildResultMarkdownSuccess(t *testing.T) {
	job := &models.Job{
		ID:                 7,
		Arch:               "amd64",
		Status:             models.JobStatusSuccess,
		BuildSuccess:       boolp(true),
		PushpkgSuccess:     boolp(true),
		SuccessfulPackages: strp("fd"),
		LogURL:             strp("https://logs.example.org/7.txt"),
		ElapsedSecs:        i64p(888),
	}
	p := &models.Pipeline{ID: 1, Packages: "fd", GitBranch: "fd-9.0.0", GitSHA: "abc123"}

	got := BuildResultMarkdown(job, p, "builder-01")
	assert.True(t, strings.HasPrefix(got, SuccessGlyph))
	assert.Contains(t, got, "Architecture: amd64")
	assert.Contains(t, got, "Successful package(s): fd")
	assert.Contains(t, got, "14m48s")
	assert.Contains(t, got, "https://logs.example.org/7.txt")

	// Output must itself be recognised as a job comment later.
	assert.True(t, IsStaleJobComment(got, "amd64"))
}

func TestBuildResultMarkdownError(t *testing.T) {
	job := &models.Job{
		ID:           9,
		Arch:         "arm64",
		Status:       models.JobStatusError,
		ErrorMessage: strp("container update failed"),
	}
	p := &models.Pipeline{ID: 2, Packages: "fd", GitBranch: "stable", GitSHA: "def456"}

	got := BuildResultMarkdown(job, p, "")
	assert.True(t, strings.HasPrefix(got, FailedGlyph))
	assert.Contains(t, got, "container update failed")
	assert.True(t, IsStaleJobComment(got, "arm64"))
}

func TestChecklistLabel(t *testing.T) {
	assert.Equal(t, "AMD64 `amd64`", ChecklistLabel("amd64"))
	assert.Equal(t, "RISC-V 64-bit `riscv64`", ChecklistLabel("riscv64"))
	assert.Equal(t, "Architecture-independent `noarch`", ChecklistLabel("noarch"))
}

func TestNewPipelineSummary(t *testing.T) {
	p := &models.Pipeline{ID: 4, Packages: "fd,ripgrep", Archs: "amd64,arm64", GitBranch: "stable", GitSHA: "abc"}
	got := NewPipelineSummary(p, nil, "https://forge.aura-linux.org/")
	assert.Contains(t, got, "Pipeline 4 created")
	assert.Contains(t, got, "fd, ripgrep")
	assert.Contains(t, got, "pipeline_id=4")
}
