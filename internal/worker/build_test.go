package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBuildOutputSuccess(t *testing.T) {
	output := `[INFO]: running stage build for fd
lots of compiler noise here
========================================
ACBS Build Summary
Package(s) built:
	fd (amd64 @ 9.0.0)
	ripgrep (amd64 @ 14.1.0)
========================================
`
	report := ParseBuildOutput(output)
	assert.Equal(t, []string{"fd", "ripgrep"}, report.Built)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Skipped)
}

func TestParseBuildOutputFailure(t *testing.T) {
	output := `[INFO]: running stage build for fd
error: linker command failed
========================================
ACBS Build Summary
Package(s) built:
	fd (amd64 @ 9.0.0)
Failed package: ripgrep (amd64 @ 14.1.0)
Package(s) not built due to previous build failure:
	bat (amd64 @ 0.24.0)
	eza (amd64 @ 0.18.2)
========================================
`
	report := ParseBuildOutput(output)
	assert.Equal(t, []string{"fd"}, report.Built)
	assert.Equal(t, "ripgrep", report.Failed)
	assert.Equal(t, []string{"bat", "eza"}, report.Skipped)
}

func TestParseBuildOutputInlineLists(t *testing.T) {
	output := `Package(s) built: fd
Failed package: ripgrep
`
	report := ParseBuildOutput(output)
	assert.Equal(t, []string{"fd"}, report.Built)
	assert.Equal(t, "ripgrep", report.Failed)
}

func TestParseBuildOutputNoSummary(t *testing.T) {
	report := ParseBuildOutput("the build crashed before any summary was printed\n")
	assert.Empty(t, report.Built)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Skipped)
}
