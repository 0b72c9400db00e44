package buildtree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, root, section, pkg, spec string) {
	t.Helper()
	dir := filepath.Join(root, section, pkg)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec"), []byte(spec), 0o644))
}

func TestEnvironmentRequirements(t *testing.T) {
	root := t.TempDir()
	writeSpec(t, root, "extra-devel", "llvm", `VER=17.0.6
ENVREQ="core=8 total_mem=32 disk=50"
ENVREQ__RISCV64="core=4 total_mem=16"
`)
	writeSpec(t, root, "extra-utils", "fd", "VER=9.0.0\n")

	reqs, err := New(root).EnvironmentRequirements([]string{"llvm", "fd"})
	require.NoError(t, err)

	amd64 := reqs["amd64"]
	require.NotNil(t, amd64.MinCore)
	assert.Equal(t, 8, *amd64.MinCore)
	require.NotNil(t, amd64.MinTotalMem)
	assert.Equal(t, int64(32)*1024*1024*1024, *amd64.MinTotalMem)
	require.NotNil(t, amd64.MinDisk)
	assert.Equal(t, int64(50)*1000*1000*1000, *amd64.MinDisk)
	assert.Nil(t, amd64.MinTotalMemPerCore)

	// Per-arch override replaces the generic entry entirely.
	riscv := reqs["riscv64"]
	require.NotNil(t, riscv.MinCore)
	assert.Equal(t, 4, *riscv.MinCore)
	assert.Nil(t, riscv.MinDisk)
}

func TestEnvironmentRequirementsMergesByMaximum(t *testing.T) {
	root := t.TempDir()
	writeSpec(t, root, "extra-devel", "llvm", "ENVREQ=\"core=8 total_mem=32\"\n")
	writeSpec(t, root, "extra-devel", "rustc", "ENVREQ=\"core=4 total_mem=64 total_mem_per_core=2\"\n")

	reqs, err := New(root).EnvironmentRequirements([]string{"llvm", "rustc"})
	require.NoError(t, err)

	amd64 := reqs["amd64"]
	assert.Equal(t, 8, *amd64.MinCore)
	assert.Equal(t, int64(64)*1024*1024*1024, *amd64.MinTotalMem)
	assert.Equal(t, float64(2)*1024*1024*1024, *amd64.MinTotalMemPerCore)
}

func TestEnvironmentRequirementsIgnoresOtherPackages(t *testing.T) {
	root := t.TempDir()
	writeSpec(t, root, "extra-devel", "llvm", "ENVREQ=\"core=8\"\n")

	reqs, err := New(root).EnvironmentRequirements([]string{"fd"})
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestSpecValuesQuoting(t *testing.T) {
	values := specValues(`VER=1.2
ENVREQ='core=2 disk=10'
# comment
BROKEN LINE=1
`)
	assert.Equal(t, "1.2", values["VER"])
	assert.Equal(t, "core=2 disk=10", values["ENVREQ"])
	_, ok := values["BROKEN LINE"]
	assert.False(t, ok)
}
