package worker

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/aura-linux/forge/internal/common"
)

// Identity is the stable identity the agent presents to the coordinator.
type Identity struct {
	Hostname  string
	Arch      string
	GitCommit string
}

// Probe samples the machine's current resource profile. The free-disk
// figure is taken from the filesystem backing the build root.
func Probe(buildRoot string) (common.Resources, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return common.Resources{}, fmt.Errorf("sysinfo failed: %w", err)
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(buildRoot, &fs); err != nil {
		return common.Resources{}, fmt.Errorf("statfs %s failed: %w", buildRoot, err)
	}

	return common.Resources{
		MemoryBytes:        int64(si.Totalram) * int64(si.Unit),
		LogicalCores:       runtime.NumCPU(),
		DiskFreeSpaceBytes: int64(fs.Bavail) * int64(fs.Bsize),
	}, nil
}

// Hostname returns the short hostname, overridable for containers that
// share a kernel hostname.
func Hostname(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve hostname: %w", err)
	}
	return name, nil
}
