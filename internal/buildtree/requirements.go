package buildtree

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aura-linux/forge/internal/arch"
)

// Requirement is the per-arch resource floor a package declares in its
// spec file. Nil fields mean no floor.
type Requirement struct {
	MinCore            *int
	MinTotalMem        *int64
	MinTotalMemPerCore *float64
	MinDisk            *int64
}

// EnvironmentRequirements scans the checked-out tree for the given
// packages and returns the merged resource floors per arch. A package
// declares floors in its spec file as space-separated key=value pairs
// under ENVREQ, overridable per arch with ENVREQ__<ARCH>. Floors from
// multiple packages merge by maximum. Packages without a spec entry
// contribute nothing.
func (t *Tree) EnvironmentRequirements(packages []string) (map[string]Requirement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wanted := make(map[string]bool, len(packages))
	for _, p := range packages {
		wanted[p] = true
	}

	res := make(map[string]Requirement)

	sections, err := os.ReadDir(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	for _, section := range sections {
		if !section.IsDir() || strings.HasPrefix(section.Name(), ".") || section.Name() == "groups" {
			continue
		}
		pkgs, err := os.ReadDir(filepath.Join(t.path, section.Name()))
		if err != nil {
			continue
		}
		for _, pkg := range pkgs {
			if !pkg.IsDir() || !wanted[pkg.Name()] {
				continue
			}
			spec, err := os.ReadFile(filepath.Join(t.path, section.Name(), pkg.Name(), "spec"))
			if err != nil {
				continue
			}
			values := specValues(string(spec))
			for _, a := range arch.All {
				envReq, ok := values["ENVREQ__"+strings.ToUpper(a)]
				if !ok {
					envReq, ok = values["ENVREQ"]
				}
				if !ok {
					continue
				}
				merged := res[a]
				mergeEnvReq(&merged, envReq)
				res[a] = merged
			}
		}
	}
	return res, nil
}

// specValues extracts top-level KEY=VALUE assignments from a spec
// file. Values may be single- or double-quoted; anything more dynamic
// than that is ignored.
func specValues(spec string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(spec, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}
	return values
}

// mergeEnvReq folds one ENVREQ value into r, keeping the maximum per
// floor. Memory floors are declared in GiB, disk in GB.
func mergeEnvReq(r *Requirement, envReq string) {
	for _, pair := range strings.Fields(envReq) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		switch key {
		case "core":
			maxInt(&r.MinCore, int(val))
		case "total_mem":
			maxInt64(&r.MinTotalMem, int64(val)*1024*1024*1024)
		case "total_mem_per_core":
			maxFloat(&r.MinTotalMemPerCore, val*1024*1024*1024)
		case "disk":
			maxInt64(&r.MinDisk, int64(val)*1000*1000*1000)
		}
	}
}

func maxInt(dst **int, v int) {
	if *dst == nil || v > **dst {
		*dst = &v
	}
}

func maxInt64(dst **int64, v int64) {
	if *dst == nil || v > **dst {
		*dst = &v
	}
}

func maxFloat(dst **float64, v float64) {
	if *dst == nil || v > **dst {
		*dst = &v
	}
}
