// Package arch defines the set of supported build architectures and the
// rules for expanding architecture lists in build requests.
package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Mainline is the pseudo-architecture that expands to every
// port the distribution builds for.
const Mainline = "mainline"

// Noarch denotes architecture-independent packages. It is built on
// amd64 hosts and cannot be combined with other architectures.
const Noarch = "noarch"

// All lists every supported port in sorted order.
var All = []string{
	"amd64",
	"arm64",
	"loongarch64",
	"loongson3",
	"mips64r6el",
	"ppc64el",
	"riscv64",
}

// displayNames maps each architecture to its human-readable label.
var displayNames = map[string]string{
	"amd64":       "AMD64",
	"arm64":       "AArch64",
	"loongarch64": "LoongArch 64-bit",
	"loongson3":   "Loongson 3",
	"mips64r6el":  "MIPS R6 64-bit (Little Endian)",
	"ppc64el":     "PowerPC 64-bit (Little Endian)",
	"riscv64":     "RISC-V 64-bit",
	Noarch:        "Architecture-independent",
}

// IsSupported reports whether name is a buildable architecture.
func IsSupported(name string) bool {
	if name == Noarch {
		return true
	}
	for _, a := range All {
		if a == name {
			return true
		}
	}
	return false
}

// DisplayName returns the human-readable label for an architecture,
// falling back to the raw name for unknown values.
func DisplayName(name string) string {
	if d, ok := displayNames[name]; ok {
		return d
	}
	return name
}

// Expand normalizes a requested architecture list: mainline is replaced
// by every supported port, duplicates are removed and the result is
// sorted. noarch is only valid on its own.
func Expand(archs []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range archs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == Mainline {
			for _, m := range All {
				if _, ok := seen[m]; !ok {
					seen[m] = struct{}{}
					out = append(out, m)
				}
			}
			continue
		}
		if !IsSupported(a) {
			return nil, fmt.Errorf("unsupported architecture: %s", a)
		}
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no architectures requested")
	}
	if _, hasNoarch := seen[Noarch]; hasNoarch && len(out) > 1 {
		return nil, fmt.Errorf("noarch cannot be mixed with other architectures")
	}
	sort.Strings(out)
	return out, nil
}

// Parse splits a comma-separated architecture list and expands it.
func Parse(s string) ([]string, error) {
	return Expand(strings.Split(s, ","))
}

// Fold maps aggregation-only architecture aliases onto the port that
// actually hosts their builds. noarch and the 32-bit optenv subtree are
// built on amd64 machines.
func Fold(name string) string {
	switch name {
	case Noarch, "optenv32":
		return "amd64"
	}
	return name
}
