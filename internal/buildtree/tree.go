// Package buildtree manages the coordinator's local checkout of the
// package tree and resolves branch names to commit hashes.
package buildtree

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
)

var (
	packagesRe = regexp.MustCompile(`^[A-Za-z0-9,.+:/-]+$`)
	branchRe   = regexp.MustCompile(`^[A-Za-z0-9.+_-]+$`)
	shaRe      = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// ValidPackageList reports whether a comma-separated package list is
// safe to pass to git and the build tooling.
func ValidPackageList(s string) bool {
	return packagesRe.MatchString(s)
}

// ValidBranch reports whether a branch name is safe.
func ValidBranch(s string) bool {
	return branchRe.MatchString(s)
}

// ValidSHA reports whether a commit identifier is safe.
func ValidSHA(s string) bool {
	return shaRe.MatchString(s)
}

// Tree is a local clone of the package tree. All operations are
// serialised: the working tree is shared state and concurrent pipeline
// creations must not interleave checkouts.
type Tree struct {
	mu   sync.Mutex
	path string
}

// New returns a Tree rooted at path. The clone must already exist.
func New(path string) *Tree {
	return &Tree{path: path}
}

func (t *Tree) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// ResolveBranch updates the checkout to the remote head of branch and
// returns the resolved commit hash.
func (t *Tree) ResolveBranch(ctx context.Context, branch string) (string, error) {
	if !ValidBranch(branch) {
		return "", fmt.Errorf("invalid branch name: %q", branch)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.git(ctx, "fetch", "origin", branch); err != nil {
		return "", err
	}
	if _, err := t.git(ctx, "checkout", "-f", branch); err != nil {
		// The branch may not exist locally yet.
		if _, err := t.git(ctx, "checkout", "-b", branch, "origin/"+branch); err != nil {
			return "", err
		}
	}
	if _, err := t.git(ctx, "reset", "--hard", "origin/"+branch); err != nil {
		return "", err
	}

	sha, err := t.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if !ValidSHA(sha) {
		return "", fmt.Errorf("unexpected rev-parse output: %q", sha)
	}
	return sha, nil
}
