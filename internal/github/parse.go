package github

import "strings"

// PackagesMarker opens the line in a PR description that declares which
// packages the PR touches.
const PackagesMarker = "#buildit"

// PackagesFromBody extracts the package list from a PR description: the
// whitespace-split remainder of the first line starting with the
// marker. Returns nil when no marker line exists.
func PackagesFromBody(body string) []string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, PackagesMarker) {
			continue
		}
		rest := strings.TrimPrefix(line, PackagesMarker)
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return nil
		}
		return fields
	}
	return nil
}

// Command is a bot instruction parsed from an issue comment.
type Command struct {
	// Action is the second token of the comment, e.g. "build".
	Action string
	// Archs is the optional comma-separated third token, split.
	Archs []string
}

// ParseCommand interprets a comment body addressed to the bot. The
// first whitespace-split token must equal mention; returns nil
// otherwise.
func ParseCommand(body, mention string) *Command {
	fields := strings.Fields(body)
	if len(fields) < 2 || fields[0] != mention {
		return nil
	}
	cmd := &Command{Action: fields[1]}
	if len(fields) >= 3 {
		for _, a := range strings.Split(fields[2], ",") {
			if a = strings.TrimSpace(a); a != "" {
				cmd.Archs = append(cmd.Archs, a)
			}
		}
	}
	return cmd
}
