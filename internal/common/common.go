// Package common holds the wire types shared between the coordinator
// and the build agent, so the agent binary does not depend on the
// coordinator's storage or HTTP stack.
package common

// Resources is the resource profile a worker declares when polling.
type Resources struct {
	MemoryBytes        int64 `json:"memory_bytes"`
	LogicalCores       int   `json:"logical_cores"`
	DiskFreeSpaceBytes int64 `json:"disk_free_space_bytes"`
}

// Outcome carries the result fields of a completed build.
type Outcome struct {
	BuildSuccess       bool    `json:"build_success"`
	PushpkgSuccess     bool    `json:"pushpkg_success"`
	SuccessfulPackages *string `json:"successful_packages,omitempty"`
	FailedPackage      *string `json:"failed_package,omitempty"`
	SkippedPackages    *string `json:"skipped_packages,omitempty"`
	LogURL             *string `json:"log_url,omitempty"`
	ElapsedSecs        *int64  `json:"elapsed_secs,omitempty"`
}

// JobOffer is what a successful poll hands to the worker.
type JobOffer struct {
	JobID     int    `json:"job_id"`
	GitBranch string `json:"git_branch"`
	GitSHA    string `json:"git_sha"`
	Packages  string `json:"packages"`
}

// JobResult is the tagged outcome a worker reports. Kind discriminates
// between a completed build ("ok") and an infrastructure error
// ("error").
type JobResult struct {
	Kind    string   `json:"kind"`
	Ok      *Outcome `json:"ok,omitempty"`
	Message string   `json:"message,omitempty"`
}
