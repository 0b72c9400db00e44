// Package models defines the persistent entities of the build coordinator.
package models

import "time"

// Job lifecycle states.
const (
	JobStatusCreated  = "created"
	JobStatusAssigned = "assigned"
	JobStatusRunning  = "running"
	JobStatusSuccess  = "success"
	JobStatusFailed   = "failed"
	JobStatusError    = "error"
)

// Pipeline trigger sources.
const (
	SourceManual   = "manual"
	SourceTelegram = "telegram"
	SourceGitHub   = "github"
)

// Pipeline is a build request fanned out into one job per architecture.
type Pipeline struct {
	ID           int       `json:"id"`
	Packages     string    `json:"packages"`
	Archs        string    `json:"archs"`
	GitBranch    string    `json:"git_branch"`
	GitSHA       string    `json:"git_sha"`
	CreationTime time.Time `json:"creation_time"`
	Source       string    `json:"source"`
	GitHubPR     *int64    `json:"github_pr,omitempty"`
	TelegramUser *int64    `json:"telegram_user,omitempty"`
	CreatorID    *int      `json:"creator_user_id,omitempty"`
}

// Job is a unit of build work for a single architecture.
type Job struct {
	ID           int       `json:"id"`
	PipelineID   int       `json:"pipeline_id"`
	Packages     string    `json:"packages"`
	Arch         string    `json:"arch"`
	CreationTime time.Time `json:"creation_time"`
	Status       string    `json:"status"`

	BuildSuccess       *bool   `json:"build_success,omitempty"`
	PushpkgSuccess     *bool   `json:"pushpkg_success,omitempty"`
	SuccessfulPackages *string `json:"successful_packages,omitempty"`
	FailedPackage      *string `json:"failed_package,omitempty"`
	SkippedPackages    *string `json:"skipped_packages,omitempty"`
	LogURL             *string `json:"log_url,omitempty"`

	FinishTime   *time.Time `json:"finish_time,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ElapsedSecs  *int64     `json:"elapsed_secs,omitempty"`

	AssignedWorkerID *int       `json:"assigned_worker_id,omitempty"`
	BuiltByWorkerID  *int       `json:"built_by_worker_id,omitempty"`
	AssignTime       *time.Time `json:"assign_time,omitempty"`

	GitHubCheckRunID *int64 `json:"github_check_run_id,omitempty"`

	RequireMinCore            *int     `json:"require_min_core,omitempty"`
	RequireMinTotalMem        *int64   `json:"require_min_total_mem,omitempty"`
	RequireMinTotalMemPerCore *float64 `json:"require_min_total_mem_per_core,omitempty"`
	RequireMinDisk            *int64   `json:"require_min_disk,omitempty"`
}

// Worker is a registered build machine, keyed by (hostname, arch).
type Worker struct {
	ID                   int       `json:"id"`
	Hostname             string    `json:"hostname"`
	Arch                 string    `json:"arch"`
	GitCommit            string    `json:"git_commit"`
	MemoryBytes          int64     `json:"memory_bytes"`
	LogicalCores         int       `json:"logical_cores"`
	DiskFreeSpaceBytes   int64     `json:"disk_free_space_bytes"`
	LastHeartbeatTime    time.Time `json:"last_heartbeat_time"`
	Performance          *int64    `json:"performance,omitempty"`
	InternetConnectivity *bool     `json:"internet_connectivity,omitempty"`
	Visible              bool      `json:"visible"`
}

// User represents an account known to the coordinator, linked to the
// hosting provider, the chat surface, or both.
type User struct {
	ID              int     `json:"id"`
	GitHubLogin     *string `json:"github_login,omitempty"`
	GitHubID        *int64  `json:"github_id,omitempty"`
	GitHubName      *string `json:"github_name,omitempty"`
	GitHubAvatarURL *string `json:"github_avatar_url,omitempty"`
	TelegramChatID  *int64  `json:"telegram_chat_id,omitempty"`
	Token           *string `json:"token,omitempty"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusSuccess, JobStatusFailed, JobStatusError:
		return true
	}
	return false
}
