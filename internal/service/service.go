// Package service implements the coordinator's domain logic: pipeline
// fan-out, job scheduling, result ingestion and propagation, worker
// liveness and recycling.
package service

import (
	"context"

	"github.com/aura-linux/forge/internal/github"
)

// Liveness and recycling thresholds, in seconds.
const (
	// LiveSecs is how recently a worker must have heartbeated to count
	// as live.
	LiveSecs = 300
	// RecycleSecs is the heartbeat age past which a worker's assigned
	// jobs go back to the queue.
	RecycleSecs = 300
)

// Provider is the hosting-provider surface used by the pipeline factory
// and the result propagator. Implemented by github.Client; stubbed in
// tests.
type Provider interface {
	PullRequest(ctx context.Context, number int) (*github.PRInfo, error)
	CreateComment(ctx context.Context, number int, body string) error
	DeleteStaleJobComments(ctx context.Context, number int, arch string, isStale func(body, arch string) bool) error
	GetPullRequestBody(ctx context.Context, number int) (string, error)
	SetPullRequestBody(ctx context.Context, number int, body string) error
	CreateCheckRun(ctx context.Context, name, headSHA string) (int64, error)
	CompleteCheckRun(ctx context.Context, id int64, name string, success bool, title, summary string) error
}
