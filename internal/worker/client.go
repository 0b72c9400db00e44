// Package worker implements the build agent: it heartbeats, polls the
// coordinator for work, runs builds and reports outcomes.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-linux/forge/internal/common"
)

// Client is the worker's HTTP client against the coordinator.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a coordinator client.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope mirrors the coordinator's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response from %s (status %d): %s", path, resp.StatusCode, raw)
	}
	if env.Error != nil {
		return fmt.Errorf("%s rejected request: %s: %s", path, env.Error.Code, env.Error.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

type heartbeatPayload struct {
	Hostname             string `json:"hostname"`
	Arch                 string `json:"arch"`
	GitCommit            string `json:"git_commit"`
	MemoryBytes          int64  `json:"memory_bytes"`
	LogicalCores         int    `json:"logical_cores"`
	DiskFreeSpaceBytes   int64  `json:"disk_free_space_bytes"`
	Performance          *int64 `json:"performance,omitempty"`
	InternetConnectivity *bool  `json:"internet_connectivity,omitempty"`
	Secret               string `json:"worker_secret"`
}

// Heartbeat reports the agent's resource profile.
func (c *Client) Heartbeat(ctx context.Context, identity Identity, res common.Resources, perf *int64, net *bool) error {
	return c.post(ctx, "/api/worker/heartbeat", heartbeatPayload{
		Hostname:             identity.Hostname,
		Arch:                 identity.Arch,
		GitCommit:            identity.GitCommit,
		MemoryBytes:          res.MemoryBytes,
		LogicalCores:         res.LogicalCores,
		DiskFreeSpaceBytes:   res.DiskFreeSpaceBytes,
		Performance:          perf,
		InternetConnectivity: net,
		Secret:               c.secret,
	}, nil)
}

type pollPayload struct {
	Hostname           string `json:"hostname"`
	Arch               string `json:"arch"`
	MemoryBytes        int64  `json:"memory_bytes"`
	LogicalCores       int    `json:"logical_cores"`
	DiskFreeSpaceBytes int64  `json:"disk_free_space_bytes"`
	Secret             string `json:"worker_secret"`
}

// Poll asks for work. Returns nil when the queue has nothing eligible.
func (c *Client) Poll(ctx context.Context, identity Identity, res common.Resources) (*common.JobOffer, error) {
	var offer *common.JobOffer
	err := c.post(ctx, "/api/worker/poll", pollPayload{
		Hostname:           identity.Hostname,
		Arch:               identity.Arch,
		MemoryBytes:        res.MemoryBytes,
		LogicalCores:       res.LogicalCores,
		DiskFreeSpaceBytes: res.DiskFreeSpaceBytes,
		Secret:             c.secret,
	}, &offer)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

type jobUpdatePayload struct {
	Hostname string            `json:"hostname"`
	Arch     string            `json:"arch"`
	JobID    int               `json:"job_id"`
	Result   common.JobResult `json:"result"`
	Secret   string            `json:"worker_secret"`
}

// Report posts the outcome of a finished job.
func (c *Client) Report(ctx context.Context, identity Identity, jobID int, result common.JobResult) error {
	return c.post(ctx, "/api/worker/job_update", jobUpdatePayload{
		Hostname: identity.Hostname,
		Arch:     identity.Arch,
		JobID:    jobID,
		Result:   result,
		Secret:   c.secret,
	}, nil)
}
