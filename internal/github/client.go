// Package github wraps the hosting-provider API used by the coordinator:
// pull-request metadata, comments, the PR-body checklist and check runs.
package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"

	"github.com/aura-linux/forge/internal/config"
)

// PRInfo is the subset of pull-request metadata the pipeline factory
// needs.
type PRInfo struct {
	Number   int
	Branch   string
	SHA      string
	Title    string
	Body     string
	FromFork bool
	Merged   bool
}

// Client talks to the hosting provider on behalf of the bot account.
type Client struct {
	cfg    config.GitHubConfig
	client *gh.Client

	// Check runs require an app installation token, minted lazily and
	// cached until shortly before expiry.
	instMu     sync.Mutex
	instClient *gh.Client
	instExpiry time.Time
}

// New creates a Client authenticated with the bot's personal access
// token.
func New(cfg config.GitHubConfig) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	return &Client{
		cfg:    cfg,
		client: gh.NewClient(oauth2.NewClient(context.Background(), ts)),
	}
}

// PullRequest fetches PR metadata. The returned branch and SHA follow
// the merge state: a merged PR builds the merge commit on the stable
// branch, an open PR builds its head.
func (c *Client) PullRequest(ctx context.Context, number int) (*PRInfo, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, c.cfg.Owner, c.cfg.Repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %d: %w", number, err)
	}

	info := &PRInfo{
		Number: number,
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		Merged: pr.GetMerged(),
	}
	if pr.GetMerged() {
		info.Branch = "stable"
		info.SHA = pr.GetMergeCommitSHA()
	} else {
		info.Branch = pr.GetHead().GetRef()
		info.SHA = pr.GetHead().GetSHA()
	}
	if pr.GetHead().GetRepo().GetFullName() != pr.GetBase().GetRepo().GetFullName() {
		info.FromFork = true
	}
	return info, nil
}

// GetPullRequestBody returns the current PR description.
func (c *Client) GetPullRequestBody(ctx context.Context, number int) (string, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, c.cfg.Owner, c.cfg.Repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to get pull request %d: %w", number, err)
	}
	return pr.GetBody(), nil
}

// SetPullRequestBody replaces the PR description.
func (c *Client) SetPullRequestBody(ctx context.Context, number int, body string) error {
	_, _, err := c.client.PullRequests.Edit(ctx, c.cfg.Owner, c.cfg.Repo, number, &gh.PullRequest{Body: &body})
	if err != nil {
		return fmt.Errorf("failed to edit pull request %d: %w", number, err)
	}
	return nil
}

// CreateComment posts a comment on the PR conversation.
func (c *Client) CreateComment(ctx context.Context, number int, body string) error {
	_, _, err := c.client.Issues.CreateComment(ctx, c.cfg.Owner, c.cfg.Repo, number, &gh.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("failed to create comment on pull request %d: %w", number, err)
	}
	return nil
}

// DeleteStaleJobComments removes the bot's previous per-arch result
// comments on a PR, so that re-runs do not accumulate duplicates. A
// comment is stale when it was authored by the bot, starts with a
// result glyph, and carries an "Architecture:" line naming arch.
func (c *Client) DeleteStaleJobComments(ctx context.Context, number int, arch string, isStale func(body string, arch string) bool) error {
	opt := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, c.cfg.Owner, c.cfg.Repo, number, opt)
		if err != nil {
			return fmt.Errorf("failed to list comments on pull request %d: %w", number, err)
		}
		for _, comment := range comments {
			if comment.GetUser().GetLogin() != c.cfg.BotLogin {
				continue
			}
			if !isStale(comment.GetBody(), arch) {
				continue
			}
			if _, err := c.client.Issues.DeleteComment(ctx, c.cfg.Owner, c.cfg.Repo, comment.GetID()); err != nil {
				return fmt.Errorf("failed to delete comment %d: %w", comment.GetID(), err)
			}
		}
		if resp.NextPage == 0 {
			return nil
		}
		opt.Page = resp.NextPage
	}
}

// IsOrgMember reports whether login is a public member of the owning
// organisation.
func (c *Client) IsOrgMember(ctx context.Context, login string) (bool, error) {
	member, _, err := c.client.Organizations.IsPublicMember(ctx, c.cfg.Organization, login)
	if err != nil {
		return false, fmt.Errorf("failed to check org membership of %s: %w", login, err)
	}
	return member, nil
}

// CreateCheckRun opens a check run for an arch job against headSHA and
// returns its id. Requires app credentials; returns (0, nil) when none
// are configured.
func (c *Client) CreateCheckRun(ctx context.Context, name, headSHA string) (int64, error) {
	inst, err := c.installationClient(ctx)
	if err != nil {
		return 0, err
	}
	if inst == nil {
		return 0, nil
	}

	status := "queued"
	run, _, err := inst.Checks.CreateCheckRun(ctx, c.cfg.Owner, c.cfg.Repo, gh.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: headSHA,
		Status:  &status,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create check run: %w", err)
	}
	return run.GetID(), nil
}

// CompleteCheckRun transitions a check run to completed with the given
// conclusion and Markdown summary.
func (c *Client) CompleteCheckRun(ctx context.Context, id int64, name string, success bool, title, summary string) error {
	inst, err := c.installationClient(ctx)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}

	status := "completed"
	conclusion := "failure"
	if success {
		conclusion = "success"
	}
	_, _, err = inst.Checks.UpdateCheckRun(ctx, c.cfg.Owner, c.cfg.Repo, id, gh.UpdateCheckRunOptions{
		Name:       name,
		Status:     &status,
		Conclusion: &conclusion,
		Output: &gh.CheckRunOutput{
			Title:   &title,
			Summary: &summary,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update check run %d: %w", id, err)
	}
	return nil
}

// installationClient returns a client authenticated as the app
// installation, minting a fresh token when the cached one is close to
// expiry. Returns (nil, nil) when app credentials are not configured.
func (c *Client) installationClient(ctx context.Context) (*gh.Client, error) {
	if c.cfg.AppID == 0 || c.cfg.AppKeyPath == "" {
		return nil, nil
	}

	c.instMu.Lock()
	defer c.instMu.Unlock()

	if c.instClient != nil && time.Until(c.instExpiry) > 5*time.Minute {
		return c.instClient, nil
	}

	appJWT, err := c.signAppJWT()
	if err != nil {
		return nil, err
	}
	appClient := gh.NewClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: appJWT})))

	inst, _, err := appClient.Apps.FindRepositoryInstallation(ctx, c.cfg.Owner, c.cfg.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to find app installation: %w", err)
	}

	token, _, err := appClient.Apps.CreateInstallationToken(ctx, inst.GetID())
	if err != nil {
		return nil, fmt.Errorf("failed to create installation token: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.GetToken()})
	c.instClient = gh.NewClient(oauth2.NewClient(ctx, ts))
	c.instExpiry = token.GetExpiresAt()
	return c.instClient, nil
}

// signAppJWT produces the short-lived RS256 token the provider requires
// for app-level endpoints.
func (c *Client) signAppJWT() (string, error) {
	pem, err := os.ReadFile(c.cfg.AppKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read app private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return "", fmt.Errorf("failed to parse app private key: %w", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", c.cfg.AppID),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app token: %w", err)
	}
	return signed, nil
}

// IsTransient classifies a provider error for retry purposes. Server
// errors, rate limiting and network failures are worth retrying;
// anything else is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode >= 500
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	// Wrapped transport errors without a typed cause.
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "timeout")
}
