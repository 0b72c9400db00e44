package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	gh "github.com/google/go-github/v27/github"

	"github.com/aura-linux/forge/internal/github"
	"github.com/aura-linux/forge/internal/models"
	"github.com/aura-linux/forge/internal/pkg/response"
	"github.com/aura-linux/forge/internal/repository"
	"github.com/aura-linux/forge/internal/service"
)

// WebhookProvider is the provider slice the webhook needs beyond
// pipeline creation.
type WebhookProvider interface {
	IsOrgMember(ctx context.Context, login string) (bool, error)
	CreateComment(ctx context.Context, number int, body string) error
}

// WebhookHandler turns hosting-provider issue-comment events into
// pipelines.
type WebhookHandler struct {
	secret    []byte
	mention   string
	pipelines PipelineService
	provider  WebhookProvider
	users     repository.UserRepository
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler. botLogin is the bot
// account name without the leading @.
func NewWebhookHandler(secret, botLogin string, pipelines PipelineService, provider WebhookProvider, users repository.UserRepository, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    []byte(secret),
		mention:   "@" + botLogin,
		pipelines: pipelines,
		provider:  provider,
		users:     users,
		logger:    logger,
	}
}

// Routes returns the webhook route tree.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Receive)
	return r
}

// Receive handles a provider event delivery. Only created issue
// comments on pull requests are considered; everything else is
// acknowledged and dropped.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := gh.ValidatePayload(r, h.secret)
	if err != nil {
		response.Unauthorized(w)
		return
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		response.BadRequest(w, "unparseable event payload")
		return
	}

	comment, ok := event.(*gh.IssueCommentEvent)
	if !ok || comment.GetAction() != "created" || !comment.GetIssue().IsPullRequest() {
		w.WriteHeader(http.StatusOK)
		return
	}

	cmd := github.ParseCommand(comment.GetComment().GetBody(), h.mention)
	if cmd == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	login := comment.GetComment().GetUser().GetLogin()
	member, err := h.provider.IsOrgMember(r.Context(), login)
	if err != nil {
		h.logger.Warn("org membership check failed", "login", login, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !member {
		h.logger.Info("ignoring command from non-member", "login", login, "action", cmd.Action)
		w.WriteHeader(http.StatusOK)
		return
	}

	pr := comment.GetIssue().GetNumber()
	switch cmd.Action {
	case "build":
		h.build(r.Context(), pr, cmd.Archs, comment.GetComment().GetUser())
	case "dickens":
		h.queueReport(r.Context(), pr)
	default:
		h.logger.Info("unknown bot command", "action", cmd.Action, "login", login)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) build(ctx context.Context, pr int, archs []string, user *gh.User) {
	opts := service.CreateOptions{
		Source:        models.SourceGitHub,
		OpenCheckRuns: true,
	}
	if u, err := h.users.UpsertGitHub(ctx, user.GetID(), user.GetLogin(), user.GetName(), user.GetAvatarURL()); err == nil {
		opts.CreatorID = &u.ID
	} else {
		h.logger.Warn("failed to record requesting user", "login", user.GetLogin(), "error", err)
	}

	p, _, err := h.pipelines.CreateFromPullRequest(ctx, pr, archs, opts)
	if err != nil {
		h.logger.Warn("failed to create pipeline from webhook", "pr", pr, "error", err)
		msg := fmt.Sprintf("Failed to create pipeline: %v", err)
		if err := h.provider.CreateComment(ctx, pr, msg); err != nil {
			h.logger.Warn("failed to post failure comment", "pr", pr, "error", err)
		}
		return
	}
	h.logger.Info("pipeline created from webhook", "pr", pr, "pipeline_id", p.ID)
}

// queueReport posts the current per-arch queue depth on the PR.
func (h *WebhookHandler) queueReport(ctx context.Context, pr int) {
	status, err := h.pipelines.QueueStatus(ctx)
	if err != nil {
		h.logger.Warn("failed to compute queue status", "error", err)
		return
	}

	var b strings.Builder
	b.WriteString("Queue status\n\n")
	b.WriteString("| Architecture | Pending | Running | Workers (live/total) |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, qs := range status {
		fmt.Fprintf(&b, "| `%s` | %d | %d | %d/%d |\n",
			qs.Arch, qs.PendingJobs, qs.RunningJobs, qs.AvailableWorkers, qs.TotalWorkers)
	}
	if err := h.provider.CreateComment(ctx, pr, b.String()); err != nil {
		h.logger.Warn("failed to post queue report", "pr", pr, "error", err)
	}
}
