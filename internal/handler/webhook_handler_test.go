package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-linux/forge/internal/models"
	"github.com/aura-linux/forge/internal/repository"
	"github.com/aura-linux/forge/internal/service"
)

const webhookSecret = "hush"

// mockWebhookProvider stubs the org-membership and comment calls.
type mockWebhookProvider struct {
	member   bool
	comments []string
}

func (m *mockWebhookProvider) IsOrgMember(ctx context.Context, login string) (bool, error) {
	return m.member, nil
}

func (m *mockWebhookProvider) CreateComment(ctx context.Context, number int, body string) error {
	m.comments = append(m.comments, body)
	return nil
}

// mockUsers stubs the user registry.
type mockUsers struct{}

func (m *mockUsers) UpsertGitHub(ctx context.Context, githubID int64, login, name, avatarURL string) (*models.User, error) {
	return &models.User{ID: 1}, nil
}

func (m *mockUsers) GetByID(ctx context.Context, id int) (*models.User, error) {
	return nil, nil
}

var _ repository.UserRepository = (*mockUsers)(nil)

type prCreateRecorder struct {
	mockPipelineService
	createdPR    int
	createdArchs []string
}

func (m *prCreateRecorder) CreateFromPullRequest(ctx context.Context, prNumber int, archs []string, opts service.CreateOptions) (*models.Pipeline, []*models.Job, error) {
	m.createdPR = prNumber
	m.createdArchs = archs
	return &models.Pipeline{ID: 77}, nil, nil
}

func issueCommentPayload(t *testing.T, body string) []byte {
	t.Helper()
	prURL := "https://example.com/pr/31"
	payload := map[string]any{
		"action": "created",
		"issue": map[string]any{
			"number":       31,
			"pull_request": map[string]any{"url": prURL},
		},
		"comment": map[string]any{
			"body": body,
			"user": map[string]any{"login": "dev", "id": 1234},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func deliver(t *testing.T, h *WebhookHandler, payload []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "issue_comment")
	if sign {
		mac := hmac.New(sha1.New, []byte(webhookSecret))
		mac.Write(payload)
		req.Header.Set("X-Hub-Signature", "sha1="+hex.EncodeToString(mac.Sum(nil)))
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func newTestWebhookHandler(pipelines PipelineService, provider *mockWebhookProvider) *WebhookHandler {
	return NewWebhookHandler(webhookSecret, "aura-forge-bot", pipelines, provider, &mockUsers{}, slog.New(slog.DiscardHandler))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newTestWebhookHandler(&mockPipelineService{}, &mockWebhookProvider{member: true})
	rec := deliver(t, h, issueCommentPayload(t, "@aura-forge-bot build"), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookBuildCommand(t *testing.T) {
	pipelines := &prCreateRecorder{}
	h := newTestWebhookHandler(pipelines, &mockWebhookProvider{member: true})

	rec := deliver(t, h, issueCommentPayload(t, "@aura-forge-bot build amd64,arm64"), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 31, pipelines.createdPR)
	assert.Equal(t, []string{"amd64", "arm64"}, pipelines.createdArchs)
}

func TestWebhookIgnoresNonMembers(t *testing.T) {
	pipelines := &prCreateRecorder{}
	h := newTestWebhookHandler(pipelines, &mockWebhookProvider{member: false})

	rec := deliver(t, h, issueCommentPayload(t, "@aura-forge-bot build"), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, pipelines.createdPR)
}

func TestWebhookIgnoresUnaddressedComments(t *testing.T) {
	pipelines := &prCreateRecorder{}
	h := newTestWebhookHandler(pipelines, &mockWebhookProvider{member: true})

	rec := deliver(t, h, issueCommentPayload(t, "looks good to me"), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, pipelines.createdPR)
}

func TestWebhookQueueReport(t *testing.T) {
	provider := &mockWebhookProvider{member: true}
	h := newTestWebhookHandler(&mockPipelineService{}, provider)

	rec := deliver(t, h, issueCommentPayload(t, "@aura-forge-bot dickens"), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, provider.comments, 1)
	assert.Contains(t, provider.comments[0], "Queue status")
}
