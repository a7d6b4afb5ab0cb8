package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TranscriptPipeline/internal/config"
	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// GitHubTracker publishes run summaries as issues via the GitHub REST
// API. Fire-and-forget from the pipeline's perspective.
type GitHubTracker struct {
	baseURL string
	repo    string
	token   string
	client  *http.Client
}

var _ ports.IssueTracker = (*GitHubTracker)(nil)

// NewGitHubTracker registers the target repository ("owner/name") and token.
func NewGitHubTracker(cfg config.TrackerConfig) *GitHubTracker {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubTracker{
		baseURL: baseURL,
		repo:    cfg.Repo,
		token:   cfg.Token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateIssue posts one issue to the configured repository.
func (t *GitHubTracker) CreateIssue(ctx context.Context, title, body string, labels []string) error {
	if t.repo == "" || t.token == "" {
		return fmt.Errorf("github tracker misconfigured")
	}

	payload, err := json.Marshal(map[string]any{
		"title":  title,
		"body":   body,
		"labels": labels,
	})
	if err != nil {
		return fmt.Errorf("marshal issue payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/issues", t.baseURL, t.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("create issue: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.Transient(fmt.Errorf("github returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	return nil
}
