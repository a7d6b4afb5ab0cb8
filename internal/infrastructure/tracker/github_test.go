package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"TranscriptPipeline/internal/config"
	"TranscriptPipeline/internal/domain"
)

func TestCreateIssue(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := NewGitHubTracker(config.TrackerConfig{
		BaseURL: server.URL,
		Repo:    "acme/crm",
		Token:   "gh-token",
	})

	err := tr.CreateIssue(context.Background(), "Meeting processed: Acme Corp (a.md)", "body", []string{"meeting-transcript"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if gotPath != "/repos/acme/crm/issues" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer gh-token" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotBody.Title == "" || len(gotBody.Labels) != 1 {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestCreateIssueServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := NewGitHubTracker(config.TrackerConfig{BaseURL: server.URL, Repo: "acme/crm", Token: "gh-token"})
	err := tr.CreateIssue(context.Background(), "t", "b", nil)
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCreateIssueMisconfigured(t *testing.T) {
	t.Parallel()

	tr := NewGitHubTracker(config.TrackerConfig{})
	if err := tr.CreateIssue(context.Background(), "t", "b", nil); err == nil {
		t.Fatal("expected error without repo and token")
	}
}
