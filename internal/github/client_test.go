package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/errors"
)

// newTestClient serves the GitHub Enterprise API layout (/api/v3/...)
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Token: "t", BaseURL: srv.URL + "/", RequestsPerSecond: 1000})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestFetchPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/repo-alpha/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"number":     42,
			"title":      "Refactor alpha",
			"body":       "Moves the alpha handler",
			"html_url":   "https://github.com/acme/repo-alpha/pull/42",
			"state":      "open",
			"user":       map[string]any{"login": "dev"},
			"base":       map[string]any{"ref": "main"},
			"head":       map[string]any{"ref": "feature"},
			"updated_at": "2026-03-01T12:00:00Z",
		})
	})
	mux.HandleFunc("/api/v3/repos/acme/repo-alpha/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"filename": "src/alpha/service.py"},
			{"filename": "src/alpha/new.py", "previous_filename": "src/alpha/old.py"},
		})
	})
	mux.HandleFunc("/api/v3/repos/acme/repo-alpha/pulls/42/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"sha": "abc1234def", "html_url": "https://github.com/acme/repo-alpha/commit/abc1234def", "commit": map[string]any{"message": "refactor"}},
		})
	})

	change, err := newTestClient(t, mux).FetchPullRequest(context.Background(), "acme/repo-alpha", 42)
	require.NoError(t, err)

	assert.Equal(t, "repo-alpha#PR-42", change.Identifier)
	assert.Equal(t, "acme/repo-alpha", change.Repo)
	assert.Equal(t, 42, change.PRNumber)
	assert.Equal(t, "Refactor alpha", change.Title)
	assert.Equal(t, []string{"src/alpha/service.py", "src/alpha/new.py", "src/alpha/old.py"}, change.Files)
	require.Len(t, change.Commits, 1)
	assert.Equal(t, "abc1234def", change.Commits[0].SHA)
	assert.Equal(t, "main", change.Metadata["base_branch"])
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), change.Timestamp.UTC())
}

func TestFetchPullRequestUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/repo-alpha/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	_, err := newTestClient(t, mux).FetchPullRequest(context.Background(), "acme/repo-alpha", 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstream))
}

func TestFetchCommitsMergesFiles(t *testing.T) {
	mux := http.NewServeMux()
	for i, sha := range []string{"aaaaaaa111", "bbbbbbb222"} {
		mux.HandleFunc("/api/v3/repos/acme/repo-alpha/commits/"+sha, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"sha":      sha,
				"html_url": "https://github.com/acme/repo-alpha/commit/" + sha,
				"commit": map[string]any{
					"message": fmt.Sprintf("change %d\n\ndetails", i),
					"author":  map[string]any{"date": fmt.Sprintf("2026-03-0%dT00:00:00Z", i+1)},
				},
				"files": []map[string]any{{"filename": "src/shared.py"}, {"filename": fmt.Sprintf("src/f%d.py", i)}},
			})
		})
	}

	change, err := newTestClient(t, mux).FetchCommits(context.Background(), "acme/repo-alpha", []string{"aaaaaaa111", "bbbbbbb222"})
	require.NoError(t, err)

	assert.Equal(t, "repo-alpha@aaaaaaa..bbbbbbb", change.Identifier)
	assert.Equal(t, "2 commits starting with change 0", change.Title)
	assert.ElementsMatch(t, []string{"src/shared.py", "src/f0.py", "src/f1.py"}, change.Files)
	assert.Len(t, change.Commits, 2)
}

func TestFetchCommitsRequiresSHAs(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	_, err = c.FetchCommits(context.Background(), "acme/repo-alpha", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestListRecentCommitsHonorsLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/repo-alpha/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"sha": "c3"}, {"sha": "c2"}, {"sha": "c1"}})
	})

	refs, err := newTestClient(t, mux).ListRecentCommits(context.Background(), "acme/repo-alpha", 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "c3", refs[0].SHA)
}

func TestCommentOnPR(t *testing.T) {
	var body map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/repo-alpha/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": 1})
	})

	require.NoError(t, newTestClient(t, mux).CommentOnPR(context.Background(), "acme/repo-alpha", 42, "### Documentation impact"))
	assert.Equal(t, "### Documentation impact", body["body"])
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := SplitRepo("acme/repo-alpha")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "repo-alpha", name)

	for _, bad := range []string{"", "repo-alpha", "a/b/c", "/x"} {
		_, _, err := SplitRepo(bad)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInput), bad)
	}
}
