package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/audit"
	"github.com/rohankatakam/impactgraph/internal/chat"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/storage"
)

const manifest = `
repository: acme/repo-alpha
components:
  - id: comp:alpha
    keywords: [checkout]
    artifacts: [{path: src/alpha/}]
    docs: [{id: doc:alpha-guide, title: Alpha Guide, path: docs/alpha.md}]
  - id: comp:beta
    repo: acme/repo-beta
    artifacts: [{path: lib/}]
    docs: [{id: doc:beta, title: Beta Notes, path: docs/beta.md}]
dependencies:
  - {from_component: comp:beta, to_component: comp:alpha}
`

// fakeSource serves commits per repo, newest first
type fakeSource struct {
	mu       sync.Mutex
	commits  map[string][]models.CommitRef
	files    map[string][]string
	listErr  map[string]error
	fetchErr error
	fetched  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		commits: map[string][]models.CommitRef{},
		files:   map[string][]string{},
		listErr: map[string]error{},
	}
}

func (f *fakeSource) push(repo, sha string, files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[repo] = append([]models.CommitRef{{SHA: sha, Message: "commit " + sha}}, f.commits[repo]...)
	f.files[sha] = files
}

func (f *fakeSource) FetchPullRequest(ctx context.Context, repo string, number int) (*models.GitChange, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &models.GitChange{
		Identifier: fmt.Sprintf("%s#PR-%d", shortName(repo), number),
		Repo:       repo,
		PRNumber:   number,
		Files:      []string{"src/alpha/handler.go"},
	}, nil
}

func (f *fakeSource) FetchCommits(ctx context.Context, repo string, shas []string) (*models.GitChange, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	change := &models.GitChange{Identifier: shortName(repo) + "@" + shas[0], Repo: repo}
	for _, sha := range shas {
		f.fetched = append(f.fetched, sha)
		change.Commits = append(change.Commits, models.CommitRef{SHA: sha})
		change.Files = append(change.Files, f.files[sha]...)
	}
	return change, nil
}

func (f *fakeSource) ListRecentCommits(ctx context.Context, repo string, limit int, since time.Time) ([]models.CommitRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[repo]; err != nil {
		return nil, err
	}
	refs := f.commits[repo]
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return append([]models.CommitRef(nil), refs...), nil
}

type fakeThreads struct {
	text string
	err  error
}

func (f fakeThreads) Thread(ctx context.Context, channel, ts string) (*chat.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Message{Channel: channel, TS: ts, Text: f.text, Permalink: "https://acme.slack.com/thread/" + ts}, nil
}

func (f fakeThreads) PermalinkFor(channel, ts string) string {
	return "https://acme.slack.com/archives/" + channel + "/p" + strings.ReplaceAll(ts, ".", "")
}

func shortName(repo string) string {
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}

type env struct {
	svc     *Service
	source  *fakeSource
	issues  *storage.FileIssueStore
	cursors *storage.FileCursorStore
	logPath string
}

func newEnv(t *testing.T, threads ThreadReader) *env {
	t.Helper()
	m, err := depgraph.ParseManifest([]byte(manifest), depgraph.FormatYAML)
	require.NoError(t, err)
	g, _ := depgraph.NewBuilder().Build(context.Background(), []*depgraph.Manifest{m})

	dir := t.TempDir()
	e := &env{
		source:  newFakeSource(),
		issues:  storage.NewFileIssueStore(filepath.Join(dir, "doc_issues.json")),
		cursors: storage.NewFileCursorStore(filepath.Join(dir, "cursors.json")),
		logPath: filepath.Join(dir, "impact_events.jsonl"),
	}
	tracker := docissues.NewTracker(e.issues, docissues.Config{})
	p := pipeline.New(pipeline.Deps{
		Graph:   depgraph.NewStaticHolder(g),
		Tracker: tracker,
		Audit:   audit.NewWriter(audit.WithLogPath(e.logPath)),
	})
	e.svc = New(Config{CommitWindow: 10, ProcessedIDLimit: 50, RecentChanges: 2}, Deps{
		Pipeline:     p,
		Tracker:      tracker,
		Cursors:      e.cursors,
		Source:       e.source,
		Threads:      threads,
		EventLogPath: e.logPath,
	})
	return e
}

func TestProcessPullRequest(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.svc.ProcessPullRequest(context.Background(), "acme/repo-alpha", 7)
	require.NoError(t, err)
	assert.Equal(t, "repo-alpha#PR-7", res.Report.ChangeID)
	require.Len(t, res.Report.ChangedComponents, 1)
	assert.Equal(t, "comp:alpha", res.Report.ChangedComponents[0].ID)
	assert.NotEmpty(t, res.Issues)
}

func TestProcessPullRequestDegradesWhenFetchFails(t *testing.T) {
	e := newEnv(t, nil)
	e.source.fetchErr = errors.UpstreamError(fmt.Errorf("502"), "github down")

	res, err := e.svc.ProcessPullRequest(context.Background(), "acme/repo-alpha", 7)
	require.NoError(t, err)
	assert.Equal(t, "repo-alpha#PR-7", res.Report.ChangeID)
	assert.True(t, res.Report.IsEmpty())
	assert.Equal(t, models.ImpactLow, res.Report.Level)
}

func TestProcessPullRequestValidation(t *testing.T) {
	e := newEnv(t, nil)
	tests := []struct {
		name   string
		repo   string
		number int
	}{
		{"missing owner", "repo-alpha", 1},
		{"zero number", "acme/repo-alpha", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.ProcessPullRequest(context.Background(), tt.repo, tt.number)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestProcessCommitsRequiresSHA(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.svc.ProcessCommits(context.Background(), "acme/repo-alpha", []string{" ", ""})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestProcessFilesIdentifierIsStable(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	a := FilesIdentifier("acme/repo-alpha", []string{"src/alpha/b.go", "src/alpha/a.go"})
	b := FilesIdentifier("acme/repo-alpha", []string{"src/alpha/a.go", "src/alpha/b.go"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "repo-alpha#files-"))
	assert.NotEqual(t, a, FilesIdentifier("acme/repo-beta", []string{"src/alpha/a.go"}))

	first, err := e.svc.ProcessFiles(ctx, FilesRequest{Repo: "acme/repo-alpha", Files: []string{"src/alpha/a.go"}})
	require.NoError(t, err)
	second, err := e.svc.ProcessFiles(ctx, FilesRequest{Repo: "acme/repo-alpha", Files: []string{"src/alpha/a.go"}})
	require.NoError(t, err)
	require.NotEmpty(t, first.Issues)
	assert.Equal(t, first.Issues[0].ID, second.Issues[0].ID)

	all, err := e.issues.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(first.Issues))
}

func TestProcessDiff(t *testing.T) {
	e := newEnv(t, nil)
	patch := `diff --git a/lib/pay.go b/lib/pay.go
--- a/lib/pay.go
+++ b/lib/pay.go
@@ -1,2 +1,2 @@
 package lib
-var x = 1
+var x = 2
`
	res, err := e.svc.ProcessDiff(context.Background(), "acme/repo-beta", patch, "")
	require.NoError(t, err)
	require.Len(t, res.Report.ChangedComponents, 1)
	assert.Equal(t, "comp:beta", res.Report.ChangedComponents[0].ID)

	_, err = e.svc.ProcessDiff(context.Background(), "acme/repo-beta", "", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPollRepositoryIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	target := RepoTarget{Repo: "acme/repo-alpha"}

	e.source.push(target.Repo, "sha1", "src/alpha/a.go")
	e.source.push(target.Repo, "sha2", "src/alpha/b.go")

	res, err := e.svc.PollRepository(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []string{"sha1", "sha2"}, res.Processed, "oldest first")

	res, err = e.svc.PollRepository(ctx, target)
	require.NoError(t, err)
	assert.Empty(t, res.Processed)
	assert.Equal(t, 2, res.Skipped)

	e.source.push(target.Repo, "sha3", "src/alpha/c.go")
	res, err = e.svc.PollRepository(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []string{"sha3"}, res.Processed)

	cursor, err := e.cursors.Get(ctx, target.Repo)
	require.NoError(t, err)
	assert.Equal(t, "sha3", cursor.LastCursor)
	assert.Equal(t, []string{"sha1", "sha2", "sha3"}, cursor.ProcessedIDs)
	assert.NotNil(t, cursor.LastSuccessAt)
	assert.Empty(t, cursor.LastError)
}

func TestPollRepositoryRecordsFailure(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	target := RepoTarget{Repo: "acme/repo-alpha"}
	e.source.listErr[target.Repo] = errors.UpstreamError(fmt.Errorf("timeout"), "list commits")

	_, err := e.svc.PollRepository(ctx, target)
	require.Error(t, err)

	cursor, err := e.cursors.Get(ctx, target.Repo)
	require.NoError(t, err)
	assert.Contains(t, cursor.LastError, "list commits")
	assert.NotNil(t, cursor.LastErrorAt)
	assert.Nil(t, cursor.LastSuccessAt)

	h := e.svc.GetHealth(ctx, 5)
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, strings.Join(h.Warnings, "\n"), "acme/repo-alpha")
}

func TestPollAllIsolatesFailures(t *testing.T) {
	e := newEnv(t, nil)
	e.source.push("acme/repo-alpha", "a1", "src/alpha/a.go")
	e.source.push("acme/repo-beta", "b1", "lib/x.go")
	e.source.listErr["acme/repo-beta"] = fmt.Errorf("rate limited")

	results := e.svc.PollAll(context.Background(), []RepoTarget{{Repo: "acme/repo-alpha"}, {Repo: "acme/repo-beta"}})
	require.Len(t, results, 2)
	assert.Equal(t, []string{"a1"}, results[0].Processed)
	assert.Empty(t, results[0].Error)
	assert.Contains(t, results[1].Error, "rate limited")
}

func TestPollRepositoryNeedsCursorStore(t *testing.T) {
	e := newEnv(t, nil)
	e.svc.deps.Cursors = nil
	_, err := e.svc.PollRepository(context.Background(), RepoTarget{Repo: "acme/repo-alpha"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestProcessChatComplaintFetchesThreadAndRecentChanges(t *testing.T) {
	e := newEnv(t, fakeThreads{text: "checkout page shows stale docs"})
	e.source.push("acme/repo-alpha", "c1", "src/alpha/a.go")

	res, err := e.svc.ProcessChatComplaint(context.Background(), &models.ChatComplaint{
		ThreadID: "1700000000.000100",
		Channel:  "C1",
	})
	require.NoError(t, err)

	r := res.Report
	assert.Equal(t, models.SourceChat, r.SourceKind)
	assert.Equal(t, "checkout page shows stale docs", r.Summary)
	assert.Equal(t, "repo-alpha@c1", r.Metadata["seed_changes"])
	require.Len(t, r.ChatThreads, 1)
	assert.Equal(t, []string{"c1"}, e.source.fetched)
}

func TestProcessChatComplaintThreadFailureStillValidates(t *testing.T) {
	e := newEnv(t, fakeThreads{err: fmt.Errorf("channel_not_found")})
	_, err := e.svc.ProcessChatComplaint(context.Background(), &models.ChatComplaint{ThreadID: "1.2", Channel: "C1"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	res, err := e.svc.ProcessChatComplaint(context.Background(), &models.ChatComplaint{
		ThreadID: "1.2", Channel: "C1", Text: "beta is broken", ComponentIDs: []string{"comp:beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chat:1.2", res.Report.ChangeID)
}

func TestImpactOf(t *testing.T) {
	e := newEnv(t, nil)
	report, err := e.svc.ImpactOf(context.Background(), []string{"comp:alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SourceManual, report.SourceKind)
	require.Len(t, report.ImpactedComponents, 1)
	assert.Equal(t, "comp:beta", report.ImpactedComponents[0].ID)
	require.NotNil(t, report.Reasoning)

	_, err = e.svc.ImpactOf(context.Background(), nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	issues, err := e.issues.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issues, "queries persist nothing")
}

func TestGetHealth(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	e.source.push("acme/repo-alpha", "sha1", "src/alpha/a.go")
	_, err := e.svc.PollRepository(ctx, RepoTarget{Repo: "acme/repo-alpha"})
	require.NoError(t, err)

	h := e.svc.GetHealth(ctx, 5)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Graph.Components)
	assert.NotNil(t, h.GraphLoadedAt)
	assert.Positive(t, h.DocIssues.Open)
	require.Contains(t, h.Cursors, "acme/repo-alpha")
	require.Len(t, h.RecentEvents, 1)
	assert.Equal(t, []string{"repo-alpha@sha1"}, h.RecentEvents[0].GitEventIDs)
}

func TestDocIssueStateTransitions(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	res, err := e.svc.ProcessFiles(ctx, FilesRequest{Repo: "acme/repo-alpha", Files: []string{"src/alpha/a.go"}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Issues)

	updated, err := e.svc.SetDocIssueState(ctx, res.Issues[0].ID, models.StateResolved)
	require.NoError(t, err)
	assert.Equal(t, models.StateResolved, updated.State)

	open, err := e.svc.ListDocIssues(ctx, docissues.Filter{State: models.StateOpen})
	require.NoError(t, err)
	assert.Len(t, open, len(res.Issues)-1)
}
