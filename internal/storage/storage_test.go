package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/models"
)

func sampleIssue(id, linked string, created time.Time) models.DocIssue {
	return models.DocIssue{
		ID:           id,
		DocID:        "doc:alpha-guide",
		DocTitle:     "Alpha Guide",
		DocPath:      "docs/alpha.md",
		DocURL:       "https://docs.example.com/alpha",
		RepoID:       "repo-alpha",
		ComponentIDs: []string{"comp:alpha"},
		ImpactLevel:  models.ImpactHigh,
		Severity:     models.SeverityMedium,
		Source:       models.SourceGit,
		LinkedChange: linked,
		ChangeContext: models.ChangeContext{
			Identifier: linked,
			Repo:       "repo-alpha",
			Commits:    []string{"abc123"},
			SourceKind: models.SourceGit,
		},
		Summary:    "first",
		Confidence: 0.85,
		Links:      []models.Link{{Type: "doc", Label: "Alpha Guide", URL: "https://docs.example.com/alpha"}},
		CreatedAt:  created,
		DetectedAt: created,
		UpdatedAt:  created,
		State:      models.StateOpen,
	}
}

func issueStores(t *testing.T) map[string]IssueStore {
	t.Helper()
	sqlStore, err := NewSQLIssueStore(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]IssueStore{
		"file": NewFileIssueStore(filepath.Join(t.TempDir(), "issues", "doc_issues.json")),
		"sql":  sqlStore,
	}
}

func TestIssueStoreUpsertAndList(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range issueStores(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			first := sampleIssue("i-2", "repo-alpha#PR-42", t0.Add(time.Second))
			second := sampleIssue("i-1", "repo-alpha#PR-43", t0)
			require.NoError(t, store.Upsert(ctx, []models.DocIssue{first, second}))

			updated := first
			updated.Summary = "second"
			updated.UpdatedAt = t0.Add(time.Hour)
			require.NoError(t, store.Upsert(ctx, []models.DocIssue{updated}))

			all, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "i-1", all[0].ID, "ordered by created_at")
			assert.Equal(t, "second", all[1].Summary)
			assert.True(t, all[1].CreatedAt.Equal(first.CreatedAt))
			assert.True(t, all[1].UpdatedAt.Equal(t0.Add(time.Hour)))
			assert.Equal(t, []string{"abc123"}, all[1].ChangeContext.Commits)
			assert.Len(t, all[1].Links, 1)

			got, err := store.Get(ctx, "i-1")
			require.NoError(t, err)
			assert.Equal(t, "repo-alpha#PR-43", got.LinkedChange)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileIssueStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileIssueStore(filepath.Join(dir, "doc_issues.json"))
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Upsert(context.Background(), []models.DocIssue{sampleIssue("i", "c", now)}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc_issues.json", entries[0].Name())
}

func TestFileIssueStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc_issues.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileIssueStore(path).List(context.Background())
	assert.Error(t, err)
}

func TestSQLiteFileStoreUsesWAL(t *testing.T) {
	store, err := NewSQLIssueStore(DriverSQLite, filepath.Join(t.TempDir(), "db", "issues.db"))
	require.NoError(t, err)
	defer store.Close()

	var mode string
	require.NoError(t, store.db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestNewSQLIssueStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLIssueStore("mysql", "x")
	assert.Error(t, err)
}

func TestCursorStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	bolt, err := NewBoltCursorStore(filepath.Join(dir, "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	stores := map[string]CursorStore{
		"file": NewFileCursorStore(filepath.Join(dir, "cursors.json")),
		"bolt": bolt,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			state, err := store.Get(ctx, "repo-alpha")
			require.NoError(t, err)
			assert.Empty(t, state.ProcessedIDs)

			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			state.LastCursor = "abc123"
			state.LastSuccessAt = &now
			state.MarkProcessed("abc123", 10)
			require.NoError(t, store.Put(ctx, "repo-alpha", state))
			require.NoError(t, store.Put(ctx, "repo-beta", models.CursorState{LastError: "timeout"}))

			got, err := store.Get(ctx, "repo-alpha")
			require.NoError(t, err)
			assert.Equal(t, "abc123", got.LastCursor)
			assert.True(t, got.Seen("abc123"))
			require.NotNil(t, got.LastSuccessAt)
			assert.True(t, got.LastSuccessAt.Equal(now))

			all, err := store.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			assert.Equal(t, "timeout", all["repo-beta"].LastError)
		})
	}
}
