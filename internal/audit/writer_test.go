package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/graph"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/models"
)

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func sampleReport(changeID string) *models.ImpactReport {
	return &models.ImpactReport{
		ChangeID:     changeID,
		Title:        "Refactor alpha",
		Level:        models.ImpactHigh,
		SourceKind:   models.SourceGit,
		EvidenceMode: models.EvidenceDeterministic,
		ChangedComponents: []models.ImpactedEntity{
			models.NewImpactedEntity("comp:alpha", models.KindComponent, 0.95, "", models.EntityMetadata{}),
		},
		ImpactedComponents: []models.ImpactedEntity{
			models.NewImpactedEntity("comp:gamma", models.KindComponent, 0.9, "", models.EntityMetadata{}),
		},
		ImpactedServices: []models.ImpactedEntity{
			models.NewImpactedEntity("service:alpha", models.KindService, 0.9, "", models.EntityMetadata{}),
		},
		ImpactedDocs: []models.ImpactedEntity{
			models.NewImpactedEntity("doc:alpha-guide", models.KindDoc, 0.85, "", models.EntityMetadata{}),
		},
		ChatThreads: []models.ImpactedEntity{
			models.NewImpactedEntity("T1", models.KindChatThread, 0.7, "", models.EntityMetadata{}),
		},
		Change: &models.GitChange{Identifier: changeID, Repo: "repo-alpha"},
	}
}

func TestBuildEvent(t *testing.T) {
	issues := []models.DocIssue{{ID: "issue-1"}}
	ev := BuildEvent(sampleReport("repo-alpha#PR-42"), depgraph.Empty(), issues, fixedClock())

	assert.Equal(t, "repo-alpha#PR-42", ev.EventID)
	assert.Equal(t, []string{"comp:alpha", "comp:gamma"}, ev.ComponentIDs)
	assert.Equal(t, []string{"service:alpha"}, ev.ServiceIDs)
	assert.Equal(t, []string{"doc:alpha-guide"}, ev.DocIDs)
	assert.Equal(t, []string{"issue-1"}, ev.DocIssueIDs)
	assert.Equal(t, []string{"T1"}, ev.SlackThreadIDs)
	assert.Equal(t, []string{"repo-alpha#PR-42"}, ev.GitEventIDs)
	assert.Equal(t, models.SourceGit, ev.Properties.SourceKind)
	assert.Equal(t, fixedClock(), ev.Properties.RecordedAt)
}

func TestWriteBothSinks(t *testing.T) {
	store := graph.NewMemoryStore()
	logPath := filepath.Join(t.TempDir(), "events", "impact_events.jsonl")
	w := NewWriter(WithGraphStore(store), WithLogPath(logPath), WithClock(fixedClock))

	res := w.Write(context.Background(), sampleReport("repo-alpha#PR-42"), depgraph.Empty(), nil)

	assert.True(t, res.GraphWritten)
	assert.True(t, res.LogWritten)
	assert.False(t, res.Lost())

	node, ok := store.Node("repo-alpha#PR-42")
	require.True(t, ok)
	assert.Equal(t, graph.LabelEvent, node.Label)
	assert.True(t, store.HasEdge("repo-alpha#PR-42", graph.EdgeAffects, "comp:gamma"))
	assert.True(t, store.HasEdge("repo-alpha#PR-42", graph.EdgeTriggered, "git:repo-alpha#PR-42"))

	events, err := ReadRecent(logPath, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.Event.ComponentIDs, events[0].ComponentIDs)
}

func TestWriteSinksFailIndependently(t *testing.T) {
	store := graph.NewMemoryStore()
	store.Err = fmt.Errorf("connection refused")
	logPath := filepath.Join(t.TempDir(), "impact_events.jsonl")

	res := NewWriter(WithGraphStore(store), WithLogPath(logPath)).
		Write(context.Background(), sampleReport("c1"), nil, nil)
	assert.Error(t, res.GraphErr)
	assert.True(t, res.LogWritten, "file sink unaffected by graph failure")
	assert.False(t, res.Lost())

	// a directory where the log file should be makes the append fail
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.MkdirAll(blocked, 0o755))
	res = NewWriter(WithGraphStore(graph.NewMemoryStore()), WithLogPath(blocked)).
		Write(context.Background(), sampleReport("c2"), nil, nil)
	assert.True(t, res.GraphWritten)
	assert.Error(t, res.LogErr)
}

func TestWriteBothFailedIsCounted(t *testing.T) {
	before := metrics.CounterValue(metrics.AuditEventsLost)

	store := graph.NewMemoryStore()
	store.Err = fmt.Errorf("down")
	blocked := t.TempDir()
	res := NewWriter(WithGraphStore(store), WithLogPath(blocked)).
		Write(context.Background(), sampleReport("c1"), nil, nil)

	assert.True(t, res.Lost())
	assert.Equal(t, before+1, metrics.CounterValue(metrics.AuditEventsLost))
}

func TestWriteWithoutSinks(t *testing.T) {
	res := NewWriter().Write(context.Background(), sampleReport("c1"), nil, nil)
	assert.False(t, res.Lost())
	assert.Equal(t, "c1", res.Event.EventID)
}

func TestConcurrentAppendsKeepLinesIntact(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "impact_events.jsonl")
	w := NewWriter(WithLogPath(logPath))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Write(context.Background(), sampleReport(fmt.Sprintf("c%d", i)), nil, nil)
		}(i)
	}
	wg.Wait()

	events, err := ReadRecent(logPath, 100)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestReadRecent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "impact_events.jsonl")
	w := NewWriter(WithLogPath(logPath))
	for i := 0; i < 5; i++ {
		w.Write(context.Background(), sampleReport(fmt.Sprintf("c%d", i)), nil, nil)
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	f.Close()
	w.Write(context.Background(), sampleReport("c5"), nil, nil)

	events, err := ReadRecent(logPath, 3)
	require.NoError(t, err)
	require.Len(t, events, 2, "the malformed line occupies one slot")
	assert.Equal(t, "c5", events[0].EventID)
	assert.Equal(t, "c4", events[1].EventID)

	missing, err := ReadRecent(filepath.Join(t.TempDir(), "none.jsonl"), 3)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
