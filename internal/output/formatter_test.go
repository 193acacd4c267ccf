package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/audit"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/service"
)

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		Report: &models.ImpactReport{
			ChangeID:   "repo-alpha#12",
			Title:      "Rework checkout totals",
			Level:      models.ImpactHigh,
			SourceKind: models.SourceGit,
			Change:     &models.GitChange{Identifier: "repo-alpha#12", Files: []string{"src/alpha/total.go"}},
			ChangedComponents: []models.ImpactedEntity{
				{ID: "comp:alpha", Kind: models.KindComponent, Confidence: 1, Level: models.ImpactHigh,
					Metadata: models.EntityMetadata{Relation: models.RelationChanged}},
			},
			ImpactedComponents: []models.ImpactedEntity{
				{ID: "comp:beta", Kind: models.KindComponent, Confidence: 0.8, Level: models.ImpactHigh,
					Metadata: models.EntityMetadata{Relation: models.RelationDirect, Via: "comp:alpha", Depth: 1}},
			},
			ImpactedDocs: []models.ImpactedEntity{
				{ID: "doc:beta", Kind: models.KindDoc, Confidence: 0.8, Level: models.ImpactHigh},
			},
			Recommendations: []string{"Review doc:beta"},
			Evidence:        []string{"comp:alpha changed", "comp:beta depends on comp:alpha"},
			EvidenceSummary: "Checkout totals changed",
			EvidenceMode:    models.EvidenceDeterministic,
			Reasoning: &models.ReasoningContext{
				ImpactChain:  "comp:alpha -> comp:beta",
				TouchedRepos: []string{"acme/repo-alpha", "acme/repo-beta"},
				DocHints:     map[string]string{"doc:beta": "docs/beta.md"},
			},
			GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Issues: []models.DocIssue{
			{ID: "is-1", DocPath: "docs/beta.md", Severity: models.SeverityHigh, State: models.StateOpen},
		},
		Audit:    audit.WriteResult{Event: models.ImpactEvent{EventID: "ev-1"}, LogWritten: true},
		Notified: true,
	}
}

func TestQuietFormatter(t *testing.T) {
	tests := []struct {
		name     string
		result   *pipeline.Result
		expected string
	}{
		{
			name: "nothing downstream",
			result: &pipeline.Result{Report: &models.ImpactReport{
				Level: models.ImpactLow,
			}},
			expected: "✅ LOW impact: nothing downstream\n",
		},
		{
			name:     "high impact",
			result:   sampleResult(),
			expected: "⚠️  HIGH impact: 1 downstream, 1 docs, 1 doc issues\n",
		},
		{
			name: "low impact with docs",
			result: &pipeline.Result{Report: &models.ImpactReport{
				Level:        models.ImpactLow,
				ImpactedDocs: []models.ImpactedEntity{{ID: "doc:a"}},
			}},
			expected: "ℹ️  LOW impact: 0 downstream, 1 docs, 0 doc issues\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, (&QuietFormatter{}).Format(tt.result, &buf))
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestStandardFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&StandardFormatter{}).Format(sampleResult(), &buf))
	out := buf.String()

	assert.Contains(t, out, "Change: repo-alpha#12")
	assert.Contains(t, out, "Impact level: 🔴 HIGH")
	assert.Contains(t, out, "Impacted components (1):")
	assert.Contains(t, out, "comp:beta  0.80  direct via comp:alpha")
	assert.Contains(t, out, "is-1 docs/beta.md (open)")
	assert.Contains(t, out, "- Review doc:beta")
	assert.Contains(t, out, "Notification sent")
	assert.NotContains(t, out, "Chat threads", "empty sections are omitted")
	assert.NotContains(t, out, "Reasoning")
}

func TestExplainFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&ExplainFormatter{}).Format(sampleResult(), &buf))
	out := buf.String()

	assert.Contains(t, out, "Generated: 2026-03-01T12:00:00Z")
	assert.Contains(t, out, "Chain: comp:alpha -> comp:beta")
	assert.Contains(t, out, "Repositories: acme/repo-alpha, acme/repo-beta")
	assert.Contains(t, out, "doc:beta: docs/beta.md")
	assert.Contains(t, out, "• comp:beta depends on comp:alpha")
	assert.Contains(t, out, "src/alpha/total.go")
	assert.NotContains(t, out, "not recorded")

	lost := sampleResult()
	lost.Audit = audit.WriteResult{LogErr: errors.New("disk full")}
	buf.Reset()
	require.NoError(t, (&ExplainFormatter{}).Format(lost, &buf))
	assert.Contains(t, buf.String(), "impact event was not recorded in any sink")
}

func TestAIFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&AIFormatter{}).Format(sampleResult(), &buf))

	var got AIJSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "1.0", got.SchemaVersion)
	assert.Equal(t, "repo-alpha#12", got.Report.ChangeID)
	assert.Equal(t, "ev-1", got.EventID)
	assert.True(t, got.EventRecorded)
	require.Len(t, got.DocIssues, 1)

	buf.Reset()
	require.NoError(t, (&AIFormatter{}).Format(&pipeline.Result{Report: &models.ImpactReport{}}, &buf))
	assert.Contains(t, buf.String(), `"doc_issues": []`)
}

func TestResolveVerbosity(t *testing.T) {
	t.Setenv("GIT_AUTHOR_DATE", "")
	t.Setenv("IMPACT_AI_MODE", "")
	assert.Equal(t, VerbosityAIMode, ResolveVerbosity(true, true, true))
	assert.Equal(t, VerbosityExplain, ResolveVerbosity(true, true, false))
	assert.Equal(t, VerbosityQuiet, ResolveVerbosity(true, false, false))

	t.Setenv("GIT_AUTHOR_DATE", "1700000000 +0000")
	assert.Equal(t, VerbosityQuiet, ResolveVerbosity(false, false, false))
	t.Setenv("GIT_AUTHOR_DATE", "")
	t.Setenv("IMPACT_AI_MODE", "1")
	assert.Equal(t, VerbosityAIMode, ResolveVerbosity(false, false, false))
}

func TestFormatIssuesAndHealth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatIssues(nil, &buf))
	assert.Equal(t, "No doc issues\n", buf.String())

	buf.Reset()
	require.NoError(t, FormatIssues([]models.DocIssue{{
		ID: "is-1", DocID: "doc:beta", DocTitle: "Beta guide", DocPath: "docs/beta.md",
		RepoID: "acme/repo-beta", LinkedChange: "repo-alpha#12",
		Severity: models.SeverityMedium, State: models.StateOpen,
	}}, &buf))
	assert.Contains(t, buf.String(), "is-1  [medium/open]  acme/repo-beta")
	assert.Contains(t, buf.String(), "doc: Beta guide (docs/beta.md)")

	success := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	buf.Reset()
	require.NoError(t, FormatHealth(service.Health{
		Status:    "degraded",
		DocIssues: docissues.Stats{Total: 3, Open: 2, TopRepos: []docissues.RepoCount{{Repo: "acme/repo-beta", OpenIssues: 2}}},
		Cursors: map[string]models.CursorState{
			"acme/repo-alpha": {LastCursor: "sha2", LastSuccessAt: &success, LastError: "rate limited"},
		},
		Warnings: []string{"acme/repo-alpha: rate limited"},
	}, &buf))
	out := buf.String()
	assert.Contains(t, out, "Status: degraded")
	assert.Contains(t, out, "Doc issues: 3 total, 2 open")
	assert.Contains(t, out, "acme/repo-beta: 2 open")
	assert.Contains(t, out, "acme/repo-alpha: cursor sha2, last success 2026-03-01 09:00:00")
	assert.Contains(t, out, "last error: rate limited")
}
