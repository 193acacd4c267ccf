package evidence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/models"
)

type fakeGenerator struct {
	out    string
	err    error
	panics bool
	block  bool
	prompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.prompt = userPrompt
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.out, f.err
}

func (f *fakeGenerator) Name() string { return "fake" }

func sampleReport() *models.ImpactReport {
	return &models.ImpactReport{
		ChangeID: "repo-alpha#PR-42",
		Title:    "Refactor alpha",
		Level:    models.ImpactHigh,
		ChangedComponents: []models.ImpactedEntity{
			models.NewImpactedEntity("comp:alpha", models.KindComponent, 0.95, "1 file(s) mapped", models.EntityMetadata{}),
		},
		ChangedAPIs: []models.ImpactedEntity{
			models.NewImpactedEntity("api:alpha", models.KindAPI, 0.9, "", models.EntityMetadata{ComponentIDs: []string{"comp:alpha"}}),
		},
		ImpactedComponents: []models.ImpactedEntity{
			models.NewImpactedEntity("comp:gamma", models.KindComponent, 0.9, "", models.EntityMetadata{Via: "comp:alpha", Relation: "direct", Depth: 1}),
		},
		ImpactedDocs: []models.ImpactedEntity{
			models.NewImpactedEntity("doc:alpha-guide", models.KindDoc, 0.85, "", models.EntityMetadata{Title: "Alpha Guide", ComponentIDs: []string{"comp:alpha"}}),
		},
		ImpactedServices: []models.ImpactedEntity{
			models.NewImpactedEntity("service:alpha", models.KindService, 0.9, "", models.EntityMetadata{ComponentIDs: []string{"comp:alpha"}}),
		},
		ChatThreads: []models.ImpactedEntity{
			models.NewImpactedEntity("T1", models.KindChatThread, 0.7, "complaint references affected comp:alpha", models.EntityMetadata{Channel: "#support"}),
		},
	}
}

func TestBulletsOrderAndCap(t *testing.T) {
	f := New(Config{MaxBullets: 4}, nil)
	bullets := f.Bullets(sampleReport())

	require.Len(t, bullets, 4)
	assert.True(t, strings.HasPrefix(bullets[0], "Component comp:alpha changed"))
	assert.True(t, strings.HasPrefix(bullets[1], "API api:alpha"))
	assert.True(t, strings.HasPrefix(bullets[2], "Component comp:gamma depends on comp:alpha"))
	assert.True(t, strings.HasPrefix(bullets[3], "Doc Alpha Guide"))

	all := New(Config{MaxBullets: 20}, nil).Bullets(sampleReport())
	assert.Len(t, all, 6)
	assert.Contains(t, all[5], "#support")
}

func TestSummarize(t *testing.T) {
	r := &models.ImpactReport{ChangeID: "c1"}
	assert.Contains(t, Summarize(r, nil), "c1")
	assert.Equal(t, "A.", Summarize(r, []string{"A."}))
	assert.Equal(t, "A. B.", Summarize(r, []string{"A.", "B."}))
	assert.Equal(t, "A. B. Additional context: C.", Summarize(r, []string{"A.", "B.", "C.", "D."}))
}

func TestAnnotateDeterministic(t *testing.T) {
	r := New(DefaultConfig(), nil).Annotate(context.Background(), sampleReport())

	assert.Equal(t, models.EvidenceDeterministic, r.EvidenceMode)
	assert.Len(t, r.Evidence, 6)
	assert.Contains(t, r.EvidenceSummary, "Additional context:")
}

func TestAnnotateGenerated(t *testing.T) {
	gen := &fakeGenerator{out: "  Alpha changed; review the guide.  "}
	r := New(DefaultConfig(), gen).Annotate(context.Background(), sampleReport())

	assert.Equal(t, models.EvidenceGenerated, r.EvidenceMode)
	assert.Equal(t, "Alpha changed; review the guide.", r.EvidenceSummary)
	assert.Contains(t, gen.prompt, "- Component comp:alpha changed")
}

func TestAnnotateFallsBack(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"error", &fakeGenerator{err: errors.New("503")}},
		{"empty", &fakeGenerator{out: "   "}},
		{"panic", &fakeGenerator{panics: true}},
		{"timeout", &fakeGenerator{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(Config{Timeout: 20 * time.Millisecond}, tt.gen)
			r := f.Annotate(context.Background(), sampleReport())
			assert.Equal(t, models.EvidenceDeterministic, r.EvidenceMode)
			assert.Equal(t, Summarize(r, r.Evidence), r.EvidenceSummary)
		})
	}
}

func TestPromptIsBounded(t *testing.T) {
	gen := &fakeGenerator{out: "ok"}
	New(Config{MaxBullets: 20, PromptMaxChars: 120}, gen).Annotate(context.Background(), sampleReport())
	assert.LessOrEqual(t, len(gen.prompt), 120)
}

func TestAnnotateEmptyReportSkipsGenerator(t *testing.T) {
	gen := &fakeGenerator{out: "should not be used"}
	r := New(DefaultConfig(), gen).Annotate(context.Background(), &models.ImpactReport{ChangeID: "c1"})
	assert.Equal(t, models.EvidenceDeterministic, r.EvidenceMode)
	assert.Empty(t, gen.prompt)
}
