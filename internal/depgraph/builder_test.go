package depgraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/impactgraph/internal/graph"
)

const alphaManifest = `
repository: acme/repo-alpha
repo_aliases: [alpha-repo]
services:
  - id: service:alpha
    name: Alpha Service
    components: [comp:alpha]
components:
  - id: comp:alpha
    name: Alpha
    aliases: [alpha-core]
    artifacts:
      - id: artifact:alpha-service
        path: ./src/alpha/service.py
        depends_on: [src/shared/util.py]
    endpoints:
      - id: api:alpha-get
        method: get
        path: /v1/alpha
    docs:
      - id: doc:alpha-guide
        title: Alpha Guide
        path: docs/alpha.md
        api_ids: [api:alpha-get]
  - id: comp:shared
    artifacts:
      - path: src/shared/
  - name: nameless
  - id: comp:broken
    artifacts:
      - id: artifact:nopath
dependencies:
  - from_component: comp:alpha
    to_component: comp:beta
    reason: calls beta client
`

const betaManifest = `{
  "repository": "acme/repo-beta",
  "components": [
    {"id": "comp:beta", "artifacts": [{"path": "lib"}], "keywords": ["billing"]}
  ]
}`

func parse(t *testing.T, doc string, format Format) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(doc), format)
	require.NoError(t, err)
	return m
}

func buildScenario(t *testing.T, opts ...BuilderOption) (*Graph, BuildStats) {
	t.Helper()
	return NewBuilder(opts...).Build(context.Background(), []*Manifest{
		parse(t, alphaManifest, FormatYAML),
		parse(t, betaManifest, FormatJSON),
	})
}

func TestBuildSkipsInvalidEntries(t *testing.T) {
	g, stats := buildScenario(t)

	assert.Equal(t, 2, stats.Manifests)
	assert.Equal(t, 1, stats.SkippedComponents)
	assert.Equal(t, 1, stats.SkippedArtifacts)
	assert.ElementsMatch(t, []string{"comp:alpha", "comp:beta", "comp:broken", "comp:shared"}, g.ComponentIDs())
}

func TestBuildResolvesEdges(t *testing.T) {
	g, stats := buildScenario(t)

	assert.Equal(t, []string{"comp:alpha"}, g.Dependents("comp:beta"))
	assert.Equal(t, []string{"comp:alpha"}, g.Dependents("comp:shared"), "artifact edge projected to component edge")
	assert.Equal(t, 1, stats.ProjectedEdges)
	assert.Equal(t, "calls beta client", g.DependencyReason("comp:alpha", "comp:beta"))
	assert.Empty(t, g.Dependents("comp:alpha"))

	assert.Equal(t, "service:alpha", g.ServiceForComponent("comp:alpha"))
	docs := g.DocsForComponent("comp:alpha")
	require.Len(t, docs, 1)
	assert.Equal(t, "docs/alpha.md", docs[0].Path)
	assert.Equal(t, []string{"comp:alpha"}, docs[0].ComponentIDs)

	eps := g.EndpointsForComponent("comp:alpha")
	require.Len(t, eps, 1)
	assert.Equal(t, "GET", eps[0].Method)
}

func TestBuildSkipsDependencyOnUndeclaredComponent(t *testing.T) {
	m := parse(t, `
repository: acme/repo-alpha
components:
  - id: comp:a
    artifacts: [{path: a/}]
  - id: comp:b
    artifacts: [{path: b/}]
dependencies:
  - {from_component: comp:typo, to_component: comp:a}
  - {from_component: comp:a, to_component: comp:missing}
  - {from_component: comp:b, to_component: comp:a}
`, FormatYAML)

	g, stats := NewBuilder().Build(context.Background(), []*Manifest{m})

	assert.Equal(t, []string{"comp:b"}, g.Dependents("comp:a"))
	assert.Empty(t, g.Dependencies("comp:a"))
	assert.Empty(t, g.Dependents("comp:missing"))
	assert.Equal(t, 2, stats.SkippedEntries)
	assert.ElementsMatch(t, []string{"comp:a", "comp:b"}, g.ComponentIDs())
}

func TestComponentRepoUsesCanonicalRepository(t *testing.T) {
	store := graph.NewMemoryStore()
	extra := parse(t, `
components:
  - id: comp:alpha-extra
    repo: alpha-repo
    artifacts: [{path: extra/}]
`, FormatYAML)
	g, _ := NewBuilder(WithStore(store)).Build(context.Background(), []*Manifest{
		parse(t, alphaManifest, FormatYAML),
		extra,
	})

	c, ok := g.Component("comp:alpha-extra")
	require.True(t, ok)
	assert.Equal(t, "acme/repo-alpha", c.Repo)
	assert.Equal(t, 1, store.NodeCount(graph.LabelRepository))
	assert.True(t, store.HasEdge("acme/repo-alpha", graph.EdgeOwns, "comp:alpha-extra"))
}

func TestCanonical(t *testing.T) {
	g, _ := buildScenario(t)

	assert.Equal(t, "comp:alpha", g.Canonical("alpha"))
	assert.Equal(t, "comp:alpha", g.Canonical("Alpha-Core"))
	assert.Equal(t, "comp:alpha", g.Canonical("COMP:ALPHA"))
	assert.Equal(t, "comp:unknown", g.Canonical("comp:unknown"))
	assert.Equal(t, []string{"comp:alpha", "comp:beta"}, g.CanonicalAll([]string{"alpha", "comp:alpha", "beta", ""}))
}

func TestComponentsForFile(t *testing.T) {
	g, _ := buildScenario(t)

	tests := []struct {
		name string
		repo string
		file string
		want []string
	}{
		{"exact artifact", "acme/repo-alpha", "src/alpha/service.py", []string{"comp:alpha"}},
		{"short repo name", "repo-alpha", "./src/alpha/service.py", []string{"comp:alpha"}},
		{"repo alias", "alpha-repo", "src/shared/util.py", []string{"comp:shared"}},
		{"windows separators", "repo-alpha", "src\\shared\\x.py", []string{"comp:shared"}},
		{"segment boundary", "repo-alpha", "src/sharedx/util.py", nil},
		{"unknown repo", "repo-zzz", "src/alpha/service.py", nil},
		{"other owner, known short name", "fork/repo-beta", "lib/billing.go", []string{"comp:beta"}},
		{"any repo", "", "lib/billing.go", []string{"comp:beta"}},
		{"no match", "repo-beta", "README.md", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ComponentsForFile(tt.repo, tt.file))
		})
	}
}

func TestComponentsForFileLongestPrefix(t *testing.T) {
	m := parse(t, `
repository: mono
components:
  - id: comp:x
    artifacts: [{path: src/}]
  - id: comp:y
    artifacts: [{path: src/sub/}]
  - id: comp:z
    artifacts: [{path: src/sub}]
`, FormatYAML)
	g, _ := NewBuilder().Build(context.Background(), []*Manifest{m})

	assert.Equal(t, []string{"comp:y", "comp:z"}, g.ComponentsForFile("mono", "src/sub/a.py"), "ties return the union")
	assert.Equal(t, []string{"comp:x"}, g.ComponentsForFile("mono", "src/other.py"))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"./src/a.go": "src/a.go",
		"/src/":      "src",
		"src\\b\\c":  "src/b/c",
		"././x":      "x",
		"":           "",
		".":          "",
		"a//b/../c/": "a/c",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestInferReferences(t *testing.T) {
	g, _ := buildScenario(t)

	comps, apis := g.InferReferences("Users say the alpha-core endpoint /v1/alpha is slow, and billing is off")
	assert.Equal(t, []string{"comp:alpha", "comp:beta"}, comps)
	assert.Equal(t, []string{"api:alpha-get"}, apis)

	comps, apis = g.InferReferences("alphabet soup")
	assert.Empty(t, comps)
	assert.Empty(t, apis)
}

func TestMirror(t *testing.T) {
	store := graph.NewMemoryStore()
	g, stats := buildScenario(t, WithStore(store))

	assert.True(t, stats.Mirrored)
	assert.Equal(t, 4, store.NodeCount(graph.LabelComponent))
	assert.True(t, store.HasEdge("comp:alpha", graph.EdgeDependsOn, "comp:beta"))
	assert.True(t, store.HasEdge("doc:alpha-guide", graph.EdgeDescribes, "comp:alpha"))
	assert.True(t, store.HasEdge("service:alpha", graph.EdgeAggregates, "comp:alpha"))

	edges := store.EdgeCount()
	require.NoError(t, Mirror(context.Background(), store, g))
	assert.Equal(t, edges, store.EdgeCount())
}

func TestMirrorFailureIsNonFatal(t *testing.T) {
	store := graph.NewMemoryStore()
	store.Err = assert.AnError
	g, stats := buildScenario(t, WithStore(store))

	assert.False(t, stats.Mirrored)
	assert.NotEmpty(t, stats.MirrorError)
	assert.NotEmpty(t, g.ComponentIDs())
}

func TestNilGraphIsSafe(t *testing.T) {
	var g *Graph
	assert.False(t, g.Valid())
	assert.Nil(t, g.ComponentsForFile("r", "a"))
	assert.Nil(t, g.Dependents("x"))
	assert.Equal(t, "x", g.Canonical("x"))
}

func TestHolderReloadSwapsPointer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(alphaManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	h := NewHolder(NewBuilder(), []string{dir})
	assert.Empty(t, h.Current().ComponentIDs())

	_, err := h.Reload(context.Background())
	require.NoError(t, err)
	first := h.Current()
	assert.Contains(t, first.ComponentIDs(), "comp:alpha")
	assert.False(t, h.LoadedAt().IsZero())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.json"), []byte(betaManifest), 0o644))
	_, err = h.Reload(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, h.Current())
	assert.NotContains(t, first.ComponentIDs(), "comp:beta", "old snapshot untouched")
	assert.Contains(t, h.Current().ComponentIDs(), "comp:beta")
}

func TestHolderReloadKeepsGraphWhenNothingLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("components: [::"), 0o644))

	g, _ := buildScenario(t)
	h := NewStaticHolder(g)
	h.paths = []string{path}

	_, err := h.Reload(context.Background())
	assert.Error(t, err)
	assert.Same(t, g, h.Current())
}

func TestHolderReloadKeepsGraphWhenRebuildIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(alphaManifest), 0o644))

	h := NewHolder(NewBuilder(), []string{dir})
	_, err := h.Reload(context.Background())
	require.NoError(t, err)
	before := h.Current()
	require.NotEmpty(t, before.ComponentIDs())

	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	_, err = h.Reload(context.Background())
	assert.Error(t, err)
	assert.Same(t, before, h.Current())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.yaml"), []byte(alphaManifest), 0o644))

	h := NewHolder(NewBuilder(), []string{dir})
	w, err := NewWatcher(h, 20*time.Millisecond)
	require.NoError(t, err)

	reloaded := make(chan struct{}, 1)
	w.OnReload(func(BuildStats, error) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.json"), []byte(betaManifest), 0o644))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	assert.Contains(t, h.Current().ComponentIDs(), "comp:beta")
}
