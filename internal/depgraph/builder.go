package depgraph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/graph"
)

// BuildStats reports what a build accepted and skipped
type BuildStats struct {
	Manifests          int    `json:"manifests"`
	Components         int    `json:"components"`
	SkippedComponents  int    `json:"skipped_components"`
	SkippedArtifacts   int    `json:"skipped_artifacts"`
	SkippedEntries     int    `json:"skipped_entries"`
	UnresolvedArtifact int    `json:"unresolved_artifact_refs"`
	ProjectedEdges     int    `json:"projected_edges"`
	Mirrored           bool   `json:"mirrored"`
	MirrorError        string `json:"mirror_error,omitempty"`
}

// Builder turns manifests into a Graph
type Builder struct {
	store         graph.Store
	logger        *slog.Logger
	mirrorTimeout time.Duration
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithStore mirrors every built graph into store
func WithStore(store graph.Store) BuilderOption {
	return func(b *Builder) { b.store = store }
}

// WithLogger sets the builder logger
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// WithMirrorTimeout bounds the mirroring step
func WithMirrorTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.mirrorTimeout = d }
}

// NewBuilder creates a builder
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		logger:        slog.Default().With("component", "depgraph"),
		mirrorTimeout: graph.GetConfigForOperation(graph.OpMirrorWrite).Timeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// buildState carries references that can only be resolved after every
// manifest has been read
type buildState struct {
	g            *Graph
	stats        BuildStats
	deps         []DependencyEntry
	serviceLinks [][2]string // service id, component ref
}

// Build parses every manifest into a new Graph. Invalid entries are logged
// and skipped; the build itself never fails. When a store is configured the
// result is mirrored best-effort.
func (b *Builder) Build(ctx context.Context, manifests []*Manifest) (*Graph, BuildStats) {
	st := &buildState{g: newGraph()}
	for _, m := range manifests {
		if m == nil {
			continue
		}
		st.stats.Manifests++
		b.addManifest(st, m)
	}
	b.finalize(st)
	st.stats.Components = len(st.g.components)

	if b.store != nil {
		mirrorCtx, cancel := context.WithTimeout(ctx, b.mirrorTimeout)
		err := Mirror(mirrorCtx, b.store, st.g)
		cancel()
		if err != nil {
			b.logger.Warn("graph mirroring failed", "error", err)
			st.stats.MirrorError = err.Error()
		} else {
			st.stats.Mirrored = true
		}
	}

	b.logger.Info("dependency graph built",
		"manifests", st.stats.Manifests,
		"components", st.stats.Components,
		"skipped_components", st.stats.SkippedComponents,
		"dependencies", st.g.Stats().Dependencies)
	return st.g, st.stats
}

func (b *Builder) addManifest(st *buildState, m *Manifest) {
	g := st.g
	if m.Repository != "" {
		g.registerRepo(m.Repository, m.RepoAliases)
	}

	for _, s := range m.Services {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			b.logger.Warn("skipping service without id", "manifest", m.Source)
			st.stats.SkippedEntries++
			continue
		}
		svc := g.ensureService(id)
		if s.Name != "" {
			svc.Name = s.Name
		}
		for _, ref := range s.Components {
			st.serviceLinks = append(st.serviceLinks, [2]string{id, ref})
		}
	}

	for i, entry := range m.Components {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			b.logger.Warn("skipping component without id", "manifest", m.Source, "index", i)
			st.stats.SkippedComponents++
			continue
		}
		b.addComponent(st, m, id, entry)
	}

	st.deps = append(st.deps, m.Dependencies...)
}

func (b *Builder) addComponent(st *buildState, m *Manifest, id string, entry ComponentEntry) {
	g := st.g
	repo := firstNonEmpty(entry.Repo, m.Repository)

	comp, exists := g.components[id]
	if !exists {
		comp = &Component{ID: id, Metadata: map[string]string{}}
		g.components[id] = comp
	}
	if comp.Repo == "" {
		comp.Repo = repo
	}
	if entry.Name != "" {
		comp.Name = entry.Name
	}
	for k, v := range entry.Metadata {
		comp.Metadata[k] = v
	}
	comp.Aliases = appendUnique(comp.Aliases, entry.Aliases...)
	comp.Keywords = appendUnique(comp.Keywords, entry.Keywords...)

	if comp.Repo != "" {
		r := g.registerRepo(comp.Repo, nil)
		comp.Repo = r.ID
		r.Components = appendUnique(r.Components, id)
	}

	g.addAlias(id, id)
	if _, suffix, ok := strings.Cut(id, ":"); ok {
		g.addAlias(suffix, id)
	}
	g.addAlias(comp.Name, id)
	for _, a := range entry.Aliases {
		g.addAlias(a, id)
	}

	if entry.Service != "" {
		st.serviceLinks = append(st.serviceLinks, [2]string{strings.TrimSpace(entry.Service), id})
	}

	for _, a := range entry.Artifacts {
		b.addArtifact(st, comp, a)
	}

	for _, e := range entry.Endpoints {
		epID := strings.TrimSpace(e.ID)
		if epID == "" {
			b.logger.Warn("skipping endpoint without id", "component", id)
			st.stats.SkippedEntries++
			continue
		}
		g.endpoints[epID] = &Endpoint{
			ID:          epID,
			ComponentID: id,
			Method:      strings.ToUpper(e.Method),
			Path:        e.Path,
			Description: e.Description,
		}
		g.addAlias(epID, epID)
		comp.Endpoints = appendUnique(comp.Endpoints, epID)
	}

	for _, d := range entry.Docs {
		docID := strings.TrimSpace(d.ID)
		if docID == "" {
			b.logger.Warn("skipping doc without id", "component", id)
			st.stats.SkippedEntries++
			continue
		}
		doc, ok := g.docs[docID]
		if !ok {
			doc = &Doc{ID: docID}
			g.docs[docID] = doc
		}
		doc.Title = firstNonEmpty(d.Title, doc.Title)
		doc.URL = firstNonEmpty(d.URL, doc.URL)
		doc.Path = firstNonEmpty(NormalizePath(d.Path), doc.Path)
		doc.Repo = firstNonEmpty(d.Repo, doc.Repo)
		doc.ComponentIDs = appendUnique(doc.ComponentIDs, id)
		doc.APIIDs = appendUnique(doc.APIIDs, d.APIIDs...)
		g.addAlias(docID, docID)
		comp.Docs = appendUnique(comp.Docs, docID)
	}
}

func (b *Builder) addArtifact(st *buildState, comp *Component, a ArtifactEntry) {
	g := st.g
	if strings.TrimSpace(a.Path) == "" {
		b.logger.Warn("skipping artifact without path", "component", comp.ID, "artifact", a.ID)
		st.stats.SkippedArtifacts++
		return
	}
	repo := firstNonEmpty(a.Repo, comp.Repo)
	if repo == "" {
		b.logger.Warn("skipping artifact without repo", "component", comp.ID, "path", a.Path)
		st.stats.SkippedArtifacts++
		return
	}
	norm := NormalizePath(a.Path)
	id := strings.TrimSpace(a.ID)
	if id == "" {
		id = fmt.Sprintf("artifact:%s/%s", repo, norm)
	}

	r := g.registerRepo(repo, nil)
	g.artifacts[id] = &Artifact{
		ID:          id,
		Repo:        r.ID,
		Path:        norm,
		ComponentID: comp.ID,
		DependsOn:   slices.Clone(a.DependsOn),
	}
	comp.Artifacts = appendUnique(comp.Artifacts, id)

	byPath, ok := g.paths[r.ID]
	if !ok {
		byPath = make(map[string][]string)
		g.paths[r.ID] = byPath
	}
	byPath[norm] = appendUnique(byPath[norm], comp.ID)
}

// finalize resolves deferred references and builds the reverse index
func (b *Builder) finalize(st *buildState) {
	g := st.g

	for _, link := range st.serviceLinks {
		svcID, compID := link[0], g.Canonical(link[1])
		svc := g.ensureService(svcID)
		comp, ok := g.components[compID]
		if !ok {
			b.logger.Warn("service references unknown component", "service", svcID, "component", link[1])
			st.stats.SkippedEntries++
			continue
		}
		if comp.ServiceID == "" {
			comp.ServiceID = svcID
		}
		svc.ComponentIDs = appendUnique(svc.ComponentIDs, compID)
	}

	for _, d := range st.deps {
		from, to := g.Canonical(strings.TrimSpace(d.FromComponent)), g.Canonical(strings.TrimSpace(d.ToComponent))
		if from == "" || to == "" {
			b.logger.Warn("skipping dependency with missing endpoint", "from", d.FromComponent, "to", d.ToComponent)
			st.stats.SkippedEntries++
			continue
		}
		if from == to {
			continue
		}
		if _, ok := g.components[from]; !ok {
			b.logger.Warn("skipping dependency on undeclared component", "from", d.FromComponent, "to", d.ToComponent)
			st.stats.SkippedEntries++
			continue
		}
		if _, ok := g.components[to]; !ok {
			b.logger.Warn("skipping dependency on undeclared component", "from", d.FromComponent, "to", d.ToComponent)
			st.stats.SkippedEntries++
			continue
		}
		g.addDependency(from, to, d.Reason)
	}

	for _, id := range sortedIDs(g.artifacts) {
		a := g.artifacts[id]
		for _, ref := range a.DependsOn {
			target := g.resolveArtifact(ref, a.Repo)
			if target == nil {
				b.logger.Debug("unresolved artifact reference", "artifact", a.ID, "ref", ref)
				st.stats.UnresolvedArtifact++
				continue
			}
			if target.ComponentID == a.ComponentID {
				continue
			}
			if _, exists := g.dependsOn[a.ComponentID][target.ComponentID]; exists {
				continue
			}
			g.addDependency(a.ComponentID, target.ComponentID,
				fmt.Sprintf("artifact %s depends on %s", a.ID, target.ID))
			st.stats.ProjectedEdges++
		}
	}

	for from, tos := range g.dependsOn {
		for to := range tos {
			g.dependents[to] = append(g.dependents[to], from)
		}
	}
	for to := range g.dependents {
		sort.Strings(g.dependents[to])
	}
}

// resolveArtifact finds an artifact by id, then by the longest artifact
// path within repo that covers ref
func (g *Graph) resolveArtifact(ref, repo string) *Artifact {
	ref = strings.TrimSpace(ref)
	if a, ok := g.artifacts[ref]; ok {
		return a
	}
	norm := NormalizePath(ref)
	if norm == "" {
		return nil
	}
	var best *Artifact
	for _, id := range sortedIDs(g.artifacts) {
		a := g.artifacts[id]
		if a.Repo != repo || !pathHasPrefix(norm, a.Path) {
			continue
		}
		if best == nil || len(a.Path) > len(best.Path) {
			best = a
		}
	}
	return best
}

func (g *Graph) addDependency(from, to, reason string) {
	tos, ok := g.dependsOn[from]
	if !ok {
		tos = make(map[string]string)
		g.dependsOn[from] = tos
	}
	if existing, ok := tos[to]; ok && existing != "" {
		return
	}
	tos[to] = reason
}

func (g *Graph) registerRepo(name string, aliases []string) *Repository {
	name = strings.TrimSpace(name)
	id, ok := g.repoKeys[strings.ToLower(name)]
	if !ok {
		id = name
		g.repos[id] = &Repository{ID: id}
	}
	r := g.repos[id]
	keys := []string{name}
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		keys = append(keys, name[i+1:])
	}
	keys = append(keys, aliases...)
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, taken := g.repoKeys[k]; !taken {
			g.repoKeys[k] = id
		}
	}
	r.Aliases = appendUnique(r.Aliases, aliases...)
	return r
}

func (g *Graph) ensureService(id string) *Service {
	svc, ok := g.services[id]
	if !ok {
		svc = &Service{ID: id}
		g.services[id] = svc
		g.addAlias(id, id)
	}
	return svc
}

// addAlias registers alias -> id; the first registration wins
func (g *Graph) addAlias(alias, id string) {
	key := strings.ToLower(strings.TrimSpace(alias))
	if key == "" {
		return
	}
	if _, taken := g.aliases[key]; taken {
		return
	}
	g.aliases[key] = id
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(list, v) {
			continue
		}
		list = append(list, v)
	}
	return list
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
