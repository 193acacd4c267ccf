// Package depgraph holds the in-memory dependency graph of components,
// services, repositories, endpoints, docs and code artifacts, and the
// builder that produces it from declarative manifests.
package depgraph

import (
	"path"
	"sort"
	"strings"
)

// Component is a deployable or library unit owned by a repository
type Component struct {
	ID        string
	Repo      string
	Name      string
	ServiceID string
	Aliases   []string
	Keywords  []string
	Metadata  map[string]string
	Artifacts []string
	Endpoints []string
	Docs      []string
}

// Service aggregates one or more components
type Service struct {
	ID           string
	Name         string
	ComponentIDs []string
}

// Repository owns components and artifacts
type Repository struct {
	ID         string
	Aliases    []string
	Components []string
}

// Artifact is a file-path pattern owned by a component
type Artifact struct {
	ID          string
	Repo        string
	Path        string
	ComponentID string
	DependsOn   []string
}

// Endpoint is an API endpoint owned by a component
type Endpoint struct {
	ID          string
	ComponentID string
	Method      string
	Path        string
	Description string
}

// Doc is a documentation page describing components and endpoints
type Doc struct {
	ID           string
	Title        string
	URL          string
	Path         string
	Repo         string
	ComponentIDs []string
	APIIDs       []string
}

// Dependency is a component-to-component edge: From depends on To
type Dependency struct {
	From   string
	To     string
	Reason string
}

// Graph is the read-only dependency index. It is built once by Builder and
// never mutated afterwards; reloads build a new Graph.
type Graph struct {
	components map[string]*Component
	services   map[string]*Service
	repos      map[string]*Repository
	artifacts  map[string]*Artifact
	endpoints  map[string]*Endpoint
	docs       map[string]*Doc

	dependsOn  map[string]map[string]string // from -> to -> reason
	dependents map[string][]string          // to -> sorted froms

	// repo key (full, short, alias) -> canonical repo id
	repoKeys map[string]string
	// canonical repo id -> normalized path -> component ids
	paths map[string]map[string][]string

	aliases map[string]string
}

func newGraph() *Graph {
	return &Graph{
		components: make(map[string]*Component),
		services:   make(map[string]*Service),
		repos:      make(map[string]*Repository),
		artifacts:  make(map[string]*Artifact),
		endpoints:  make(map[string]*Endpoint),
		docs:       make(map[string]*Doc),
		dependsOn:  make(map[string]map[string]string),
		dependents: make(map[string][]string),
		repoKeys:   make(map[string]string),
		paths:      make(map[string]map[string][]string),
		aliases:    make(map[string]string),
	}
}

// Empty returns a graph with no entities
func Empty() *Graph {
	return newGraph()
}

// NormalizePath converts separators to "/", trims leading "./" and "/"
// and drops any trailing slash.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for {
		switch {
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		default:
			if p == "" || p == "." {
				return ""
			}
			return strings.TrimSuffix(path.Clean(p), "/")
		}
	}
}

// Canonical maps an alias to its canonical id. Unknown ids pass through.
func (g *Graph) Canonical(id string) string {
	if g == nil {
		return id
	}
	if c, ok := g.aliases[strings.ToLower(strings.TrimSpace(id))]; ok {
		return c
	}
	return id
}

// CanonicalAll canonicalizes and dedups ids, preserving first-seen order
func (g *Graph) CanonicalAll(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		c := g.Canonical(id)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Component returns a component by id (aliases accepted)
func (g *Graph) Component(id string) (*Component, bool) {
	if g == nil {
		return nil, false
	}
	c, ok := g.components[g.Canonical(id)]
	return c, ok
}

// Service returns a service by id
func (g *Graph) Service(id string) (*Service, bool) {
	if g == nil {
		return nil, false
	}
	s, ok := g.services[g.Canonical(id)]
	return s, ok
}

// Doc returns a doc by id
func (g *Graph) Doc(id string) (*Doc, bool) {
	if g == nil {
		return nil, false
	}
	d, ok := g.docs[g.Canonical(id)]
	return d, ok
}

// Endpoint returns an endpoint by id
func (g *Graph) Endpoint(id string) (*Endpoint, bool) {
	if g == nil {
		return nil, false
	}
	e, ok := g.endpoints[g.Canonical(id)]
	return e, ok
}

// Artifact returns an artifact by id
func (g *Graph) Artifact(id string) (*Artifact, bool) {
	if g == nil {
		return nil, false
	}
	a, ok := g.artifacts[id]
	return a, ok
}

// Repository resolves a repo by full name, short name or alias
func (g *Graph) Repository(name string) (*Repository, bool) {
	if g == nil {
		return nil, false
	}
	id, ok := g.repoID(name)
	if !ok {
		return nil, false
	}
	return g.repos[id], true
}

// repoID resolves a repo key. "owner/name" falls back to "name" so hosting
// names match manifests that only declare the short name.
func (g *Graph) repoID(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := g.repoKeys[key]; ok {
		return id, true
	}
	if i := strings.LastIndex(key, "/"); i >= 0 && i < len(key)-1 {
		id, ok := g.repoKeys[key[i+1:]]
		return id, ok
	}
	return "", false
}

// ComponentIDs returns all component ids, sorted
func (g *Graph) ComponentIDs() []string {
	if g == nil {
		return nil
	}
	return sortedIDs(g.components)
}

// Repositories returns all repository ids, sorted
func (g *Graph) Repositories() []string {
	if g == nil {
		return nil
	}
	return sortedIDs(g.repos)
}

// Dependents returns the components that depend on id, sorted
func (g *Graph) Dependents(id string) []string {
	if g == nil {
		return nil
	}
	return g.dependents[g.Canonical(id)]
}

// Dependencies returns the components id depends on, sorted
func (g *Graph) Dependencies(id string) []string {
	if g == nil {
		return nil
	}
	return sortedIDs(g.dependsOn[g.Canonical(id)])
}

// DependencyReason returns the declared reason for from -> to
func (g *Graph) DependencyReason(from, to string) string {
	if g == nil {
		return ""
	}
	return g.dependsOn[g.Canonical(from)][g.Canonical(to)]
}

// DocsForComponent returns docs describing a component, in manifest order
func (g *Graph) DocsForComponent(id string) []*Doc {
	c, ok := g.Component(id)
	if !ok {
		return nil
	}
	docs := make([]*Doc, 0, len(c.Docs))
	for _, docID := range c.Docs {
		if d, ok := g.docs[docID]; ok {
			docs = append(docs, d)
		}
	}
	return docs
}

// EndpointsForComponent returns endpoints owned by a component
func (g *Graph) EndpointsForComponent(id string) []*Endpoint {
	c, ok := g.Component(id)
	if !ok {
		return nil
	}
	eps := make([]*Endpoint, 0, len(c.Endpoints))
	for _, epID := range c.Endpoints {
		if e, ok := g.endpoints[epID]; ok {
			eps = append(eps, e)
		}
	}
	return eps
}

// ServiceForComponent returns the service id owning a component, or ""
func (g *Graph) ServiceForComponent(id string) string {
	c, ok := g.Component(id)
	if !ok {
		return ""
	}
	return c.ServiceID
}

// ServicesForComponents resolves and dedups service ids
func (g *Graph) ServicesForComponents(ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		if s := g.ServiceForComponent(id); s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ComponentsForFile maps a changed file to its owning components using
// longest-prefix match over the repo's registered artifact paths. Equal
// length matches return the union. An empty repo searches every repo.
func (g *Graph) ComponentsForFile(repo, file string) []string {
	if g == nil {
		return nil
	}
	file = NormalizePath(file)
	if file == "" {
		return nil
	}

	var repoIDs []string
	if repo == "" {
		repoIDs = sortedIDs(g.paths)
	} else if id, ok := g.repoID(repo); ok {
		repoIDs = []string{id}
	} else {
		return nil
	}

	best := -1
	var matched []string
	for _, repoID := range repoIDs {
		for prefix, owners := range g.paths[repoID] {
			if !pathHasPrefix(file, prefix) {
				continue
			}
			switch {
			case len(prefix) > best:
				best = len(prefix)
				matched = append(matched[:0], owners...)
			case len(prefix) == best:
				matched = append(matched, owners...)
			}
		}
	}
	return dedupSorted(matched)
}

// pathHasPrefix matches on segment boundaries: "src" matches "src/a.go"
// but not "srcx/a.go". The empty prefix matches everything.
func pathHasPrefix(file, prefix string) bool {
	if prefix == "" {
		return true
	}
	if file == prefix {
		return true
	}
	return strings.HasPrefix(file, prefix+"/")
}

// Stats summarizes graph size
type Stats struct {
	Components   int `json:"components"`
	Services     int `json:"services"`
	Repositories int `json:"repositories"`
	Artifacts    int `json:"artifacts"`
	Endpoints    int `json:"endpoints"`
	Docs         int `json:"docs"`
	Dependencies int `json:"dependencies"`
}

// Stats returns entity counts
func (g *Graph) Stats() Stats {
	if g == nil {
		return Stats{}
	}
	deps := 0
	for _, tos := range g.dependsOn {
		deps += len(tos)
	}
	return Stats{
		Components:   len(g.components),
		Services:     len(g.services),
		Repositories: len(g.repos),
		Artifacts:    len(g.artifacts),
		Endpoints:    len(g.endpoints),
		Docs:         len(g.docs),
		Dependencies: deps,
	}
}

// Valid reports whether the graph can be analyzed
func (g *Graph) Valid() bool {
	return g != nil && g.components != nil && g.dependents != nil
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dedupSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
