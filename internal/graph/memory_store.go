package graph

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ErrQueryUnsupported is returned by MemoryStore.Query
var ErrQueryUnsupported = errors.New("memory store does not evaluate cypher")

// MemoryStore is an in-process Store used when no graph database is
// configured, and by tests. Merge semantics match Neo4jStore: nodes are
// keyed by id, edges by (from, label, to), and properties are overlaid.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[edgeKey]Edge
	// Err, when set, is returned from every write and health check
	Err error
}

type edgeKey struct{ from, label, to string }

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]Node),
		edges: make(map[edgeKey]Edge),
	}
}

// MergeNodes upserts nodes by id
func (m *MemoryStore) MergeNodes(ctx context.Context, nodes []Node) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		m.upsertNode(n)
	}
	return nil
}

func (m *MemoryStore) upsertNode(n Node) {
	if n.Label == "" {
		n.Label = LabelForID(n.ID)
	}
	existing, ok := m.nodes[n.ID]
	if !ok {
		existing = Node{Label: n.Label, ID: n.ID, Properties: map[string]any{}}
	}
	maps.Copy(existing.Properties, SanitizeProperties(n.Properties))
	m.nodes[n.ID] = existing
}

// MergeEdges upserts edges, creating bare endpoint nodes when missing
func (m *MemoryStore) MergeEdges(ctx context.Context, edges []Edge) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range edges {
		if e.From == "" || e.To == "" || e.Label == "" {
			continue
		}
		fromLabel, toLabel := e.Endpoints()
		if _, ok := m.nodes[e.From]; !ok {
			m.upsertNode(Node{ID: e.From, Label: fromLabel})
		}
		if _, ok := m.nodes[e.To]; !ok {
			m.upsertNode(Node{ID: e.To, Label: toLabel})
		}
		key := edgeKey{e.From, e.Label, e.To}
		existing, ok := m.edges[key]
		if !ok {
			existing = Edge{Label: e.Label, From: e.From, To: e.To, Properties: map[string]any{}}
		}
		maps.Copy(existing.Properties, SanitizeProperties(e.Properties))
		m.edges[key] = existing
	}
	return nil
}

// Query is not supported in memory
func (m *MemoryStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return nil, ErrQueryUnsupported
}

// HealthCheck returns Err
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	return m.Err
}

// Close is a no-op
func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Node returns a stored node by id
func (m *MemoryStore) Node(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes with the given label, or all
// nodes when label is empty
func (m *MemoryStore) NodeCount(label string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if label == "" {
		return len(m.nodes)
	}
	count := 0
	for _, n := range m.nodes {
		if n.Label == label {
			count++
		}
	}
	return count
}

// HasEdge reports whether an edge exists
func (m *MemoryStore) HasEdge(from, label, to string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[edgeKey{from, label, to}]
	return ok
}

// EdgeCount returns the number of stored edges
func (m *MemoryStore) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}
