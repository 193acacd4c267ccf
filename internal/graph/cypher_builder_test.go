package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUnwindMergeNodes(t *testing.T) {
	b := NewCypherBuilder()
	rows := []map[string]any{{"id": "comp:alpha", "props": map[string]any{"repo": "repo-alpha"}}}

	query, err := b.BuildUnwindMergeNodes(LabelComponent, rows)
	require.NoError(t, err)
	assert.Contains(t, query, "UNWIND $p0 AS row")
	assert.Contains(t, query, "MERGE (n:Component {id: row.id})")
	assert.Equal(t, rows, b.Params()["p0"])

	_, err = b.BuildUnwindMergeNodes("Component) DETACH DELETE n //", rows)
	assert.Error(t, err)
}

func TestBuildUnwindMergeEdges(t *testing.T) {
	b := NewCypherBuilder()
	query, err := b.BuildUnwindMergeEdges(LabelComponent, EdgeDependsOn, LabelComponent, nil)
	require.NoError(t, err)
	assert.Contains(t, query, "MERGE (a)-[r:DEPENDS_ON]->(b)")

	_, err = b.BuildUnwindMergeEdges(LabelComponent, "DEPENDS-ON", LabelComponent, nil)
	assert.Error(t, err)
}

func TestSanitizeProperties(t *testing.T) {
	got := SanitizeProperties(map[string]any{
		"repo":     "repo-alpha",
		"api-ids":  []string{"api:x"},
		"1st":      1,
		"skipped":  nil,
		"ok_field": true,
	})
	assert.Equal(t, map[string]any{
		"repo":     "repo-alpha",
		"api_ids":  []string{"api:x"},
		"_1st":     1,
		"ok_field": true,
	}, got)
}

func TestLabelForID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"comp:alpha", LabelComponent},
		{"component:alpha", LabelComponent},
		{"service:billing", LabelService},
		{"api:get-user", LabelEndpoint},
		{"doc:alpha-guide", LabelDoc},
		{"repo:repo-alpha", LabelRepository},
		{"slack:C1:123", LabelChatThread},
		{"whatever", LabelEntity},
		{"weird:thing", LabelEntity},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LabelForID(tt.id), tt.id)
	}
}

func TestMemoryStoreMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	nodes := []Node{{ID: "comp:alpha", Properties: map[string]any{"repo": "repo-alpha"}}}
	edges := []Edge{{Label: EdgeDependsOn, From: "comp:alpha", To: "comp:beta"}}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.MergeNodes(ctx, nodes))
		require.NoError(t, s.MergeEdges(ctx, edges))
	}

	assert.Equal(t, 2, s.NodeCount(LabelComponent))
	assert.Equal(t, 1, s.EdgeCount())
	assert.True(t, s.HasEdge("comp:alpha", EdgeDependsOn, "comp:beta"))

	n, ok := s.Node("comp:alpha")
	require.True(t, ok)
	assert.Equal(t, "repo-alpha", n.Properties["repo"])
}

func TestMemoryStoreFailure(t *testing.T) {
	s := NewMemoryStore()
	s.Err = errors.New("unreachable")
	assert.Error(t, s.MergeNodes(context.Background(), []Node{{ID: "comp:a"}}))
	assert.Error(t, s.HealthCheck(context.Background()))

	_, err := s.Query(context.Background(), "MATCH (n) RETURN n", nil)
	assert.ErrorIs(t, err, ErrQueryUnsupported)
}

func TestGetConfigForOperation(t *testing.T) {
	cfg := GetConfigForOperation(OpEventWrite)
	assert.Equal(t, OpEventWrite, cfg.Metadata["operation"])
	assert.Len(t, cfg.AsNeo4jConfig(), 2)

	unknown := GetConfigForOperation("nope")
	assert.Equal(t, "unknown", unknown.Metadata["type"])

	assert.Equal(t, cfg.Timeout, cfg.WithTimeout(0).Timeout)
	assert.NotEqual(t, cfg.Timeout, cfg.WithTimeout(cfg.Timeout+1).Timeout)
}
