package depgraph

import (
	"context"
	"fmt"

	"github.com/rohankatakam/impactgraph/internal/graph"
)

// Mirror writes every entity and edge of g into store. Writes are MERGEs,
// so mirroring the same graph twice leaves the store unchanged.
func Mirror(ctx context.Context, store graph.Store, g *Graph) error {
	if store == nil || !g.Valid() {
		return nil
	}

	var nodes []graph.Node
	var edges []graph.Edge

	for _, id := range sortedIDs(g.repos) {
		r := g.repos[id]
		nodes = append(nodes, graph.Node{
			Label:      graph.LabelRepository,
			ID:         r.ID,
			Properties: map[string]any{"name": r.ID, "aliases": r.Aliases},
		})
	}

	for _, id := range sortedIDs(g.services) {
		s := g.services[id]
		nodes = append(nodes, graph.Node{
			Label:      graph.LabelService,
			ID:         s.ID,
			Properties: map[string]any{"name": s.Name},
		})
		for _, compID := range s.ComponentIDs {
			edges = append(edges, graph.Edge{
				Label: graph.EdgeAggregates, From: s.ID, To: compID,
				FromLabel: graph.LabelService, ToLabel: graph.LabelComponent,
			})
		}
	}

	for _, id := range sortedIDs(g.components) {
		c := g.components[id]
		props := map[string]any{"repo": c.Repo, "name": c.Name, "service_id": c.ServiceID}
		for k, v := range c.Metadata {
			props["meta_"+k] = v
		}
		nodes = append(nodes, graph.Node{Label: graph.LabelComponent, ID: c.ID, Properties: props})
		if c.Repo != "" {
			edges = append(edges, graph.Edge{
				Label: graph.EdgeOwns, From: c.Repo, To: c.ID,
				FromLabel: graph.LabelRepository, ToLabel: graph.LabelComponent,
			})
		}
		for _, dep := range g.Dependencies(c.ID) {
			edges = append(edges, graph.Edge{
				Label: graph.EdgeDependsOn, From: c.ID, To: dep,
				FromLabel: graph.LabelComponent, ToLabel: graph.LabelComponent,
				Properties: map[string]any{"reason": g.DependencyReason(c.ID, dep)},
			})
		}
	}

	for _, id := range sortedIDs(g.artifacts) {
		a := g.artifacts[id]
		nodes = append(nodes, graph.Node{
			Label:      graph.LabelArtifact,
			ID:         a.ID,
			Properties: map[string]any{"repo": a.Repo, "path": a.Path},
		})
		edges = append(edges, graph.Edge{
			Label: graph.EdgeOwns, From: a.ComponentID, To: a.ID,
			FromLabel: graph.LabelComponent, ToLabel: graph.LabelArtifact,
		})
	}

	for _, id := range sortedIDs(g.endpoints) {
		e := g.endpoints[id]
		nodes = append(nodes, graph.Node{
			Label:      graph.LabelEndpoint,
			ID:         e.ID,
			Properties: map[string]any{"method": e.Method, "path": e.Path, "description": e.Description},
		})
		edges = append(edges, graph.Edge{
			Label: graph.EdgeExposes, From: e.ComponentID, To: e.ID,
			FromLabel: graph.LabelComponent, ToLabel: graph.LabelEndpoint,
		})
	}

	for _, id := range sortedIDs(g.docs) {
		d := g.docs[id]
		nodes = append(nodes, graph.Node{
			Label:      graph.LabelDoc,
			ID:         d.ID,
			Properties: map[string]any{"title": d.Title, "url": d.URL, "path": d.Path, "repo": d.Repo},
		})
		for _, compID := range d.ComponentIDs {
			edges = append(edges, graph.Edge{
				Label: graph.EdgeDescribes, From: d.ID, To: compID,
				FromLabel: graph.LabelDoc, ToLabel: graph.LabelComponent,
			})
		}
		for _, apiID := range d.APIIDs {
			edges = append(edges, graph.Edge{
				Label: graph.EdgeDescribes, From: d.ID, To: apiID,
				FromLabel: graph.LabelDoc, ToLabel: graph.LabelEndpoint,
			})
		}
	}

	if err := store.MergeNodes(ctx, nodes); err != nil {
		return fmt.Errorf("mirror nodes: %w", err)
	}
	if err := store.MergeEdges(ctx, edges); err != nil {
		return fmt.Errorf("mirror edges: %w", err)
	}
	return nil
}
