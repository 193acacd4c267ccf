package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	componentsURI = "impactgraph://components"
	healthURI     = "impactgraph://health"
)

// ComponentView is one component as listed by the components resource
type ComponentView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Repo       string   `json:"repo"`
	Service    string   `json:"service,omitempty"`
	DependsOn  []string `json:"depends_on"`
	Dependents []string `json:"dependents"`
	Docs       []string `json:"docs,omitempty"`
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         componentsURI,
		Name:        "Components",
		Description: "Every component of the dependency graph with its direct dependencies and dependents",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return jsonResource(componentsURI, s.components())
	})

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         healthURI,
		Name:        "Health",
		Description: "Engine health: graph statistics, doc issues and ingestion cursors",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return jsonResource(healthURI, s.svc.GetHealth(ctx, 5))
	})
}

func (s *Server) components() []ComponentView {
	g := s.svc.Graph()
	ids := g.ComponentIDs()
	out := make([]ComponentView, 0, len(ids))
	for _, id := range ids {
		c, ok := g.Component(id)
		if !ok {
			continue
		}
		out = append(out, ComponentView{
			ID:         c.ID,
			Name:       c.Name,
			Repo:       c.Repo,
			Service:    c.ServiceID,
			DependsOn:  nonNil(g.Dependencies(id)),
			Dependents: nonNil(g.Dependents(id)),
			Docs:       c.Docs,
		})
	}
	return out
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
