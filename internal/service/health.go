package service

import (
	"context"
	"time"

	"github.com/rohankatakam/impactgraph/internal/audit"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// Health is the operational snapshot returned by GetHealth
type Health struct {
	Status        string                        `json:"status"`
	Graph         depgraph.Stats                `json:"graph"`
	GraphLoadedAt *time.Time                    `json:"graph_loaded_at,omitempty"`
	DocIssues     docissues.Stats               `json:"doc_issues"`
	Cursors       map[string]models.CursorState `json:"cursors"`
	RecentEvents  []models.ImpactEvent          `json:"recent_events"`
	Warnings      []string                      `json:"warnings"`
}

// GetHealth reports graph size, doc issue counts, ingestion cursors and
// the latest impact events. Unreadable parts become warnings.
func (s *Service) GetHealth(ctx context.Context, maxEvents int) Health {
	h := Health{
		Status:       "ok",
		Cursors:      map[string]models.CursorState{},
		RecentEvents: []models.ImpactEvent{},
		Warnings:     []string{},
		DocIssues:    docissues.Stats{TopRepos: []docissues.RepoCount{}},
	}

	g := s.deps.Pipeline.Graph()
	h.Graph = g.Stats()
	if at := s.deps.Pipeline.Holder().LoadedAt(); !at.IsZero() {
		at = at.UTC()
		h.GraphLoadedAt = &at
	}
	if h.Graph.Components == 0 {
		h.Warnings = append(h.Warnings, "dependency graph is empty")
	}

	if s.deps.Tracker != nil {
		st, err := s.deps.Tracker.Stats(ctx, 5)
		if err != nil {
			h.Warnings = append(h.Warnings, "doc issues unavailable: "+err.Error())
		} else {
			h.DocIssues = st
		}
	}

	if s.deps.Cursors != nil {
		all, err := s.deps.Cursors.All(ctx)
		if err != nil {
			h.Warnings = append(h.Warnings, "cursors unavailable: "+err.Error())
		} else {
			for repo, c := range all {
				h.Cursors[repo] = c
				if c.LastError != "" {
					h.Warnings = append(h.Warnings, "last poll of "+repo+" failed: "+c.LastError)
				}
			}
		}
	}

	if s.deps.EventLogPath != "" && maxEvents > 0 {
		events, err := audit.ReadRecent(s.deps.EventLogPath, maxEvents)
		if err != nil {
			h.Warnings = append(h.Warnings, "event log unavailable: "+err.Error())
		} else if events != nil {
			h.RecentEvents = events
		}
	}

	if len(h.Warnings) > 0 {
		h.Status = "degraded"
	}
	return h
}
