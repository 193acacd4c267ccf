package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// BuildReasoning renders the change-impact chain, the repos the impact
// touches and one update hint per impacted doc
func BuildReasoning(report *models.ImpactReport, g *depgraph.Graph) *models.ReasoningContext {
	rc := &models.ReasoningContext{
		TouchedRepos: []string{},
		DocHints:     map[string]string{},
	}

	var steps []string
	if ids := entityIDs(report.ChangedComponents); len(ids) > 0 {
		steps = append(steps, "changed: "+strings.Join(ids, ", "))
	}
	byDepth := make(map[int][]string)
	var depths []int
	for _, e := range report.ImpactedComponents {
		d := e.Metadata.Depth
		if _, ok := byDepth[d]; !ok {
			depths = append(depths, d)
		}
		byDepth[d] = append(byDepth[d], e.ID)
	}
	sort.Ints(depths)
	for _, d := range depths {
		steps = append(steps, fmt.Sprintf("depth %d: %s", d, strings.Join(byDepth[d], ", ")))
	}
	if ids := entityIDs(report.ImpactedServices); len(ids) > 0 {
		steps = append(steps, "services: "+strings.Join(ids, ", "))
	}
	if ids := entityIDs(report.ImpactedDocs); len(ids) > 0 {
		steps = append(steps, "docs: "+strings.Join(ids, ", "))
	}
	rc.ImpactChain = strings.Join(steps, " -> ")

	repos := make(map[string]bool)
	if report.Change != nil && report.Change.Repo != "" {
		repos[report.Change.Repo] = true
	}
	for _, list := range [][]models.ImpactedEntity{report.ChangedComponents, report.ImpactedComponents} {
		for _, e := range list {
			if c, ok := g.Component(e.ID); ok && c.Repo != "" {
				repos[c.Repo] = true
			}
		}
	}
	for _, e := range report.ImpactedDocs {
		if e.Metadata.Repo != "" {
			repos[e.Metadata.Repo] = true
		}
	}
	for r := range repos {
		rc.TouchedRepos = append(rc.TouchedRepos, r)
	}
	sort.Strings(rc.TouchedRepos)

	for _, e := range report.ImpactedDocs {
		rc.DocHints[e.ID] = docHint(e)
	}
	return rc
}

func docHint(e models.ImpactedEntity) string {
	title := firstNonEmpty(e.Metadata.Title, e.ID)
	via := firstNonEmpty(e.Metadata.Via, strings.Join(e.Metadata.ComponentIDs, ", "))
	switch e.Metadata.Relation {
	case models.RelationChanged:
		return fmt.Sprintf("Update %s to reflect the change to %s.", title, via)
	case models.RelationDirect:
		return fmt.Sprintf("Check %s: %s depends directly on the changed code.", title, via)
	default:
		return fmt.Sprintf("Skim %s: %s is affected %d hops away.", title, via, e.Metadata.Depth)
	}
}

func entityIDs(list []models.ImpactedEntity) []string {
	ids := make([]string, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	return ids
}
