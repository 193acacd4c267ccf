package docissues

import "github.com/rohankatakam/impactgraph/internal/models"

// ClassifySeverity rates how urgently a doc needs review. Rules apply in
// order:
//
//	direct and confidence >= 0.85  -> high
//	indirect and depth >= 2        -> low
//	indirect and depth 1           -> medium
//	otherwise by impact level: high and medium -> medium, low -> low
func ClassifySeverity(relation string, depth int, confidence float64, level models.ImpactLevel) models.Severity {
	switch {
	case relation == models.RelationDirect && confidence >= 0.85:
		return models.SeverityHigh
	case relation == models.RelationIndirect && depth >= 2:
		return models.SeverityLow
	case relation == models.RelationIndirect:
		return models.SeverityMedium
	}

	switch level {
	case models.ImpactHigh, models.ImpactMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
