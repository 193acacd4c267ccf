package output

import (
	"io"

	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
)

// AIJSONOutput is the schema of the machine-readable mode
type AIJSONOutput struct {
	SchemaVersion string               `json:"schema_version"`
	Report        *models.ImpactReport `json:"report"`
	DocIssues     []models.DocIssue    `json:"doc_issues"`
	Notified      bool                 `json:"notified"`
	EventID       string               `json:"event_id,omitempty"`
	EventRecorded bool                 `json:"event_recorded"`
}

// AIFormatter outputs machine-readable JSON for scripts and assistants
type AIFormatter struct {
	Version string
}

func (f *AIFormatter) Format(result *pipeline.Result, w io.Writer) error {
	version := f.Version
	if version == "" {
		version = "1.0"
	}
	issues := result.Issues
	if issues == nil {
		issues = []models.DocIssue{}
	}
	return WriteJSON(w, AIJSONOutput{
		SchemaVersion: version,
		Report:        result.Report,
		DocIssues:     issues,
		Notified:      result.Notified,
		EventID:       result.Audit.Event.EventID,
		EventRecorded: result.Audit.GraphWritten || result.Audit.LogWritten,
	})
}
