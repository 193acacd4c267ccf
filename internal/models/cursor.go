package models

import "time"

// CursorState is the persisted ingestion position of one repository
type CursorState struct {
	LastRunStartedAt   *time.Time `json:"last_run_started_at"`
	LastRunCompletedAt *time.Time `json:"last_run_completed_at"`
	LastSuccessAt      *time.Time `json:"last_success_at"`
	LastCursor         string     `json:"last_cursor"`
	ProcessedIDs       []string   `json:"processed_ids"`
	LastError          string     `json:"last_error,omitempty"`
	LastErrorAt        *time.Time `json:"last_error_at,omitempty"`
}

// Seen reports whether id was already processed
func (c *CursorState) Seen(id string) bool {
	for _, p := range c.ProcessedIDs {
		if p == id {
			return true
		}
	}
	return false
}

// MarkProcessed appends id and keeps only the newest limit entries.
// A non-positive limit keeps everything.
func (c *CursorState) MarkProcessed(id string, limit int) {
	if c.Seen(id) {
		return
	}
	c.ProcessedIDs = append(c.ProcessedIDs, id)
	if limit > 0 && len(c.ProcessedIDs) > limit {
		c.ProcessedIDs = append([]string(nil), c.ProcessedIDs[len(c.ProcessedIDs)-limit:]...)
	}
}
