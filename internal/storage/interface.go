// Package storage persists doc issues and ingestion cursors.
package storage

import (
	"context"
	"errors"

	"github.com/rohankatakam/impactgraph/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// IssueStore holds doc issues. Upsert must be atomic: after a crash the
// store holds either the previous or the new set of records.
type IssueStore interface {
	// List returns every issue ordered by creation time
	List(ctx context.Context) ([]models.DocIssue, error)

	// Get returns one issue by id or ErrNotFound
	Get(ctx context.Context, id string) (*models.DocIssue, error)

	// Upsert inserts or replaces issues by id
	Upsert(ctx context.Context, issues []models.DocIssue) error

	Close() error
}

// CursorStore holds one ingestion cursor per repository
type CursorStore interface {
	// Get returns the cursor of repo, zero-valued if none was saved
	Get(ctx context.Context, repo string) (models.CursorState, error)

	Put(ctx context.Context, repo string, state models.CursorState) error

	// All returns every saved cursor keyed by repository
	All(ctx context.Context) (map[string]models.CursorState, error)

	Close() error
}
