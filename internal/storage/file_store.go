package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rohankatakam/impactgraph/internal/models"
)

// FileIssueStore keeps doc issues as one JSON array on disk
type FileIssueStore struct {
	path string
	mu   sync.Mutex
}

// NewFileIssueStore uses path, which need not exist yet
func NewFileIssueStore(path string) *FileIssueStore {
	return &FileIssueStore{path: path}
}

// Path returns the backing file
func (s *FileIssueStore) Path() string { return s.path }

func (s *FileIssueStore) load() ([]models.DocIssue, error) {
	var issues []models.DocIssue
	if err := readJSON(s.path, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *FileIssueStore) List(ctx context.Context) ([]models.DocIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues, err := s.load()
	if err != nil {
		return nil, err
	}
	sortIssues(issues)
	return issues, nil
}

func (s *FileIssueStore) Get(ctx context.Context, id string) (*models.DocIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range issues {
		if issues[i].ID == id {
			return &issues[i], nil
		}
	}
	return nil, ErrNotFound
}

// Upsert rewrites the whole file atomically
func (s *FileIssueStore) Upsert(ctx context.Context, updates []models.DocIssue) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	issues, err := s.load()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(issues))
	for i, is := range issues {
		index[is.ID] = i
	}
	for _, u := range updates {
		if i, ok := index[u.ID]; ok {
			issues[i] = u
			continue
		}
		index[u.ID] = len(issues)
		issues = append(issues, u)
	}
	sortIssues(issues)
	return writeJSONAtomic(s.path, issues)
}

func (s *FileIssueStore) Close() error { return nil }

func sortIssues(issues []models.DocIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.Before(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})
}
