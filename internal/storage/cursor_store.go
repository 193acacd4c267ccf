package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/impactgraph/internal/models"
)

// FileCursorStore keeps every repository cursor in one JSON object
type FileCursorStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCursorStore uses path, which need not exist yet
func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

func (s *FileCursorStore) load() (map[string]models.CursorState, error) {
	states := make(map[string]models.CursorState)
	if err := readJSON(s.path, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func (s *FileCursorStore) Get(ctx context.Context, repo string) (models.CursorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.load()
	if err != nil {
		return models.CursorState{}, err
	}
	return states[repo], nil
}

func (s *FileCursorStore) Put(ctx context.Context, repo string, state models.CursorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.load()
	if err != nil {
		return err
	}
	states[repo] = state
	return writeJSONAtomic(s.path, states)
}

func (s *FileCursorStore) All(ctx context.Context) (map[string]models.CursorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileCursorStore) Close() error { return nil }

const cursorBucket = "ingestion_cursors"

// BoltCursorStore keeps cursors in a bbolt database, one key per repository
type BoltCursorStore struct {
	db *bolt.DB
}

// NewBoltCursorStore opens (or creates) the database at path
func NewBoltCursorStore(path string) (*BoltCursorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cursor directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cursor db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cursor bucket: %w", err)
	}
	return &BoltCursorStore{db: db}, nil
}

func (s *BoltCursorStore) Get(ctx context.Context, repo string) (models.CursorState, error) {
	var state models.CursorState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(cursorBucket)).Get([]byte(repo))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return models.CursorState{}, fmt.Errorf("get cursor %s: %w", repo, err)
	}
	return state, nil
}

func (s *BoltCursorStore) Put(ctx context.Context, repo string, state models.CursorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cursorBucket)).Put([]byte(repo), data)
	})
}

func (s *BoltCursorStore) All(ctx context.Context) (map[string]models.CursorState, error) {
	states := make(map[string]models.CursorState)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cursorBucket)).ForEach(func(k, v []byte) error {
			var state models.CursorState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("decode cursor %s: %w", k, err)
			}
			states[string(k)] = state
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// Close closes the database
func (s *BoltCursorStore) Close() error {
	return s.db.Close()
}
