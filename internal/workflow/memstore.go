package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/discoflow/discoflow/model"
)

// MemoryRunStore is an in-memory RunStore. Suitable for single-process
// deployments and tests; records do not survive a restart.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]model.RunRecord
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]model.RunRecord)}
}

// Begin persists a new run record.
func (s *MemoryRunStore) Begin(_ context.Context, rec model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[rec.ID] = rec
	return nil
}

// Finish finalizes a run with its terminal status.
func (s *MemoryRunStore) Finish(_ context.Context, runID, status, errMsg string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.runs[runID]
	if !exists {
		return ErrRunNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	rec.FinishedAt = &finishedAt
	s.runs[runID] = rec
	return nil
}

// Get retrieves a single run record by ID.
func (s *MemoryRunStore) Get(_ context.Context, runID string) (model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.runs[runID]
	if !exists {
		return model.RunRecord{}, ErrRunNotFound
	}
	return rec, nil
}

// Recent returns run records newest first.
func (s *MemoryRunStore) Recent(_ context.Context, workflow string, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if workflow != "" && rec.Workflow != workflow {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Purge removes finished runs that started before the cutoff.
func (s *MemoryRunStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.runs {
		if rec.Status == model.RunStatusRunning {
			continue
		}
		if rec.StartedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the total number of records. For testing.
func (s *MemoryRunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
