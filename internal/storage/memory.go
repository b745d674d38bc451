package storage

import (
	"context"
	"errors"
	"sync"

	"aktis/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]model.Checkpoint
	runs        map[string]model.RunRecord
	evaluations map[string]model.EvaluationRecord
	history     map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string]model.Checkpoint)
	s.runs = make(map[string]model.RunRecord)
	s.evaluations = make(map[string]model.EvaluationRecord)
	s.history = make(map[string][]float64)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.checkpoints[checkpoint.ID] = checkpoint
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Checkpoint{}, false, errNotInitialized
	}
	checkpoint, ok := s.checkpoints[id]
	return checkpoint, ok, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Checkpoint{}, false, errNotInitialized
	}

	var best model.Checkpoint
	found := false
	for _, checkpoint := range s.checkpoints {
		if checkpoint.RunID != runID {
			continue
		}
		if !found || checkpoint.Step > best.Step ||
			(checkpoint.Step == best.Step && checkpoint.CreatedAtUTC > best.CreatedAtUTC) {
			best = checkpoint
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunRecord{}, false, errNotInitialized
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) SaveEvaluation(_ context.Context, evaluation model.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := evaluation
	copied.Items = make([]model.EvaluationItem, len(evaluation.Items))
	copy(copied.Items, evaluation.Items)
	s.evaluations[evaluation.RunID] = copied
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, runID string) (model.EvaluationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.EvaluationRecord{}, false, errNotInitialized
	}
	evaluation, ok := s.evaluations[runID]
	if !ok {
		return model.EvaluationRecord{}, false, nil
	}
	copied := evaluation
	copied.Items = make([]model.EvaluationItem, len(evaluation.Items))
	copy(copied.Items, evaluation.Items)
	return copied, true, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}
