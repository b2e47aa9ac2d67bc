package memory

import (
	"context"
	"sync"
	"time"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

// CheckpointStore is an in-memory store.CheckpointRepository.
type CheckpointStore struct {
	mu    sync.RWMutex
	data  map[string]model.SyncCheckpoint
	nowFn func() time.Time
}

var _ store.CheckpointRepository = (*CheckpointStore)(nil)

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data:  make(map[string]model.SyncCheckpoint),
		nowFn: time.Now,
	}
}

func (s *CheckpointStore) Get(_ context.Context, id string) (*model.SyncCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.data[id]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *CheckpointStore) Advance(_ context.Context, id string, block int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.data[id]; ok && cp.LastProcessedBlock >= block {
		return nil
	}
	s.data[id] = model.SyncCheckpoint{ID: id, LastProcessedBlock: block, UpdatedAt: s.nowFn().UTC()}
	return nil
}

func (s *CheckpointStore) Reset(_ context.Context, id string, block int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = model.SyncCheckpoint{ID: id, LastProcessedBlock: block, UpdatedAt: s.nowFn().UTC()}
	return nil
}
