package memory

import (
	"context"
	"sync"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

// StatsStore is an in-memory store.StatsRepository.
type StatsStore struct {
	mu    sync.RWMutex
	stats *model.AuctionStats
}

var _ store.StatsRepository = (*StatsStore)(nil)

func NewStatsStore() *StatsStore {
	return &StatsStore{}
}

func (s *StatsStore) Save(_ context.Context, stats model.AuctionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = &stats
	return nil
}

func (s *StatsStore) Get(_ context.Context) (*model.AuctionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats == nil {
		return nil, nil
	}
	cp := *s.stats
	return &cp, nil
}
