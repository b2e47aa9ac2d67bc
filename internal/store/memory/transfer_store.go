package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

// TransferStore is an in-memory store.TransferRepository.
type TransferStore struct {
	mu   sync.RWMutex
	data map[string]model.Transfer
	// FailNext makes the next BulkUpsert return this error. Test hook.
	FailNext error
}

var _ store.TransferRepository = (*TransferStore)(nil)

func NewTransferStore() *TransferStore {
	return &TransferStore{data: make(map[string]model.Transfer)}
}

func (s *TransferStore) BulkUpsert(_ context.Context, transfers []*model.Transfer) (store.BulkUpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return store.BulkUpsertResult{}, err
	}

	var result store.BulkUpsertResult
	for _, t := range store.DedupeByTxHash(transfers) {
		if _, exists := s.data[t.TxHash]; exists {
			result.UpdatedCount++
		} else {
			result.InsertedCount++
		}
		s.data[t.TxHash] = *t
	}
	return result, nil
}

func (s *TransferStore) ListPage(_ context.Context, after *model.TransferPageKey, limit int) ([]model.Transfer, error) {
	s.mu.RLock()
	all := make([]model.Transfer, 0, len(s.data))
	for _, t := range s.data {
		if after != nil && !after.Less(t.Key()) {
			continue
		}
		all = append(all, t)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Key().Less(all[j].Key()) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *TransferStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}
