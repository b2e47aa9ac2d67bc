package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

// WalletStore is an in-memory store.WalletRepository.
type WalletStore struct {
	mu   sync.RWMutex
	data map[string]model.WalletAggregate
}

var _ store.WalletRepository = (*WalletStore)(nil)

func NewWalletStore() *WalletStore {
	return &WalletStore{data: make(map[string]model.WalletAggregate)}
}

func (s *WalletStore) ReplaceAll(_ context.Context, wallets []model.WalletAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]model.WalletAggregate, len(wallets))
	for _, w := range wallets {
		if prev, ok := s.data[w.Address]; ok {
			w.Alias = prev.Alias
		} else {
			w.Alias = model.Alias{Status: model.AliasUnchecked}
		}
		next[w.Address] = w
	}
	s.data = next
	return nil
}

func (s *WalletStore) ListUnresolved(_ context.Context, limit int) ([]model.WalletAggregate, error) {
	out := s.ranked(func(w model.WalletAggregate) bool { return w.Alias.NeedsLookup() })
	return page(out, 0, limit), nil
}

func (s *WalletStore) SetAlias(_ context.Context, address string, alias model.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data[address]
	if !ok {
		return nil
	}
	w.Alias = alias
	s.data[address] = w
	return nil
}

func (s *WalletStore) ListTop(_ context.Context, q store.LeaderboardQuery) ([]model.WalletAggregate, error) {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := s.ranked(func(w model.WalletAggregate) bool {
		if search == "" {
			return true
		}
		return strings.Contains(w.Address, search) || strings.Contains(strings.ToLower(w.Alias.Name), search)
	})
	return page(out, q.Offset, q.Limit), nil
}

func (s *WalletStore) ranked(keep func(model.WalletAggregate) bool) []model.WalletAggregate {
	s.mu.RLock()
	out := make([]model.WalletAggregate, 0, len(s.data))
	for _, w := range s.data {
		if keep(w) {
			out = append(out, w)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func page(wallets []model.WalletAggregate, offset, limit int) []model.WalletAggregate {
	if offset >= len(wallets) {
		return []model.WalletAggregate{}
	}
	if offset > 0 {
		wallets = wallets[offset:]
	}
	if limit > 0 && len(wallets) > limit {
		wallets = wallets[:limit]
	}
	return wallets
}
