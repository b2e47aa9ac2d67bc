package store

import "github.com/emperorhan/cca-indexer/internal/domain/model"

// DedupeByTxHash collapses repeated tx hashes so a batch touches each ledger
// row once. The surviving record is the last occurrence, kept at the
// position of the first. Nil entries are dropped.
func DedupeByTxHash(transfers []*model.Transfer) []*model.Transfer {
	index := make(map[string]int, len(transfers))
	out := make([]*model.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t == nil {
			continue
		}
		if i, ok := index[t.TxHash]; ok {
			out[i] = t
			continue
		}
		index[t.TxHash] = len(out)
		out = append(out, t)
	}
	return out
}
