// Package aggregator derives wallet rollups and auction statistics from a
// full ledger snapshot. Compute is pure: the same ledger always yields the
// same result, which is what makes re-running a sync safe.
package aggregator

import (
	"sort"
	"time"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/shopspring/decimal"
)

var (
	smallThreshold  = decimal.NewFromInt(50)
	mediumThreshold = decimal.NewFromInt(100)
	two             = decimal.NewFromInt(2)
)

type Result struct {
	// Wallets are ordered by first appearance in the ledger.
	Wallets []model.WalletAggregate
	Stats   model.AuctionStats
}

// Compute groups transfers by sender and derives the global snapshot.
// Input order does not matter; transfers are processed in ledger order
// (block_number, tx_hash).
func Compute(transfers []model.Transfer, lastProcessedBlock int64, now time.Time) Result {
	ordered := make([]model.Transfer, len(transfers))
	copy(ordered, transfers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Key().Less(ordered[j].Key())
	})

	wallets := groupBySender(ordered)
	assignRanks(wallets)
	amounts := make([]decimal.Decimal, len(ordered))
	total := decimal.Zero
	for i, t := range ordered {
		amounts[i] = t.Amount
		total = total.Add(t.Amount)
	}

	stats := model.AuctionStats{
		TotalAmount:        total,
		TotalCount:         int64(len(ordered)),
		UniqueWallets:      int64(len(wallets)),
		Mean:               Mean(amounts),
		Median:             Median(amounts),
		PctBelow50:         PctBelow(amounts, smallThreshold),
		PctBelow100:        PctBelow(amounts, mediumThreshold),
		Top10Share:         TopShare(wallets, total, 10),
		Top50Share:         TopShare(wallets, total, 50),
		LastProcessedBlock: lastProcessedBlock,
		UpdatedAt:          now.UTC(),
	}
	return Result{Wallets: wallets, Stats: stats}
}

func groupBySender(ordered []model.Transfer) []model.WalletAggregate {
	index := make(map[string]int)
	wallets := make([]model.WalletAggregate, 0)
	for _, t := range ordered {
		i, ok := index[t.FromAddress]
		if !ok {
			i = len(wallets)
			index[t.FromAddress] = i
			wallets = append(wallets, model.WalletAggregate{
				Address:     t.FromAddress,
				TotalAmount: decimal.Zero,
				Alias:       model.Alias{Status: model.AliasUnchecked},
			})
		}
		w := &wallets[i]
		w.TotalAmount = w.TotalAmount.Add(t.Amount)
		w.TransferCount++
		if t.ObservedAt.After(w.LastActivityAt) {
			w.LastActivityAt = t.ObservedAt
		}
	}
	return wallets
}

func assignRanks(wallets []model.WalletAggregate) {
	rankOf := make(map[string]int64, len(wallets))
	for i, w := range RankByTotal(wallets) {
		rankOf[w.Address] = int64(i + 1)
	}
	for i := range wallets {
		wallets[i].Rank = rankOf[wallets[i].Address]
	}
}

// Mean is the arithmetic mean; 0 for an empty list.
func Mean(amounts []decimal.Decimal) decimal.Decimal {
	if len(amounts) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, amounts...).Div(decimal.NewFromInt(int64(len(amounts))))
}

// Median is the middle element, or the average of the two middle elements
// for even-length input; 0 for an empty list.
func Median(amounts []decimal.Decimal) decimal.Decimal {
	n := len(amounts)
	if n == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, n)
	copy(sorted, amounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(two)
}

// PctBelow returns the percentage (0-100) of amounts strictly below threshold.
func PctBelow(amounts []decimal.Decimal, threshold decimal.Decimal) float64 {
	if len(amounts) == 0 {
		return 0
	}
	below := 0
	for _, a := range amounts {
		if a.LessThan(threshold) {
			below++
		}
	}
	return float64(below) / float64(len(amounts)) * 100
}

// TopShare is the fraction (0-1) of total held by the n largest wallets.
// Ties keep the input order. A zero total yields 0.
func TopShare(wallets []model.WalletAggregate, total decimal.Decimal, n int) float64 {
	if !total.IsPositive() || n <= 0 {
		return 0
	}
	ranked := RankByTotal(wallets)
	if n > len(ranked) {
		n = len(ranked)
	}
	top := decimal.Zero
	for _, w := range ranked[:n] {
		top = top.Add(w.TotalAmount)
	}
	return top.Div(total).InexactFloat64()
}

// RankByTotal returns a copy sorted by total amount descending, stable on ties.
func RankByTotal(wallets []model.WalletAggregate) []model.WalletAggregate {
	ranked := make([]model.WalletAggregate, len(wallets))
	copy(ranked, wallets)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalAmount.GreaterThan(ranked[j].TotalAmount)
	})
	return ranked
}
