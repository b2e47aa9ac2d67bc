package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AliasStatus string

const (
	// AliasUnchecked means no lookup has completed for the wallet yet.
	AliasUnchecked AliasStatus = "unchecked"
	// AliasResolved means a name was found.
	AliasResolved AliasStatus = "resolved"
	// AliasNone means every naming tier answered and none had a name.
	AliasNone AliasStatus = "none"
)

type AliasSource string

const (
	AliasSourceBasename AliasSource = "basename"
	AliasSourceENS      AliasSource = "ens"
)

type Alias struct {
	Status AliasStatus `json:"status"`
	Name   string      `json:"name,omitempty"`
	Source AliasSource `json:"source,omitempty"`
}

// NeedsLookup reports whether the enrichment pass should query this wallet.
func (a Alias) NeedsLookup() bool {
	return a.Status == "" || a.Status == AliasUnchecked
}

// WalletAggregate is the per-sender rollup of the ledger. Everything except
// Alias is recomputed from scratch on each sync.
type WalletAggregate struct {
	Address        string          `db:"address" json:"address"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	TransferCount  int64           `db:"transfer_count" json:"transfer_count"`
	LastActivityAt time.Time       `db:"last_activity_at" json:"last_activity_at"`
	// Rank is the 1-based position by total amount, ties in ledger order.
	Rank  int64 `db:"rank" json:"rank"`
	Alias Alias `json:"alias"`
}
