package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the fixed-point scale of raw USDC amounts.
const USDCDecimals = 6

// Transfer is one contribution sent to the auction contract. TxHash is its
// natural key; re-ingesting the same hash overwrites rather than duplicates.
type Transfer struct {
	TxHash      string          `db:"tx_hash" json:"tx_hash"`
	BlockNumber int64           `db:"block_number" json:"block_number"`
	LogIndex    int64           `db:"log_index" json:"log_index"`
	FromAddress string          `db:"from_address" json:"from_address"`
	ToAddress   string          `db:"to_address" json:"to_address"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	ObservedAt  time.Time       `db:"observed_at" json:"observed_at"`
	TimeExact   bool            `db:"time_exact" json:"time_exact"`
}

// TransferPageKey is the keyset position used to page through the ledger in
// (block_number, tx_hash) order.
type TransferPageKey struct {
	BlockNumber int64
	TxHash      string
}

// Key returns the page key positioned at t.
func (t Transfer) Key() TransferPageKey {
	return TransferPageKey{BlockNumber: t.BlockNumber, TxHash: t.TxHash}
}

// Less reports whether k sorts before other in ledger order.
func (k TransferPageKey) Less(other TransferPageKey) bool {
	if k.BlockNumber != other.BlockNumber {
		return k.BlockNumber < other.BlockNumber
	}
	return k.TxHash < other.TxHash
}
