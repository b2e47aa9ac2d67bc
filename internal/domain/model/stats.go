package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStats is the global statistics snapshot derived from the ledger.
// PctBelow* are percentages of transfers (0-100); Top*Share are fractions of
// the total amount (0-1).
type AuctionStats struct {
	TotalAmount        decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalCount         int64           `db:"total_count" json:"total_count"`
	UniqueWallets      int64           `db:"unique_wallets" json:"unique_wallets"`
	Mean               decimal.Decimal `db:"mean_amount" json:"mean"`
	Median             decimal.Decimal `db:"median_amount" json:"median"`
	PctBelow50         float64         `db:"pct_below_50" json:"pct_below_50"`
	PctBelow100        float64         `db:"pct_below_100" json:"pct_below_100"`
	Top10Share         float64         `db:"top10_share" json:"top10_share"`
	Top50Share         float64         `db:"top50_share" json:"top50_share"`
	LastProcessedBlock int64           `db:"last_processed_block" json:"last_processed_block"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}
