package store

import (
	"testing"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeByTxHash_LastOccurrenceWins(t *testing.T) {
	first := &model.Transfer{TxHash: "0x1", Amount: decimal.NewFromInt(10)}
	other := &model.Transfer{TxHash: "0x2", Amount: decimal.NewFromInt(5)}
	second := &model.Transfer{TxHash: "0x1", Amount: decimal.NewFromInt(99)}

	out := DedupeByTxHash([]*model.Transfer{first, nil, other, second})
	require.Len(t, out, 2)
	assert.Same(t, second, out[0])
	assert.Same(t, other, out[1])
}

func TestDedupeByTxHash_Empty(t *testing.T) {
	assert.Empty(t, DedupeByTxHash(nil))
}
