package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/cca-indexer/internal/alert"
	"github.com/emperorhan/cca-indexer/internal/chain"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/pipeline/normalizer"
	"github.com/emperorhan/cca-indexer/internal/store/memory"
	"github.com/emperorhan/cca-indexer/internal/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type chunkRange struct{ from, to int64 }

type fakeFetcher struct {
	logs  []chain.RawTransferLog
	err   error
	calls []chunkRange
}

func (f *fakeFetcher) FetchChunk(_ context.Context, from, to int64) ([]chain.RawTransferLog, error) {
	f.calls = append(f.calls, chunkRange{from, to})
	if f.err != nil {
		return nil, f.err
	}
	var out []chain.RawTransferLog
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func rawLog(hash string, block int64, sender string, usdc int64) chain.RawTransferLog {
	return chain.RawTransferLog{
		Sender:      sender,
		Recipient:   "0x00000000000000000000000000000000000000aa",
		RawAmount:   new(big.Int).Mul(big.NewInt(usdc), big.NewInt(1_000_000)),
		TxHash:      hash,
		BlockNumber: block,
	}
}

func seedLedger(t *testing.T, ledger *memory.TransferStore, logs ...chain.RawTransferLog) {
	t.Helper()
	batch := make([]*model.Transfer, 0, len(logs))
	for _, l := range logs {
		tr := normalizer.ToTransfer(l, time.Unix(1_700_000_000, 0), true)
		batch = append(batch, &tr)
	}
	_, err := ledger.BulkUpsert(context.Background(), batch)
	require.NoError(t, err)
}

func newTestService(fetch ChunkFetcher, ledger *memory.TransferStore, alerter alert.Alerter, opts ...Option) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(fetch, ledger, model.ChainBase, model.NetworkMainnet, alerter, logger, opts...)
}

func TestReconcile_AllMatched(t *testing.T) {
	logs := []chain.RawTransferLog{
		rawLog("0xa1", 100, "0xAAA", 10),
		rawLog("0xa2", 150, "0xbbb", 20),
	}
	ledger := memory.NewTransferStore()
	seedLedger(t, ledger, logs...)
	alerter := &recordingAlerter{}

	svc := newTestService(&fakeFetcher{logs: logs}, ledger, alerter)
	result, err := svc.Reconcile(context.Background(), 100, 200)
	require.NoError(t, err)

	assert.False(t, result.HasMismatch())
	assert.Equal(t, 2, result.OnChain)
	assert.Equal(t, 2, result.Ledger)
	assert.Equal(t, 2, result.Matched)
	assert.Empty(t, alerter.alerts)
	assert.Equal(t, "base", result.Chain)
}

func TestReconcile_DetectsMissingExtraAndDivergent(t *testing.T) {
	onChain := []chain.RawTransferLog{
		rawLog("0xa1", 100, "0xaaa", 10),
		rawLog("0xa2", 110, "0xbbb", 20),
		rawLog("0xa3", 120, "0xccc", 30),
	}
	ledger := memory.NewTransferStore()
	seedLedger(t, ledger,
		rawLog("0xa1", 100, "0xaaa", 10),
		rawLog("0xa2", 110, "0xbbb", 25),
		rawLog("0xa9", 130, "0xddd", 5),
	)
	alerter := &recordingAlerter{}

	svc := newTestService(&fakeFetcher{logs: onChain}, ledger, alerter)
	result, err := svc.Reconcile(context.Background(), 100, 200)
	require.NoError(t, err)

	require.True(t, result.HasMismatch())
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, []string{"0xa3"}, result.Missing)
	assert.Equal(t, []string{"0xa9"}, result.Extra)
	require.Len(t, result.Divergent, 1)
	assert.Equal(t, Divergence{TxHash: "0xa2", Field: "amount", ChainValue: "20", LedgerValue: "25"}, result.Divergent[0])

	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, alert.AlertTypeReconcileMismatch, alerter.alerts[0].Type)
	assert.Equal(t, "100", alerter.alerts[0].Fields["from_block"])
}

func TestReconcile_IgnoresLedgerOutsideRange(t *testing.T) {
	ledger := memory.NewTransferStore()
	seedLedger(t, ledger,
		rawLog("0xbefore", 99, "0xaaa", 1),
		rawLog("0xinside", 150, "0xaaa", 2),
		rawLog("0xafter", 201, "0xaaa", 3),
	)
	fetch := &fakeFetcher{logs: []chain.RawTransferLog{rawLog("0xinside", 150, "0xaaa", 2)}}

	svc := newTestService(fetch, ledger, nil, WithPageSize(1))
	result, err := svc.Reconcile(context.Background(), 100, 200)
	require.NoError(t, err)

	assert.False(t, result.HasMismatch())
	assert.Equal(t, 1, result.Ledger)
}

func TestReconcile_IncludesFirstBlock(t *testing.T) {
	ledger := memory.NewTransferStore()
	seedLedger(t, ledger, rawLog("0xedge", 100, "0xaaa", 1))

	svc := newTestService(&fakeFetcher{}, ledger, nil)
	result, err := svc.Reconcile(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xedge"}, result.Extra)
}

func TestReconcile_ChunksRange(t *testing.T) {
	fetch := &fakeFetcher{}
	svc := newTestService(fetch, memory.NewTransferStore(), nil, WithChunkSize(10))

	_, err := svc.Reconcile(context.Background(), 0, 24)
	require.NoError(t, err)
	assert.Equal(t, []chunkRange{{0, 9}, {10, 19}, {20, 24}}, fetch.calls)
}

func TestReconcile_DuplicateHashLastWins(t *testing.T) {
	fetch := &fakeFetcher{logs: []chain.RawTransferLog{
		rawLog("0xdup", 100, "0xaaa", 1),
		rawLog("0xdup", 100, "0xaaa", 7),
	}}
	ledger := memory.NewTransferStore()
	seedLedger(t, ledger, rawLog("0xdup", 100, "0xaaa", 7))

	result, err := newTestService(fetch, ledger, nil).Reconcile(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.False(t, result.HasMismatch())
	assert.Equal(t, 1, result.OnChain)
}

func TestReconcile_InvalidRange(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, memory.NewTransferStore(), nil, WithMaxRange(50))

	for _, r := range []chunkRange{{-1, 10}, {20, 10}, {0, 50}} {
		_, err := svc.Reconcile(context.Background(), r.from, r.to)
		assert.ErrorIs(t, err, ErrInvalidRange, "range %d..%d", r.from, r.to)
	}
	_, err := svc.Reconcile(context.Background(), 0, 49)
	assert.NoError(t, err)
}

func TestReconcile_FetchError(t *testing.T) {
	boom := errors.New("rpc down")
	svc := newTestService(&fakeFetcher{err: boom}, memory.NewTransferStore(), nil)

	_, err := svc.Reconcile(context.Background(), 1, 5)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fetch chunk 1..5")
}

func TestReconcile_LedgerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	transfers := mocks.NewMockTransferRepository(ctrl)
	boom := errors.New("db gone")
	transfers.EXPECT().ListPage(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, boom)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(&fakeFetcher{}, transfers, model.ChainBase, model.NetworkMainnet, nil, logger)

	_, err := svc.Reconcile(context.Background(), 1, 5)
	assert.ErrorIs(t, err, boom)
}

func TestCompare_AmountScaleIsNotDivergence(t *testing.T) {
	result := &Result{}
	a := model.Transfer{TxHash: "0x1", BlockNumber: 5, FromAddress: "0xa", Amount: decimal.RequireFromString("1.50")}
	b := model.Transfer{TxHash: "0x1", BlockNumber: 5, FromAddress: "0xa", Amount: decimal.RequireFromString("1.5")}

	compare(result, map[string]model.Transfer{"0x1": a}, map[string]model.Transfer{"0x1": b})
	assert.Equal(t, 1, result.Matched)
	assert.Empty(t, result.Divergent)
}
