package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/pipeline"
	"github.com/emperorhan/cca-indexer/internal/store/memory"
	"github.com/emperorhan/cca-indexer/internal/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSecret = "hunter2"

type fakeSyncer struct {
	calls   []pipeline.SyncRequest
	summary *pipeline.Summary
	err     error
	ctxErr  error
}

func (f *fakeSyncer) Sync(ctx context.Context, req pipeline.SyncRequest) (*pipeline.Summary, error) {
	f.calls = append(f.calls, req)
	f.ctxErr = ctx.Err()
	return f.summary, f.err
}

type fakeHealth struct{ snap pipeline.HealthSnapshot }

func (f fakeHealth) Snapshot() pipeline.HealthSnapshot { return f.snap }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestSync_RejectsWrongSecret(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	for _, target := range []string{"/api/sync", "/api/sync?secret=nope", "/api/sync?secret=hunter22"} {
		rec := doGet(t, h, target)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Equal(t, "unauthorized", decode[errorResponse](t, rec).Error)
	}
	assert.Empty(t, syncer.calls)
}

func TestSync_EmptyConfiguredSecretRejectsEverything(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewServer(syncer, "", discardLogger()).Handler()

	rec := doGet(t, h, "/api/sync?secret=")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, syncer.calls)
}

func TestSync_ReturnsSummary(t *testing.T) {
	cp := int64(1050)
	syncer := &fakeSyncer{summary: &pipeline.Summary{
		Status:     pipeline.StatusDone,
		RunID:      "run-1",
		Checkpoint: &cp,
		CaughtUp:   true,
		Stage:      pipeline.StageDone,
	}}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	rec := doGet(t, h, "/api/sync?secret="+testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	got := decode[pipeline.Summary](t, rec)
	assert.Equal(t, pipeline.StatusDone, got.Status)
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, cp, *got.Checkpoint)
	require.Len(t, syncer.calls, 1)
	assert.Nil(t, syncer.calls[0].ResetTo)
}

func TestSync_ResetParameter(t *testing.T) {
	syncer := &fakeSyncer{summary: &pipeline.Summary{Status: pipeline.StatusDone}}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	rec := doGet(t, h, "/api/sync?secret="+testSecret+"&reset=24100000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, syncer.calls, 1)
	require.NotNil(t, syncer.calls[0].ResetTo)
	assert.Equal(t, int64(24100000), *syncer.calls[0].ResetTo)
}

func TestSync_InvalidReset(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	for _, v := range []string{"abc", "-1", "1.5"} {
		rec := doGet(t, h, "/api/sync?secret="+testSecret+"&reset="+v)
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
	}
	assert.Empty(t, syncer.calls)
}

func TestSync_Busy(t *testing.T) {
	syncer := &fakeSyncer{err: pipeline.ErrSyncInProgress}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	rec := doGet(t, h, "/api/sync?secret="+testSecret)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "in progress")
}

func TestSync_AbortedReturnsSummaryWith500(t *testing.T) {
	syncer := &fakeSyncer{
		summary: &pipeline.Summary{Status: pipeline.StatusAborted, Stage: pipeline.StagePersistingLedger, Error: "persist ledger: disk full"},
		err:     errors.New("persist ledger: disk full"),
	}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	rec := doGet(t, h, "/api/sync?secret="+testSecret)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decode[pipeline.Summary](t, rec)
	assert.Equal(t, pipeline.StatusAborted, got.Status)
	assert.Equal(t, pipeline.StagePersistingLedger, got.Stage)
	assert.Contains(t, got.Error, "disk full")
}

func TestSync_ErrorWithoutSummary(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("acquire sync lease: redis down")}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	rec := doGet(t, h, "/api/sync?secret="+testSecret)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "redis down")
}

func TestSync_DetachedFromClientCancel(t *testing.T) {
	syncer := &fakeSyncer{summary: &pipeline.Summary{Status: pipeline.StatusDone}}
	h := NewServer(syncer, testSecret, discardLogger()).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sync?secret="+testSecret, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, syncer.ctxErr)
}

func TestSync_MethodNotAllowed(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync?secret="+testSecret, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStats(t *testing.T) {
	stats := memory.NewStatsStore()
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithDashboardRepos(stats, memory.NewWalletStore()),
	).Handler()

	rec := doGet(t, h, "/api/stats")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, stats.Save(context.Background(), model.AuctionStats{
		TotalAmount:        decimal.NewFromInt(1500),
		TotalCount:         3,
		UniqueWallets:      2,
		LastProcessedBlock: 1050,
	}))
	rec = doGet(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.AuctionStats](t, rec)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, int64(2), got.UniqueWallets)
	assert.Equal(t, int64(1050), got.LastProcessedBlock)
}

func TestStats_RepositoryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	stats := mocks.NewMockStatsRepository(ctrl)
	stats.EXPECT().Get(gomock.Any()).Return(nil, errors.New("conn refused"))

	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithDashboardRepos(stats, memory.NewWalletStore()),
	).Handler()

	rec := doGet(t, h, "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "conn refused")
}

func TestReadEndpointsUnavailableWithoutRepos(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger()).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, h, "/api/stats").Code)
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, h, "/api/leaderboard").Code)
}

func seedWallets(t *testing.T) *memory.WalletStore {
	t.Helper()
	ws := memory.NewWalletStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, ws.ReplaceAll(context.Background(), []model.WalletAggregate{
		{Address: "0xaaa", TotalAmount: decimal.NewFromInt(300), TransferCount: 2, LastActivityAt: now, Rank: 1},
		{Address: "0xbbb", TotalAmount: decimal.NewFromInt(200), TransferCount: 1, LastActivityAt: now, Rank: 2},
		{Address: "0xccc", TotalAmount: decimal.NewFromInt(100), TransferCount: 1, LastActivityAt: now, Rank: 3},
	}))
	require.NoError(t, ws.SetAlias(context.Background(), "0xbbb", model.Alias{
		Status: model.AliasResolved, Name: "jesse.base.eth", Source: model.AliasSourceBasename,
	}))
	return ws
}

func TestLeaderboard(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithDashboardRepos(memory.NewStatsStore(), seedWallets(t)),
	).Handler()

	rec := doGet(t, h, "/api/leaderboard")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[leaderboardResponse](t, rec)
	assert.Equal(t, defaultLeaderboardLimit, got.Limit)
	require.Len(t, got.Wallets, 3)
	assert.Equal(t, "0xaaa", got.Wallets[0].Address)
	assert.Equal(t, "jesse.base.eth", got.Wallets[1].Alias.Name)

	rec = doGet(t, h, "/api/leaderboard?limit=1&offset=1")
	got = decode[leaderboardResponse](t, rec)
	require.Len(t, got.Wallets, 1)
	assert.Equal(t, "0xbbb", got.Wallets[0].Address)
	assert.Equal(t, 1, got.Offset)

	rec = doGet(t, h, "/api/leaderboard?q=JESSE")
	got = decode[leaderboardResponse](t, rec)
	require.Len(t, got.Wallets, 1)
	assert.Equal(t, "0xbbb", got.Wallets[0].Address)
	assert.Equal(t, "jesse", got.Query)

	rec = doGet(t, h, "/api/leaderboard?q=nobody")
	got = decode[leaderboardResponse](t, rec)
	assert.NotNil(t, got.Wallets)
	assert.Empty(t, got.Wallets)
}

func TestLeaderboard_LimitIsCapped(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithDashboardRepos(memory.NewStatsStore(), seedWallets(t)),
	).Handler()

	got := decode[leaderboardResponse](t, doGet(t, h, "/api/leaderboard?limit=100000"))
	assert.Equal(t, maxLeaderboardLimit, got.Limit)
}

func TestLeaderboard_InvalidParams(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithDashboardRepos(memory.NewStatsStore(), memory.NewWalletStore()),
	).Handler()

	for _, target := range []string{
		"/api/leaderboard?limit=0",
		"/api/leaderboard?limit=x",
		"/api/leaderboard?offset=-1",
		"/api/leaderboard?q=" + strings.Repeat("a", maxSearchLength+1),
	} {
		assert.Equal(t, http.StatusBadRequest, doGet(t, h, target).Code, target)
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithHealthProvider(fakeHealth{snap: pipeline.HealthSnapshot{Status: string(pipeline.HealthStatusHealthy)}}),
	).Handler()
	assert.Equal(t, http.StatusOK, doGet(t, h, "/healthz").Code)

	h = NewServer(&fakeSyncer{}, testSecret, discardLogger(),
		WithHealthProvider(fakeHealth{snap: pipeline.HealthSnapshot{Status: string(pipeline.HealthStatusUnhealthy), ConsecutiveFailures: 3}}),
	).Handler()
	rec := doGet(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 3, decode[pipeline.HealthSnapshot](t, rec).ConsecutiveFailures)
}
