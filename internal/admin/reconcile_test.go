package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/emperorhan/cca-indexer/internal/reconciliation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	from, to int64
	calls    int
	result   *reconciliation.Result
	err      error
}

func (f *fakeReconciler) Reconcile(_ context.Context, from, to int64) (*reconciliation.Result, error) {
	f.calls++
	f.from, f.to = from, to
	return f.result, f.err
}

func TestReconcile_ReturnsResult(t *testing.T) {
	recon := &fakeReconciler{result: &reconciliation.Result{FromBlock: 10, ToBlock: 20, Matched: 3, Missing: []string{"0xabc"}}}
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(), WithReconciler(recon)).Handler()

	rec := doGet(t, h, "/api/reconcile?secret="+testSecret+"&from=10&to=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(10), recon.from)
	assert.Equal(t, int64(20), recon.to)

	got := decode[reconciliation.Result](t, rec)
	assert.Equal(t, 3, got.Matched)
	assert.Equal(t, []string{"0xabc"}, got.Missing)
}

func TestReconcile_RequiresSecret(t *testing.T) {
	recon := &fakeReconciler{}
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(), WithReconciler(recon)).Handler()

	assert.Equal(t, http.StatusUnauthorized, doGet(t, h, "/api/reconcile?from=1&to=2").Code)
	assert.Zero(t, recon.calls)
}

func TestReconcile_Unavailable(t *testing.T) {
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger()).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, h, "/api/reconcile?secret="+testSecret+"&from=1&to=2").Code)
}

func TestReconcile_BadParams(t *testing.T) {
	recon := &fakeReconciler{}
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(), WithReconciler(recon)).Handler()

	for _, q := range []string{"from=1", "to=2", "from=-1&to=2", "from=a&to=2", "from=1&to=2.5"} {
		rec := doGet(t, h, "/api/reconcile?secret="+testSecret+"&"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Zero(t, recon.calls)
}

func TestReconcile_InvalidRangeIs400(t *testing.T) {
	recon := &fakeReconciler{err: fmt.Errorf("%w: 20..10", reconciliation.ErrInvalidRange)}
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(), WithReconciler(recon)).Handler()

	rec := doGet(t, h, "/api/reconcile?secret="+testSecret+"&from=20&to=10")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "invalid reconciliation range")
}

func TestReconcile_UpstreamFailureHidesDetail(t *testing.T) {
	recon := &fakeReconciler{err: errors.New("dial tcp 10.0.0.5:8545: refused")}
	h := NewServer(&fakeSyncer{}, testSecret, discardLogger(), WithReconciler(recon)).Handler()

	rec := doGet(t, h, "/api/reconcile?secret="+testSecret+"&from=1&to=2")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "reconciliation failed", decode[errorResponse](t, rec).Error)
}
