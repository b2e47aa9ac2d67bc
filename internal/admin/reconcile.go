package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/reconciliation"
)

// Reconciler compares a block range of the ledger with the chain.
// *reconciliation.Service satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, from, to int64) (*reconciliation.Result, error)
}

// WithReconciler enables /api/reconcile.
func WithReconciler(r Reconciler) ServerOption {
	return func(s *Server) { s.recon = r }
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.recon == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not available")
		return
	}

	q := r.URL.Query()
	from, fromErr := parseBlock(q.Get(fromParam))
	to, toErr := parseBlock(q.Get(toParam))
	if fromErr != nil || toErr != nil {
		writeError(w, http.StatusBadRequest, "from and to must be non-negative block numbers")
		return
	}

	result, err := s.recon.Reconcile(r.Context(), from, to)
	switch {
	case errors.Is(err, reconciliation.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("reconciliation failed", "from_block", from, "to_block", to, "error", err)
		writeError(w, http.StatusBadGateway, "reconciliation failed")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func parseBlock(raw string) (int64, error) {
	block, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if block < 0 {
		return 0, strconv.ErrRange
	}
	return block, nil
}
