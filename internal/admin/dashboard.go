package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

const (
	defaultLeaderboardLimit = 100
	maxLeaderboardLimit     = 500
	maxSearchLength         = 64
)

type leaderboardResponse struct {
	Wallets []model.WalletAggregate `json:"wallets"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
	Query   string                  `json:"q,omitempty"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.wallets == nil {
		writeError(w, http.StatusServiceUnavailable, "leaderboard not available")
		return
	}

	q, ok := parseLeaderboardQuery(w, r)
	if !ok {
		return
	}

	wallets, err := s.wallets.ListTop(r.Context(), q)
	if err != nil {
		s.logger.Error("list leaderboard failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if wallets == nil {
		wallets = []model.WalletAggregate{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Wallets: wallets,
		Limit:   q.Limit,
		Offset:  q.Offset,
		Query:   q.Search,
	})
}

// parseLeaderboardQuery reads limit, offset and q. It writes a 400 and
// returns false on invalid input.
func parseLeaderboardQuery(w http.ResponseWriter, r *http.Request) (store.LeaderboardQuery, bool) {
	values := r.URL.Query()
	q := store.LeaderboardQuery{Limit: defaultLeaderboardLimit}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return q, false
		}
		q.Limit = min(n, maxLeaderboardLimit)
	}
	if v := values.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return q, false
		}
		q.Offset = n
	}

	search := strings.ToLower(strings.TrimSpace(values.Get("q")))
	if len(search) > maxSearchLength {
		writeError(w, http.StatusBadRequest, "q is too long")
		return q, false
	}
	q.Search = search
	return q, true
}
