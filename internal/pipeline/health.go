package pipeline

import (
	"sync"
	"time"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
)

type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive aborted runs
	// before the indexer reports itself unhealthy.
	DefaultUnhealthyThreshold = 3
)

// Health tracks the outcome of recent sync runs. A run that stopped early
// (throttled or a failed chunk) is degraded; repeated aborts are unhealthy.
type Health struct {
	mu                  sync.RWMutex
	chain               model.Chain
	network             model.Network
	status              HealthStatus
	consecutiveFailures int
	unhealthyThreshold  int
	lastRunID           string
	lastCheckpoint      *int64
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	nowFn               func() time.Time
}

func NewHealth(chain model.Chain, network model.Network) *Health {
	return &Health{
		chain:              chain,
		network:            network,
		status:             HealthStatusUnknown,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		nowFn:              time.Now,
	}
}

// RecordSuccess records a completed run and reports whether it ends a
// streak of aborted runs.
func (h *Health) RecordSuccess(runID string, checkpoint *int64, partial bool) (recovered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	recovered = h.consecutiveFailures > 0
	h.consecutiveFailures = 0
	h.lastRunID = runID
	h.lastSuccessAt = &now
	if checkpoint != nil {
		cp := *checkpoint
		h.lastCheckpoint = &cp
	}
	if partial {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
	return recovered
}

// RecordFailure records an aborted run. It returns true on the call that
// crosses the unhealthy threshold.
func (h *Health) RecordFailure(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	h.consecutiveFailures++
	h.lastRunID = runID
	h.lastFailureAt = &now
	if h.consecutiveFailures >= h.unhealthyThreshold {
		if h.status != HealthStatusUnhealthy {
			h.status = HealthStatusUnhealthy
			return true
		}
		return false
	}
	h.status = HealthStatusDegraded
	return false
}

func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Chain:               string(h.chain),
		Network:             string(h.network),
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastRunID:           h.lastRunID,
		LastCheckpoint:      h.lastCheckpoint,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
	}
}

// HealthSnapshot is a point-in-time view of sync health (JSON-safe).
type HealthSnapshot struct {
	Chain               string     `json:"chain"`
	Network             string     `json:"network"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRunID           string     `json:"last_run_id,omitempty"`
	LastCheckpoint      *int64     `json:"last_checkpoint,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}
