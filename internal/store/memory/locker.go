package memory

import (
	"context"
	"sync"
	"time"

	"github.com/emperorhan/cca-indexer/internal/store"
	"github.com/google/uuid"
)

// Locker is a process-local store.Locker for single-instance deployments.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	nowFn  func() time.Time
}

type lease struct {
	token     string
	expiresAt time.Time
}

var _ store.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{leases: make(map[string]lease), nowFn: time.Now}
}

func (l *Locker) TryAcquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *Locker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}
