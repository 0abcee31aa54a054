package storage

import (
	"context"
	"sync"
	"time"

	"github.com/user/price-tracker/internal/domain"
)

// MemoryRunTracker is the single-process run tracker used when no Redis
// server is configured.
type MemoryRunTracker struct {
	mu       sync.Mutex
	lockedAt time.Time
	ttl      time.Duration
	locked   bool
	status   domain.RunStatus
	now      func() time.Time
}

func NewMemoryRunTracker() *MemoryRunTracker {
	return &MemoryRunTracker{
		status: domain.RunStatus{State: domain.RunIdle},
		now:    time.Now,
	}
}

func (m *MemoryRunTracker) Ping(ctx context.Context) error { return nil }

func (m *MemoryRunTracker) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked && (m.ttl <= 0 || m.now().Sub(m.lockedAt) < m.ttl) {
		return false, nil
	}
	m.locked = true
	m.lockedAt = m.now()
	m.ttl = ttl
	return true, nil
}

func (m *MemoryRunTracker) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		return false, nil
	}
	m.lockedAt = m.now()
	m.ttl = ttl
	return true, nil
}

func (m *MemoryRunTracker) Release(ctx context.Context) error {
	m.mu.Lock()
	m.locked = false
	m.mu.Unlock()
	return nil
}

func (m *MemoryRunTracker) SetStatus(ctx context.Context, status domain.RunStatus) error {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	return nil
}

func (m *MemoryRunTracker) Status(ctx context.Context) (domain.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}
