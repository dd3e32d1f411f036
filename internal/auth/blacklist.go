package auth

import (
	"context"
	"sync"
	"time"
)

// TokenBlacklist records revoked JWT IDs (JTIs) until their original expiry.
type TokenBlacklist interface {
	// Add revokes a JTI. originalTokenExpTime bounds how long the entry
	// needs to be remembered; an already-expired token is a no-op.
	Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error
	// IsBlacklisted reports whether a JTI has been revoked.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// memoryTokenBlacklist is the in-process TokenBlacklist used when no redis
// address is configured. Expired entries are pruned lazily on writes.
type memoryTokenBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiry
}

// NewMemoryTokenBlacklist creates an in-memory TokenBlacklist.
func NewMemoryTokenBlacklist() TokenBlacklist {
	return &memoryTokenBlacklist{revoked: make(map[string]time.Time)}
}

func (m *memoryTokenBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	if time.Until(originalTokenExpTime) <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, exp := range m.revoked {
		if exp.Before(now) {
			delete(m.revoked, id)
		}
	}
	m.revoked[jti] = originalTokenExpTime
	return nil
}

func (m *memoryTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if exp.Before(time.Now()) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}
