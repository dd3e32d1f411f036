package socket

import (
	"context"
	"sync"

	"chatclient-go/internal/config"
)

// Manager owns the single realtime connection of a running session. Screens
// reach the socket through Current instead of a shared mutable variable, and
// the lifecycle is tied explicitly to login (Initialize) and logout
// (Teardown).
type Manager struct {
	url string
	cfg config.WebSocketConfig

	mu   sync.Mutex
	conn *Conn
}

// NewManager creates a Manager for the given socket endpoint.
func NewManager(url string, cfg config.WebSocketConfig) *Manager {
	return &Manager{url: url, cfg: cfg}
}

// Initialize dials the socket with the session token and installs it as the
// current connection. An existing connection is closed first, keeping the
// one-connection-per-session invariant.
func (m *Manager) Initialize(ctx context.Context, token string) (*Conn, error) {
	conn, err := Dial(ctx, m.url, token, m.cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return conn, nil
}

// Current returns the live connection, or ok=false when none exists or the
// last one has closed underneath us.
func (m *Manager) Current() (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil || m.conn.Closed() {
		return nil, false
	}
	return m.conn, true
}

// Teardown closes and forgets the current connection. Idempotent.
func (m *Manager) Teardown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
