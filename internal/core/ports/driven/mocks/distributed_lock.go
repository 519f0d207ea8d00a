package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDistributedLock is an in-memory DistributedLock that records how the
// sweeper uses it.
type MockDistributedLock struct {
	mu      sync.Mutex
	holders map[string]time.Time // name -> expiry
	ours    map[string]bool

	// AcquireErr makes every Acquire call fail
	AcquireErr error
	// ExtendErr makes every Extend call fail
	ExtendErr error
	// PingErr is returned by Ping
	PingErr error

	Acquired []string
	Released []string
	Extended []string

	Now func() time.Time
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		holders: make(map[string]time.Time),
		ours:    make(map[string]bool),
		Now:     time.Now,
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}
	if expiry, ok := m.holders[name]; ok && m.Now().Before(expiry) {
		return false, nil
	}
	m.holders[name] = m.Now().Add(ttl)
	m.ours[name] = true
	m.Acquired = append(m.Acquired, name)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ours[name] {
		delete(m.holders, name)
		delete(m.ours, name)
	}
	m.Released = append(m.Released, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExtendErr != nil {
		return m.ExtendErr
	}
	if !m.ours[name] {
		return fmt.Errorf("lock %s not held", name)
	}
	m.holders[name] = m.Now().Add(ttl)
	m.Extended = append(m.Extended, name)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return m.PingErr
}

// HoldElsewhere simulates another instance holding name for ttl.
func (m *MockDistributedLock) HoldElsewhere(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holders[name] = m.Now().Add(ttl)
	delete(m.ours, name)
}

// ExtendCount returns how many times a held lock was extended.
func (m *MockDistributedLock) ExtendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Extended)
}

// Held reports whether any instance currently holds name.
func (m *MockDistributedLock) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.holders[name]
	return ok && m.Now().Before(expiry)
}
