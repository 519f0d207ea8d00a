package domain

import "sync"

// Backend names reported by RuntimeConfig
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// RuntimeConfig records which backends were selected at startup.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	PendingBackend      string // "redis" or "memory"
	LockBackend         string // "redis" or "postgres"
	InvalidationBackend string // "redis" or "none"

	encryptionEnabled bool
}

// NewRuntimeConfig selects backends from whether Redis is configured.
func NewRuntimeConfig(redisEnabled bool) *RuntimeConfig {
	if redisEnabled {
		return &RuntimeConfig{
			PendingBackend:      BackendRedis,
			LockBackend:         BackendRedis,
			InvalidationBackend: BackendRedis,
		}
	}
	return &RuntimeConfig{
		PendingBackend:      BackendMemory,
		LockBackend:         BackendPostgres,
		InvalidationBackend: BackendNone,
	}
}

// EncryptionEnabled reports whether new credentials can be sealed.
func (c *RuntimeConfig) EncryptionEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encryptionEnabled
}

// SetEncryptionEnabled updates the encryption flag
func (c *RuntimeConfig) SetEncryptionEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encryptionEnabled = enabled
}

// MultiInstance reports whether state is shared across gateway instances.
func (c *RuntimeConfig) MultiInstance() bool {
	return c.PendingBackend != BackendMemory && c.InvalidationBackend != BackendNone
}

// RuntimeInfo is the wire view of RuntimeConfig
type RuntimeInfo struct {
	PendingBackend      string `json:"pendingBackend"`
	LockBackend         string `json:"lockBackend"`
	InvalidationBackend string `json:"invalidationBackend"`
	EncryptionEnabled   bool   `json:"encryptionEnabled"`
	MultiInstance       bool   `json:"multiInstance"`
}

// Info snapshots the configuration.
func (c *RuntimeConfig) Info() RuntimeInfo {
	return RuntimeInfo{
		PendingBackend:      c.PendingBackend,
		LockBackend:         c.LockBackend,
		InvalidationBackend: c.InvalidationBackend,
		EncryptionEnabled:   c.EncryptionEnabled(),
		MultiInstance:       c.MultiInstance(),
	}
}
