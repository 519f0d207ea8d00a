package domain

import (
	"sync"
	"testing"
)

func TestNewRuntimeConfig(t *testing.T) {
	withRedis := NewRuntimeConfig(true)
	if withRedis.PendingBackend != BackendRedis || withRedis.LockBackend != BackendRedis {
		t.Errorf("expected redis backends, got %+v", withRedis.Info())
	}
	if !withRedis.MultiInstance() {
		t.Error("expected multi-instance with redis")
	}

	single := NewRuntimeConfig(false)
	if single.PendingBackend != BackendMemory {
		t.Errorf("expected memory pending backend, got %s", single.PendingBackend)
	}
	if single.LockBackend != BackendPostgres {
		t.Errorf("expected postgres lock backend, got %s", single.LockBackend)
	}
	if single.MultiInstance() {
		t.Error("expected single instance without redis")
	}
}

func TestRuntimeConfig_EncryptionFlag(t *testing.T) {
	c := NewRuntimeConfig(false)
	if c.EncryptionEnabled() {
		t.Error("expected encryption disabled by default")
	}
	c.SetEncryptionEnabled(true)
	if !c.Info().EncryptionEnabled {
		t.Error("expected encryption enabled in info")
	}
}

func TestRuntimeConfig_ConcurrentAccess(t *testing.T) {
	c := NewRuntimeConfig(true)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.SetEncryptionEnabled(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			_ = c.Info()
		}()
	}
	wg.Wait()
}
