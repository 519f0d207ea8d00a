package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

const (
	defaultPendingSweepInterval = 5 * time.Minute
	defaultRetentionInterval    = time.Hour
	defaultRequestLogRetention  = 30 * 24 * time.Hour
	defaultRetentionLockTTL     = 2 * time.Minute

	retentionLockName = "request-log-retention"
)

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	Pending     driven.PendingAuthorizationStore
	RequestLogs driven.RequestLogStore // Optional: enables request log retention
	Lock        driven.DistributedLock // Optional: one instance purges request logs at a time
	Logger      *slog.Logger

	PendingInterval   time.Duration // How often expired states are swept (default: 5m)
	RetentionInterval time.Duration // How often old request logs are purged (default: 1h)
	Retention         time.Duration // Request log age limit (default: 30 days)
	LockTTL           time.Duration // Retention lock lease, extended while a purge runs (default: 2m)

	Now func() time.Time
}

// Sweeper runs periodic housekeeping: expired pending authorizations and
// request log retention.
type Sweeper struct {
	pending     driven.PendingAuthorizationStore
	requestLogs driven.RequestLogStore
	lock        driven.DistributedLock
	logger      *slog.Logger

	pendingInterval   time.Duration
	retentionInterval time.Duration
	retention         time.Duration
	lockTTL           time.Duration
	now               func() time.Time

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

// NewSweeper creates a new sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		pending:           cfg.Pending,
		requestLogs:       cfg.RequestLogs,
		lock:              cfg.Lock,
		logger:            logger,
		pendingInterval:   cfg.PendingInterval,
		retentionInterval: cfg.RetentionInterval,
		retention:         cfg.Retention,
		lockTTL:           cfg.LockTTL,
		now:               cfg.Now,
	}
	if s.pendingInterval <= 0 {
		s.pendingInterval = defaultPendingSweepInterval
	}
	if s.retentionInterval <= 0 {
		s.retentionInterval = defaultRetentionInterval
	}
	if s.retention <= 0 {
		s.retention = defaultRequestLogRetention
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultRetentionLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start schedules the jobs. It returns once scheduling is set up.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	if s.pending != nil {
		if _, err := scheduler.Every(s.pendingInterval).Do(func() {
			_, _ = s.SweepPending(ctx)
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule pending sweep: %w", err)
		}
	}
	if s.requestLogs != nil {
		if _, err := scheduler.Every(s.retentionInterval).Do(func() {
			_, _ = s.PurgeRequestLogs(ctx)
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule request log retention: %w", err)
		}
	}

	scheduler.StartAsync()
	s.scheduler = scheduler
	s.cancel = cancel
	s.logger.Info("sweeper started",
		"pending_interval", s.pendingInterval,
		"retention_interval", s.retentionInterval,
		"retention", s.retention)
	return nil
}

// Stop halts all jobs.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
	s.cancel()
	s.scheduler = nil
	s.logger.Info("sweeper stopped")
}

// SweepPending removes expired pending authorizations.
func (s *Sweeper) SweepPending(ctx context.Context) (int, error) {
	n, err := s.pending.Sweep(ctx)
	if err != nil {
		s.logger.Error("failed to sweep pending authorizations", "error", err)
		return 0, err
	}
	if n > 0 {
		s.logger.Info("swept expired pending authorizations", "count", n)
	}
	return n, nil
}

// PurgeRequestLogs deletes request logs older than the retention period.
// With a lock configured, instances that don't hold it skip the run, and the
// holder keeps extending its lease until the purge finishes. Losing the lease
// cancels the purge.
func (s *Sweeper) PurgeRequestLogs(ctx context.Context) (int64, error) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, retentionLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire retention lock", "error", err)
			return 0, err
		}
		if !acquired {
			s.logger.Debug("retention lock held by another instance, skipping")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), retentionLockName); err != nil {
				s.logger.Warn("failed to release retention lock", "error", err)
			}
		}()

		var stop context.CancelFunc
		ctx, stop = context.WithCancel(ctx)
		defer stop()
		go s.keepLease(ctx, stop)
	}

	cutoff := s.now().Add(-s.retention)
	n, err := s.requestLogs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge request logs", "error", err)
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged request logs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// keepLease extends the retention lock every half lease until ctx ends.
func (s *Sweeper) keepLease(ctx context.Context, lost context.CancelFunc) {
	ticker := time.NewTicker(s.lockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.lock.Extend(ctx, retentionLockName, s.lockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("lost retention lock, cancelling purge", "error", err)
				lost()
				return
			}
		}
	}
}
