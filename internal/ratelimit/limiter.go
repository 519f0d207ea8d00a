// Package ratelimit implements per-connection sliding-window admission control.
//
// Each Limiter keeps a rolling log of request timestamps covering the last
// minute. A request is admitted when fewer than RequestsPerSecond requests
// fall within the last second and fewer than RequestsPerMinute within the
// last minute. The per-hour and burst fields of the policy are advisory:
// they are validated and reported in Stats but never gate admission.
package ratelimit

import (
	"sync"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

const (
	secondWindow = time.Second
	minuteWindow = time.Minute
)

// Limiter is a sliding-window counter for one connection. Safe for concurrent use.
type Limiter struct {
	connectionID string
	policy       domain.RateLimitPolicy
	now          func() time.Time

	mu  sync.Mutex
	log []time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter for a connection.
func New(connectionID string, policy domain.RateLimitPolicy, opts ...Option) *Limiter {
	l := &Limiter{
		connectionID: connectionID,
		policy:       policy,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the policy the limiter enforces.
func (l *Limiter) Policy() domain.RateLimitPolicy {
	return l.policy
}

// CheckLimit admits the request and records it, or returns a
// *domain.RateLimitError without recording anything.
func (l *Limiter) CheckLimit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if l.countSince(now.Add(-secondWindow)) >= l.policy.RequestsPerSecond {
		return &domain.RateLimitError{ConnectionID: l.connectionID, Window: secondWindow, Limit: l.policy.RequestsPerSecond}
	}
	if len(l.log) >= l.policy.RequestsPerMinute {
		return &domain.RateLimitError{ConnectionID: l.connectionID, Window: minuteWindow, Limit: l.policy.RequestsPerMinute}
	}

	l.log = append(l.log, now)
	return nil
}

// Stats reports current window usage.
type Stats struct {
	LastSecond      int                    `json:"lastSecond"`
	LastMinute      int                    `json:"lastMinute"`
	Policy          domain.RateLimitPolicy `json:"policy"`
	RemainingSecond int                    `json:"remainingSecond"`
	RemainingMinute int                    `json:"remainingMinute"`
	BurstHeadroom   int                    `json:"burstHeadroom"`
}

// Stats returns a snapshot of window usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	second := l.countSince(now.Add(-secondWindow))
	minute := len(l.log)

	return Stats{
		LastSecond:      second,
		LastMinute:      minute,
		Policy:          l.policy,
		RemainingSecond: max(l.policy.RequestsPerSecond-second, 0),
		RemainingMinute: max(l.policy.RequestsPerMinute-minute, 0),
		BurstHeadroom:   max(l.policy.BurstLimit-second, 0),
	}
}

// prune drops timestamps older than the minute window. The log is in
// insertion order, so a single scan from the front suffices.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-minuteWindow)
	i := 0
	for i < len(l.log) && !l.log[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.log = append(l.log[:0], l.log[i:]...)
	}
}

// countSince counts timestamps strictly after since.
func (l *Limiter) countSince(since time.Time) int {
	n := 0
	for i := len(l.log) - 1; i >= 0; i-- {
		if !l.log[i].After(since) {
			break
		}
		n++
	}
	return n
}
