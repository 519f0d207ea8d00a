package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// Default retry configuration
const (
	defaultInitialBackoff = 1000 * time.Millisecond
	maxResponseBody       = 10 << 20
)

// Client builds and sends requests for one connection. Authentication is
// injected by the client per attempt.
type Client interface {
	NewRequest(ctx context.Context, spec domain.RequestSpec) (*http.Request, error)
	Do(req *http.Request) (*http.Response, error)
}

// Result is a successful (2xx) response with its body fully read.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Attempt describes one try, reported whether it succeeded or not.
type Attempt struct {
	Number     int
	StatusCode int
	Duration   time.Duration
	Err        error
}

// AttemptFunc observes attempts. It must not block for long.
type AttemptFunc func(Attempt)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher executes requests with exponential backoff.
type Dispatcher struct {
	initialBackoff time.Duration
	sleep          SleepFunc
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithInitialBackoff sets the delay before the first retry
func WithInitialBackoff(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.initialBackoff = d
		}
	}
}

// WithSleep replaces the backoff sleeper
func WithSleep(fn SleepFunc) Option {
	return func(dp *Dispatcher) {
		if fn != nil {
			dp.sleep = fn
		}
	}
}

// NewDispatcher creates a dispatcher with the given options
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		initialBackoff: defaultInitialBackoff,
		sleep:          contextSleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute sends spec through client until it succeeds, fails with a
// non-retryable error, or exhausts policy.MaxRetries retries. The last error
// is returned on failure.
func (d *Dispatcher) Execute(ctx context.Context, client Client, spec domain.RequestSpec, policy domain.RetryPolicy, onAttempt AttemptFunc) (*Result, error) {
	spec.Normalize()
	backoff := d.initialBackoff
	maxBackoff := time.Duration(policy.MaxBackoffMs) * time.Millisecond

	for attempt := 0; ; attempt++ {
		start := time.Now()
		res, status, err := d.attempt(ctx, client, spec)
		if onAttempt != nil {
			onAttempt(Attempt{
				Number:     attempt + 1,
				StatusCode: status,
				Duration:   time.Since(start),
				Err:        err,
			})
		}
		if err == nil {
			res.Attempts = attempt + 1
			return res, nil
		}

		if ctx.Err() != nil || !isRetryable(err, policy) {
			return nil, err
		}
		if attempt >= policy.MaxRetries {
			return nil, err
		}

		wait := backoff
		if maxBackoff > 0 && wait > maxBackoff {
			wait = maxBackoff
		}
		if sleepErr := d.sleep(ctx, wait); sleepErr != nil {
			return nil, fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, err)
		}
		backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
	}
}

// attempt performs one request under its own timeout.
func (d *Dispatcher) attempt(ctx context.Context, client Client, spec domain.RequestSpec) (*Result, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	req, err := client.NewRequest(attemptCtx, spec)
	if err != nil {
		return nil, 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, &domain.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, &domain.TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &domain.UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Header:     resp.Header,
		}
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, resp.StatusCode, nil
}

// isRetryable allows transport failures and listed status codes only.
func isRetryable(err error, policy domain.RetryPolicy) bool {
	var statusErr *domain.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return policy.IsRetryable(statusErr.StatusCode)
	}
	var transportErr *domain.TransportError
	return errors.As(err, &transportErr)
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
