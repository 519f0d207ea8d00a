package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

// scriptedClient returns canned statuses in order; the last repeats.
type scriptedClient struct {
	mu       sync.Mutex
	statuses []int
	errs     []error
	calls    int
}

func (c *scriptedClient) NewRequest(ctx context.Context, spec domain.RequestSpec) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, spec.Method, "http://upstream.test"+spec.Endpoint, nil)
}

func (c *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	status := c.statuses[len(c.statuses)-1]
	if i < len(c.statuses) {
		status = c.statuses[i]
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}, nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testPolicy(maxRetries int, codes ...int) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:           maxRetries,
		BackoffMultiplier:    2,
		MaxBackoffMs:         3000,
		RetryableStatusCodes: codes,
	}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	d := NewDispatcher(WithSleep(sleeper.Sleep))
	client := &scriptedClient{statuses: []int{503, 503, 200}}

	var attempts []Attempt
	res, err := d.Execute(context.Background(), client, domain.RequestSpec{Endpoint: "/items"}, testPolicy(2, 502, 503), func(a Attempt) {
		attempts = append(attempts, a)
	})

	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, client.calls)
	require.Len(t, attempts, 3)
	assert.Equal(t, 503, attempts[0].StatusCode)
	assert.Error(t, attempts[0].Err)
	assert.Equal(t, 200, attempts[2].StatusCode)
	assert.NoError(t, attempts[2].Err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestDispatcher_ExhaustsRetries(t *testing.T) {
	sleeper := &recordingSleeper{}
	d := NewDispatcher(WithSleep(sleeper.Sleep))
	client := &scriptedClient{statuses: []int{503, 503, 503, 200}}

	_, err := d.Execute(context.Background(), client, domain.RequestSpec{Endpoint: "/items"}, testPolicy(2, 502, 503), nil)

	var statusErr *domain.UpstreamStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 503, statusErr.StatusCode)
	assert.Equal(t, 3, client.calls)
}

func TestDispatcher_NonRetryableStatus(t *testing.T) {
	sleeper := &recordingSleeper{}
	d := NewDispatcher(WithSleep(sleeper.Sleep))
	client := &scriptedClient{statuses: []int{400, 200}}

	_, err := d.Execute(context.Background(), client, domain.RequestSpec{Endpoint: "/items"}, testPolicy(2, 502, 503), nil)

	var statusErr *domain.UpstreamStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 400, statusErr.StatusCode)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, sleeper.waits)
}

func TestDispatcher_TransportErrorsAreRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	d := NewDispatcher(WithSleep(sleeper.Sleep))
	client := &scriptedClient{
		statuses: []int{0, 200},
		errs:     []error{errors.New("connection reset by peer")},
	}

	res, err := d.Execute(context.Background(), client, domain.RequestSpec{}, testPolicy(1), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestDispatcher_BackoffIsCapped(t *testing.T) {
	sleeper := &recordingSleeper{}
	d := NewDispatcher(WithSleep(sleeper.Sleep))
	client := &scriptedClient{statuses: []int{500}}

	policy := testPolicy(4, 500)
	policy.MaxBackoffMs = 2500

	_, err := d.Execute(context.Background(), client, domain.RequestSpec{}, policy, nil)

	require.Error(t, err)
	assert.Equal(t, 5, client.calls)
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		2500 * time.Millisecond,
		2500 * time.Millisecond,
	}, sleeper.waits)
}

func TestDispatcher_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	client := &scriptedClient{statuses: []int{503}}

	_, err := d.Execute(ctx, client, domain.RequestSpec{}, testPolicy(3, 503), nil)

	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestDispatcher_AttemptTimeoutIsRetryable(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &httpClient{base: srv.URL, http: srv.Client()}
	d := NewDispatcher(WithInitialBackoff(time.Millisecond))

	res, err := d.Execute(context.Background(), client, domain.RequestSpec{Timeout: 50 * time.Millisecond}, testPolicy(1), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

type httpClient struct {
	base string
	http *http.Client
}

func (c *httpClient) NewRequest(ctx context.Context, spec domain.RequestSpec) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, spec.Method, c.base+spec.Endpoint, nil)
}

func (c *httpClient) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}
