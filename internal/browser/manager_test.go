package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cdpilot/internal/cdp"
	"cdpilot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T, dial dialFunc) *Manager {
	t.Helper()
	cfg := config.DefaultConfig().Browser
	m := NewManager(cfg)
	m.dial = dial
	m.backoff = func() time.Duration { return 0 }
	t.Cleanup(func() { m.Close() })
	return m
}

func TestConnectSharesInflightDial(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	m := testManager(t, func(ctx context.Context, endpoint string, _ time.Duration) (*Connection, error) {
		calls.Add(1)
		<-release
		return newConnection(endpoint, config.BrowserConfig{}), nil
	})

	const callers = 8
	conns := make([]*Connection, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Connect(context.Background(), "http://127.0.0.1:9222/")
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	// Give every caller time to join the flight before it lands.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
	assert.Equal(t, "http://127.0.0.1:9222", conns[0].Endpoint)
}

func TestConnectReusesCachedConnection(t *testing.T) {
	var calls atomic.Int32
	m := testManager(t, func(ctx context.Context, endpoint string, _ time.Duration) (*Connection, error) {
		calls.Add(1)
		return newConnection(endpoint, config.BrowserConfig{}), nil
	})

	a, err := m.Connect(context.Background(), "http://127.0.0.1:9222")
	require.NoError(t, err)
	b, err := m.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), calls.Load())

	other, err := m.Connect(context.Background(), "http://127.0.0.1:9333")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, int32(2), calls.Load())
	select {
	case <-a.Done():
	default:
		t.Fatal("replaced connection was not closed")
	}
}

func TestConnectRedialsAfterDisconnect(t *testing.T) {
	var calls atomic.Int32
	m := testManager(t, func(ctx context.Context, endpoint string, _ time.Duration) (*Connection, error) {
		calls.Add(1)
		return newConnection(endpoint, config.BrowserConfig{}), nil
	})

	a, err := m.Connect(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := m.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), calls.Load())
}

func TestConnectRetriesWithGrowingTimeout(t *testing.T) {
	var timeouts []time.Duration
	m := testManager(t, func(ctx context.Context, endpoint string, timeout time.Duration) (*Connection, error) {
		timeouts = append(timeouts, timeout)
		if len(timeouts) < 3 {
			return nil, errors.New("connection refused")
		}
		return newConnection(endpoint, config.BrowserConfig{}), nil
	})

	_, err := m.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 7 * time.Second, 9 * time.Second}, timeouts)
}

func TestConnectGivesUpWithConnectionError(t *testing.T) {
	refused := errors.New("connection refused")
	var calls atomic.Int32
	m := testManager(t, func(ctx context.Context, endpoint string, _ time.Duration) (*Connection, error) {
		calls.Add(1)
		return nil, refused
	})

	_, err := m.Connect(context.Background(), "http://127.0.0.1:1")
	var connErr *cdp.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, "http://127.0.0.1:1", connErr.Endpoint)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConnectCallerCancelDoesNotAbortDial(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	m := testManager(t, func(ctx context.Context, endpoint string, _ time.Duration) (*Connection, error) {
		calls.Add(1)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return newConnection(endpoint, config.BrowserConfig{}), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Connect(ctx, "")
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return m.cached(m.Endpoint("")) != nil }, time.Second, 10*time.Millisecond)
	_, err := m.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPickPage(t *testing.T) {
	cases := []struct {
		name   string
		ids    []string
		target string
		want   int
		ok     bool
	}{
		{"no pages", nil, "", 0, false},
		{"first when unspecified", []string{"A", "B"}, "", 0, true},
		{"exact", []string{"A", "B"}, "B", 1, true},
		{"single page fallback", []string{"A"}, "Z", 0, true},
		{"unknown among many", []string{"A", "B"}, "Z", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := pickPage(tc.ids, tc.target)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestStorageRejectsBadRequestsBeforeConnecting(t *testing.T) {
	m := testManager(t, func(ctx context.Context, endpoint string, _ time.Duration) (*Connection, error) {
		t.Fatal("should not dial")
		return nil, nil
	})
	_, err := m.Storage(context.Background(), "", "", "disk", StorageGet, "", "")
	assert.ErrorContains(t, err, "local or session")
	_, err = m.Storage(context.Background(), "", "", "local", StorageSet, "", "v")
	assert.ErrorContains(t, err, "requires a key")
	_, err = m.Storage(context.Background(), "", "", "local", "purge", "", "")
	assert.ErrorContains(t, err, "unknown storage operation")
}
