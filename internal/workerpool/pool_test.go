package workerpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "nestor/internal/errors"
)

// plainClient avoids the breaker transport so tests exercise pool behavior
// in isolation.
func plainPool(t *testing.T, concurrency int) *Pool {
	t.Helper()
	return New(&http.Client{}, concurrency, nil)
}

func TestRegisterAndDeregister(t *testing.T) {
	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("executor", "http://127.0.0.1:1"))
	assert.Error(t, p.RegisterWorker("executor", "http://127.0.0.1:2"), "names are unique")
	require.NoError(t, p.Deregister("executor"))
	assert.Error(t, p.Deregister("executor"))
}

func TestCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exec", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("executor", srv.URL))

	body, err := p.Call(context.Background(), "executor", "/exec", http.MethodPost, map[string]any{"command": "ls"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestCallUnknownWorker(t *testing.T) {
	p := plainPool(t, 4)
	_, err := p.Call(context.Background(), "ghost", "/x", http.MethodGet, nil, time.Second)
	assert.True(t, nerrors.IsKind(err, nerrors.KindRemoteUnavailable))
}

func TestHTTPErrorIsHandlerErrorAndNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("executor", srv.URL))

	_, err := p.Call(context.Background(), "executor", "/exec", http.MethodPost, nil, time.Second)
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindHandlerError))
	assert.Contains(t, err.Error(), "bad payload", "upstream body is propagated")
	assert.Equal(t, int32(1), calls.Load(), "application errors are not retried")
}

func TestTransportFailureRetriedExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Kill the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("llm", srv.URL))

	body, err := p.Call(context.Background(), "llm", "/complete", http.MethodPost, map[string]string{"q": "hi"}, 5*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnreachableWorkerMapsToRemoteUnavailable(t *testing.T) {
	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("down", "http://127.0.0.1:1"))

	_, err := p.Call(context.Background(), "down", "/x", http.MethodGet, nil, 2*time.Second)
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindRemoteUnavailable))
}

func TestSaturationFailsFast(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	defer close(release)

	p := plainPool(t, 1)
	require.NoError(t, p.RegisterWorker("slow", srv.URL))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Call(context.Background(), "slow", "/x", http.MethodGet, nil, 10*time.Second)
	}()
	// Wait until the in-flight call has reached the server (and so holds the
	// worker's only concurrency slot) before probing for saturation.
	<-started

	var err error
	require.Eventually(t, func() bool {
		_, err = p.Call(context.Background(), "slow", "/x", http.MethodGet, nil, time.Second)
		return err != nil && nerrors.IsKind(err, nerrors.KindRemoteUnavailable)
	}, 2*time.Second, 10*time.Millisecond)

	release <- struct{}{}
	wg.Wait()
}

func TestCallerTimeoutEnforced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("slow", srv.URL))

	start := time.Now()
	_, err := p.Call(context.Background(), "slow", "/x", http.MethodGet, nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindTimeout))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("connectors", srv.URL))
	require.NoError(t, p.RegisterWorker("down", "http://127.0.0.1:1"))

	assert.True(t, p.Health(context.Background(), "connectors"))
	assert.False(t, p.Health(context.Background(), "down"))

	var byName = map[string]Worker{}
	for _, w := range p.Workers() {
		byName[w.Name] = w
	}
	assert.Equal(t, HealthHealthy, byName["connectors"].LastHealth)
	assert.Equal(t, HealthUnreachable, byName["down"].LastHealth)
	assert.False(t, byName["connectors"].LastChecked.IsZero())
}

func TestHealthAllFansOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("up", srv.URL))
	require.NoError(t, p.RegisterWorker("down", "http://127.0.0.1:1"))

	results := p.HealthAll(context.Background())
	assert.Equal(t, map[string]bool{"up": true, "down": false}, results)
}

func TestCloseAllRejectsFurtherCalls(t *testing.T) {
	p := plainPool(t, 4)
	require.NoError(t, p.RegisterWorker("w", "http://127.0.0.1:1"))
	p.CloseAll()
	_, err := p.Call(context.Background(), "w", "/x", http.MethodGet, nil, time.Second)
	assert.True(t, nerrors.IsKind(err, nerrors.KindRemoteUnavailable))
	assert.Error(t, p.RegisterWorker("new", "http://127.0.0.1:2"))
}
