// Package httpclient provides the HTTP client shared by every outbound
// call to a worker: a breaker-aware transport over per-host circuit
// breakers, with connection pooling tuned for many small JSON requests.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"

	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
)

// BreakerTransport wraps a RoundTripper with one circuit breaker per host.
// Transport failures and 5xx responses count against the host; any other
// response counts as a success.
type BreakerTransport struct {
	base   http.RoundTripper
	config nerrors.CircuitBreakerConfig
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*nerrors.CircuitBreaker
}

// NewBreakerTransport wraps base (nil means a pooled default transport).
func NewBreakerTransport(base http.RoundTripper, config nerrors.CircuitBreakerConfig, logger logging.Logger) *BreakerTransport {
	if base == nil {
		base = defaultTransport()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &BreakerTransport{
		base:     base,
		config:   config,
		logger:   logger,
		breakers: make(map[string]*nerrors.CircuitBreaker),
	}
}

func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	breaker := t.breakerFor(req.URL.Host)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		breaker.Mark(err)
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		breaker.Mark(nerrors.Newf(nerrors.KindRemoteUnavailable, "%s answered %d", req.URL.Host, resp.StatusCode))
	} else {
		breaker.Mark(nil)
	}
	return resp, nil
}

func (t *BreakerTransport) breakerFor(host string) *nerrors.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[host]
	if !ok {
		b = nerrors.NewCircuitBreaker(host, t.config)
		t.breakers[host] = b
	}
	return b
}

// CloseIdleConnections drains pooled connections on shutdown.
func (t *BreakerTransport) CloseIdleConnections() {
	if closer, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// New builds the standard worker-facing client. The per-call timeout is
// enforced through request contexts, not here, so the client timeout only
// backstops runaway response bodies.
func New(logger logging.Logger) *http.Client {
	return &http.Client{
		Transport: NewBreakerTransport(nil, nerrors.DefaultCircuitBreakerConfig(), logger),
		Timeout:   2 * time.Minute,
	}
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}
