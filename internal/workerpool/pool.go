// Package workerpool multiplexes calls from tools and the agent to
// out-of-process workers (planner, executor, connectors, indexer, learning)
// over HTTP request/response semantics.
package workerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	nerrors "nestor/internal/errors"
	"nestor/internal/httpclient"
	"nestor/internal/logging"
)

// Health is a worker's last observed condition.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
	HealthUnknown     Health = "unknown"
)

// Worker is the public descriptor of one registered worker.
type Worker struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	LastHealth  Health    `json:"last_health"`
	LastChecked time.Time `json:"last_checked"`
}

type workerState struct {
	mu   sync.Mutex
	desc Worker
	sem  *semaphore.Weighted
}

// Pool is the service coordinator. Each worker gets a bounded concurrency
// budget; calls beyond it fail fast with RemoteUnavailable instead of
// queueing without bound.
type Pool struct {
	client        *http.Client
	logger        logging.Logger
	concurrency   int64
	healthTimeout time.Duration

	mu      sync.RWMutex
	workers map[string]*workerState
	closed  bool
}

// New creates a pool with the given per-worker concurrency limit. A nil
// client gets the breaker-aware default.
func New(client *http.Client, perWorkerConcurrency int, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.Nop()
	}
	if client == nil {
		client = httpclient.New(logger)
	}
	if perWorkerConcurrency <= 0 {
		perWorkerConcurrency = 8
	}
	return &Pool{
		client:        client,
		logger:        logger,
		concurrency:   int64(perWorkerConcurrency),
		healthTimeout: 5 * time.Second,
		workers:       make(map[string]*workerState),
	}
}

// SetHealthTimeout overrides the per-probe deadline used by Health.
func (p *Pool) SetHealthTimeout(d time.Duration) {
	if d > 0 {
		p.healthTimeout = d
	}
}

// RegisterWorker adds a worker under a unique logical name.
func (p *Pool) RegisterWorker(name, address string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(address) == "" {
		return nerrors.New(nerrors.KindValidation, "worker name and address must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nerrors.New(nerrors.KindRemoteUnavailable, "worker pool is shut down")
	}
	if _, exists := p.workers[name]; exists {
		return nerrors.Newf(nerrors.KindValidation, "worker %q is already registered", name)
	}
	p.workers[name] = &workerState{
		desc: Worker{Name: name, Address: strings.TrimRight(address, "/"), LastHealth: HealthUnknown},
		sem:  semaphore.NewWeighted(p.concurrency),
	}
	p.logger.Info("Registered worker %s at %s", name, address)
	return nil
}

// Deregister removes a worker. In-flight calls finish on their own.
func (p *Pool) Deregister(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.workers[name]; !exists {
		return nerrors.Newf(nerrors.KindValidation, "worker %q is not registered", name)
	}
	delete(p.workers, name)
	p.logger.Info("Deregistered worker %s", name)
	return nil
}

// Workers snapshots the registered descriptors, sorted by nothing in
// particular; callers needing order sort the copy.
func (p *Pool) Workers() []Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		w.mu.Lock()
		out = append(out, w.desc)
		w.mu.Unlock()
	}
	return out
}

// Health pings the worker's /health path and updates its descriptor.
func (p *Pool) Health(ctx context.Context, name string) bool {
	w, err := p.lookup(name)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()

	healthy := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.desc.Address+"/health", nil)
	if err == nil {
		resp, rerr := p.client.Do(req)
		if rerr == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			healthy = resp.StatusCode == http.StatusOK
		}
	}

	w.mu.Lock()
	w.desc.LastChecked = time.Now()
	if healthy {
		w.desc.LastHealth = HealthHealthy
	} else if w.desc.LastHealth == HealthHealthy {
		w.desc.LastHealth = HealthDegraded
	} else {
		w.desc.LastHealth = HealthUnreachable
	}
	w.mu.Unlock()
	return healthy
}

// HealthAll probes every registered worker concurrently and returns the
// per-worker result.
func (p *Pool) HealthAll(ctx context.Context) map[string]bool {
	workers := p.Workers()

	var mu sync.Mutex
	results := make(map[string]bool, len(workers))

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		name := w.Name
		g.Go(func() error {
			healthy := p.Health(ctx, name)
			mu.Lock()
			results[name] = healthy
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Call issues one request to a worker endpoint and returns the raw response
// body. Transport failures are retried at most once after a short fixed
// delay; HTTP-level errors are never retried and surface as HandlerError
// with the upstream body. The caller's timeout is never exceeded.
func (p *Pool) Call(ctx context.Context, name, endpoint, method string, body any, timeout time.Duration) ([]byte, error) {
	w, err := p.lookup(name)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if !w.sem.TryAcquire(1) {
		return nil, nerrors.Newf(nerrors.KindRemoteUnavailable, "worker %q is saturated", name)
	}
	defer w.sem.Release(1)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nerrors.Wrapf(nerrors.KindValidation, err, "encode request for %q", name)
		}
	}

	url := w.desc.Address + "/" + strings.TrimLeft(endpoint, "/")
	result, err := nerrors.RetryWithResultAndLog(ctx, nerrors.TransportRetryConfig(), func(ctx context.Context) ([]byte, error) {
		return p.roundTrip(ctx, w, method, url, payload)
	}, p.logger)
	if err != nil {
		// Raw transport errors come back unclassified.
		if nerrors.KindOf(err) == nerrors.KindInternal {
			return nil, nerrors.Wrapf(nerrors.KindRemoteUnavailable, err, "worker %q unreachable", name)
		}
		return nil, err
	}
	return result, nil
}

func (p *Pool) roundTrip(ctx context.Context, w *workerState, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nerrors.Wrapf(nerrors.KindValidation, err, "build request for %s", url)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nerrors.Wrap(nerrors.KindOf(ctx.Err()), fmt.Sprintf("call to %s interrupted", url), err)
		}
		p.markUnreachable(w)
		return nil, err // raw transport errors stay transient for the retry layer
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, nerrors.Wrapf(nerrors.KindRemoteUnavailable, err, "read response from %s", url)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		// An HTTP-level error means the worker answered. It is an
		// application failure, never retried, body propagated upstream.
		return nil, nerrors.Newf(nerrors.KindHandlerError, "worker %q rejected the call (%d): %s", w.desc.Name, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (p *Pool) markUnreachable(w *workerState) {
	w.mu.Lock()
	w.desc.LastHealth = HealthUnreachable
	w.desc.LastChecked = time.Now()
	w.mu.Unlock()
}

func (p *Pool) lookup(name string) (*workerState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, nerrors.New(nerrors.KindRemoteUnavailable, "worker pool is shut down")
	}
	w, ok := p.workers[name]
	if !ok {
		return nil, nerrors.Newf(nerrors.KindRemoteUnavailable, "no worker registered as %q", name)
	}
	return w, nil
}

// CloseAll stops accepting calls and drains pooled connections.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.client.CloseIdleConnections()
	p.logger.Info("Worker pool shut down")
}
