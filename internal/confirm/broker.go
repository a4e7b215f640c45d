package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
)

// Outcome is the lifecycle state of a confirmation request. Transitions go
// pending -> terminal exactly once; terminal states never change.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
)

// Mode selects how decisions reach the broker.
type Mode string

const (
	// ModeInteractive asks a prompt source synchronously.
	ModeInteractive Mode = "interactive"
	// ModeAsync stores the request and waits for an external Resolve call.
	ModeAsync Mode = "async"
	// ModeAuto approves everything. Developer mode only.
	ModeAuto Mode = "auto"
)

// Request is a snapshot of one confirmation question.
type Request struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	Action    string    `json:"action"`
	Risk      string    `json:"risk"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Outcome   Outcome   `json:"outcome"`
}

// ErrAlreadyResolved signals a duplicate delivery of a decision. Callers
// treat it as a no-op, not a failure.
var ErrAlreadyResolved = fmt.Errorf("confirmation already resolved")

// PromptFunc asks a human and reports approval. Used in interactive mode.
type PromptFunc func(req Request) (bool, error)

type pendingRequest struct {
	req  Request
	done chan Outcome
}

// resolvedRetention bounds how long terminal requests are kept so duplicate
// Resolve deliveries can be recognized.
const resolvedRetention = 5 * time.Minute

type resolvedRecord struct {
	outcome Outcome
	at      time.Time
}

// Broker carries confirmation questions to a human and returns the decision
// before a per-request deadline. Multiple requests may be pending at once,
// each with its own completion signal.
type Broker struct {
	mode    Mode
	timeout time.Duration
	prompt  PromptFunc
	logger  logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	resolved map[string]resolvedRecord
}

// NewBroker constructs a broker in the given mode. Auto-approve is loudly
// announced because it bypasses the human entirely.
func NewBroker(mode Mode, timeout time.Duration, prompt PromptFunc, logger logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Nop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if mode == ModeAuto {
		logger.Warn("Confirmation broker running in AUTO-APPROVE mode: every confirmable action will be approved without a human")
	}
	return &Broker{
		mode:     mode,
		timeout:  timeout,
		prompt:   prompt,
		logger:   logger,
		now:      time.Now,
		pending:  make(map[string]*pendingRequest),
		resolved: make(map[string]resolvedRecord),
	}
}

// Mode reports the construction-time mode, surfaced in audit entries.
func (b *Broker) Mode() Mode { return b.mode }

// Ask creates a confirmation request and blocks until a terminal outcome,
// the per-request timeout, or context cancellation. The returned request
// carries the terminal outcome.
func (b *Broker) Ask(ctx context.Context, principal, action, risk, reason string) (Request, error) {
	now := b.now()
	req := Request{
		ID:        uuid.NewString(),
		Principal: principal,
		Action:    action,
		Risk:      risk,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(b.timeout),
		Outcome:   OutcomePending,
	}

	switch b.mode {
	case ModeAuto:
		req.Outcome = OutcomeApproved
		b.remember(req.ID, OutcomeApproved)
		b.logger.Warn("Auto-approved %s for %s (risk=%s)", action, principal, risk)
		return req, nil
	case ModeInteractive:
		return b.askInteractive(req)
	default:
		return b.askAsync(ctx, req)
	}
}

func (b *Broker) askInteractive(req Request) (Request, error) {
	if b.prompt == nil {
		return req, nerrors.New(nerrors.KindInternal, "interactive confirmation requires a prompt source")
	}
	approved, err := b.prompt(req)
	if err != nil {
		req.Outcome = OutcomeRejected
		b.remember(req.ID, OutcomeRejected)
		return req, nil
	}
	if approved {
		req.Outcome = OutcomeApproved
	} else {
		req.Outcome = OutcomeRejected
	}
	b.remember(req.ID, req.Outcome)
	return req, nil
}

func (b *Broker) askAsync(ctx context.Context, req Request) (Request, error) {
	p := &pendingRequest{req: req, done: make(chan Outcome, 1)}

	b.mu.Lock()
	b.pending[req.ID] = p
	b.mu.Unlock()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case outcome := <-p.done:
		req.Outcome = outcome
		return req, nil
	case <-timer.C:
		b.expire(req.ID)
		req.Outcome = OutcomeExpired
		return req, nil
	case <-ctx.Done():
		b.expire(req.ID)
		req.Outcome = OutcomeExpired
		return req, ctx.Err()
	}
}

// Resolve delivers a decision from the external channel. Re-delivery against
// a terminal request returns ErrAlreadyResolved; unknown ids and expired
// requests return a validation error.
func (b *Broker) Resolve(id string, approved bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, done := b.resolved[id]; done {
		if rec.outcome == OutcomeExpired {
			return nerrors.Newf(nerrors.KindValidation, "confirmation request %s has expired", id)
		}
		return ErrAlreadyResolved
	}

	p, ok := b.pending[id]
	if !ok {
		return nerrors.Newf(nerrors.KindValidation, "unknown confirmation request %s", id)
	}
	if b.now().After(p.req.ExpiresAt) {
		b.terminateLocked(id, OutcomeExpired)
		return nerrors.Newf(nerrors.KindValidation, "confirmation request %s has expired", id)
	}

	outcome := OutcomeRejected
	if approved {
		outcome = OutcomeApproved
	}
	b.terminateLocked(id, outcome)
	return nil
}

// Pending snapshots non-terminal requests, reaping any that have expired.
// An empty principal matches everyone.
func (b *Broker) Pending(principal string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var out []Request
	for id, p := range b.pending {
		if now.After(p.req.ExpiresAt) {
			b.terminateLocked(id, OutcomeExpired)
			continue
		}
		if principal != "" && p.req.Principal != principal {
			continue
		}
		out = append(out, p.req)
	}
	b.reapResolvedLocked(now)
	return out
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; ok {
		b.terminateLocked(id, OutcomeExpired)
	}
}

// terminateLocked moves a pending request to a terminal outcome exactly once.
func (b *Broker) terminateLocked(id string, outcome Outcome) {
	p, ok := b.pending[id]
	if !ok {
		return
	}
	delete(b.pending, id)
	b.resolved[id] = resolvedRecord{outcome: outcome, at: b.now()}
	select {
	case p.done <- outcome:
	default:
	}
}

func (b *Broker) remember(id string, outcome Outcome) {
	b.mu.Lock()
	b.resolved[id] = resolvedRecord{outcome: outcome, at: b.now()}
	b.mu.Unlock()
}

func (b *Broker) reapResolvedLocked(now time.Time) {
	for id, rec := range b.resolved {
		if now.Sub(rec.at) > resolvedRetention {
			delete(b.resolved, id)
		}
	}
}
