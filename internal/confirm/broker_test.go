package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "nestor/internal/errors"
)

func asyncBroker(timeout time.Duration) *Broker {
	return NewBroker(ModeAsync, timeout, nil, nil)
}

func TestAsyncApproval(t *testing.T) {
	b := asyncBroker(5 * time.Second)

	type result struct {
		req Request
		err error
	}
	ch := make(chan result, 1)
	go func() {
		req, err := b.Ask(context.Background(), "alice", "close_app", "medium", "closing Safari")
		ch <- result{req, err}
	}()

	// Wait for the request to become visible, then approve it.
	var pending []Request
	require.Eventually(t, func() bool {
		pending = b.Pending("")
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Resolve(pending[0].ID, true))

	r := <-ch
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeApproved, r.req.Outcome)
	assert.Empty(t, b.Pending(""), "terminal requests leave the pending set")
}

func TestAsyncRejection(t *testing.T) {
	b := asyncBroker(5 * time.Second)
	ch := make(chan Request, 1)
	go func() {
		req, _ := b.Ask(context.Background(), "alice", "run_terminal", "high", "running git status")
		ch <- req
	}()

	var pending []Request
	require.Eventually(t, func() bool {
		pending = b.Pending("alice")
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Resolve(pending[0].ID, false))
	assert.Equal(t, OutcomeRejected, (<-ch).Outcome)
}

func TestAsyncTimeoutExpires(t *testing.T) {
	b := asyncBroker(20 * time.Millisecond)
	req, err := b.Ask(context.Background(), "alice", "open_app", "low", "opening Notes")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, req.Outcome)
}

func TestResolveTwiceIsNoOp(t *testing.T) {
	b := asyncBroker(5 * time.Second)
	go b.Ask(context.Background(), "alice", "close_app", "medium", "r")

	var pending []Request
	require.Eventually(t, func() bool {
		pending = b.Pending("")
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)

	id := pending[0].ID
	require.NoError(t, b.Resolve(id, true))
	assert.ErrorIs(t, b.Resolve(id, true), ErrAlreadyResolved)
	assert.ErrorIs(t, b.Resolve(id, false), ErrAlreadyResolved)
}

func TestResolveUnknownID(t *testing.T) {
	b := asyncBroker(time.Second)
	err := b.Resolve("no-such-id", true)
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))
}

func TestExpiredRequestNeverResurrects(t *testing.T) {
	b := asyncBroker(time.Hour)
	base := time.Now()
	b.now = func() time.Time { return base }

	go b.Ask(context.Background(), "alice", "close_app", "medium", "r")
	var pending []Request
	require.Eventually(t, func() bool {
		pending = b.Pending("")
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)

	// Jump past the deadline: the first observation moves it to expired.
	b.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Empty(t, b.Pending(""))

	err := b.Resolve(pending[0].ID, true)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyResolved)
}

func TestAutoModeApprovesImmediately(t *testing.T) {
	b := NewBroker(ModeAuto, time.Second, nil, nil)
	req, err := b.Ask(context.Background(), "alice", "close_app", "medium", "r")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, req.Outcome)
}

func TestInteractiveMode(t *testing.T) {
	approve := func(req Request) (bool, error) { return true, nil }
	b := NewBroker(ModeInteractive, time.Second, approve, nil)
	req, err := b.Ask(context.Background(), "alice", "close_app", "medium", "r")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, req.Outcome)

	deny := func(req Request) (bool, error) { return false, nil }
	b = NewBroker(ModeInteractive, time.Second, deny, nil)
	req, err = b.Ask(context.Background(), "alice", "close_app", "medium", "r")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, req.Outcome)
}

func TestContextCancellationExpiresRequest(t *testing.T) {
	b := asyncBroker(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	req, err := b.Ask(ctx, "alice", "close_app", "medium", "r")
	assert.Error(t, err)
	assert.Equal(t, OutcomeExpired, req.Outcome)
}
