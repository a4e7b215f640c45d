// Package planner adapts the remote language-model worker to the agent's
// Planner port.
package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
	"nestor/internal/workerpool"
)

// llmWorker is the logical name the pool registers the planner under.
const llmWorker = "llm"

// Remote calls the LLM worker's /complete endpoint.
type Remote struct {
	pool    *workerpool.Pool
	timeout time.Duration
	logger  logging.Logger
}

// NewRemote builds the adapter. timeout bounds one completion; the agent's
// remaining deadline still applies through the context.
func NewRemote(pool *workerpool.Pool, timeout time.Duration, logger logging.Logger) *Remote {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Remote{pool: pool, timeout: timeout, logger: logger}
}

type completeRequest struct {
	System   string          `json:"system"`
	Messages []ports.Message `json:"messages"`
}

type completeResponse struct {
	Text string `json:"text"`
}

// Complete sends the conversation to the worker and returns its raw text.
func (r *Remote) Complete(ctx context.Context, system string, messages []ports.Message) (string, error) {
	body, err := r.pool.Call(ctx, llmWorker, "/complete", http.MethodPost,
		completeRequest{System: system, Messages: messages}, r.timeout)
	if err != nil {
		return "", err
	}

	var resp completeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nerrors.Wrapf(nerrors.KindHandlerError, err, "decode planner response")
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", nerrors.New(nerrors.KindHandlerError, "planner returned an empty response")
	}
	return resp.Text, nil
}
