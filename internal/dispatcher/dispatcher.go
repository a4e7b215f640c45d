// Package dispatcher is the facade between the ingress API and the agent:
// it validates utterances, feeds the agent its history window, falls back to
// a rule-based reply when the planner is unreachable, and records the
// completed exchange.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"nestor/internal/agent/ports"
	"nestor/internal/contextstore"
	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
	"nestor/internal/observability"
)

// Runner is the slice of the agent engine the dispatcher needs.
type Runner interface {
	Run(ctx context.Context, principal, utterance string, history []ports.Message) ports.RunResult
}

// Response is the /command payload.
type Response struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	ActionsTaken []string       `json:"actions_taken"`
}

// Dispatcher owns the request lifecycle around one agent run.
type Dispatcher struct {
	runner       Runner
	store        *contextstore.Store
	metrics      *observability.Metrics
	logger       logging.Logger
	maxExchanges int
}

// New wires a dispatcher. maxExchanges bounds the history window handed to
// the planner.
func New(runner Runner, store *contextstore.Store, maxExchanges int, metrics *observability.Metrics, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	if maxExchanges <= 0 {
		maxExchanges = 50
	}
	return &Dispatcher{
		runner:       runner,
		store:        store,
		metrics:      metrics,
		logger:       logger,
		maxExchanges: maxExchanges,
	}
}

// Handle runs one utterance end to end. The returned error is non-nil only
// for request-level failures (empty utterance); agent-level failures are
// reported in the Response.
func (d *Dispatcher) Handle(ctx context.Context, principal, text string) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nerrors.New(nerrors.KindValidation, "text must not be empty")
	}
	if principal == "" {
		principal = "default"
	}

	start := time.Now()
	history := d.store.FormatHistory(principal, d.maxExchanges)
	result := d.runner.Run(ctx, principal, text, history)

	var resp *Response
	if result.Status == ports.RunFailed && result.ErrorKind == string(nerrors.KindRemoteUnavailable) {
		resp = d.fallback(text)
		d.logger.Warn("Planner unreachable for %s, used fallback reply", principal)
	} else {
		resp = responseFromRun(result)
	}

	d.store.AppendExchange(principal, text, resp.Message, actionRecords(result))
	d.metrics.ObserveCommand(statusLabel(result, resp), time.Since(start))
	return resp, nil
}

func responseFromRun(result ports.RunResult) *Response {
	actions := result.ActionsTaken()
	if actions == nil {
		actions = []string{}
	}

	switch result.Status {
	case ports.RunCompleted:
		return &Response{
			Success:      true,
			Message:      result.Answer,
			ActionsTaken: actions,
			Data:         map[string]any{"steps": len(result.Trace)},
		}
	case ports.RunIncomplete:
		message := "Je n'ai pas pu terminer à temps."
		if result.ErrorKind == "max_iterations" {
			message = "Je n'ai pas abouti en un nombre raisonnable d'étapes."
		}
		return &Response{
			Success:      false,
			Message:      message,
			ActionsTaken: actions,
			Data:         map[string]any{"error_kind": result.ErrorKind, "steps": len(result.Trace)},
		}
	default:
		return &Response{
			Success:      false,
			Message:      "Une erreur interne est survenue.",
			ActionsTaken: actions,
			Data:         map[string]any{"error_kind": result.ErrorKind},
		}
	}
}

func actionRecords(result ports.RunResult) []contextstore.ActionRecord {
	var records []contextstore.ActionRecord
	for _, step := range result.Trace {
		if step.Action == nil || step.Observation == nil {
			continue
		}
		records = append(records, contextstore.ActionRecord{
			Tool:      step.Action.Tool,
			Arguments: step.Action.Arguments,
			Status:    step.Observation.Status,
		})
	}
	return records
}

func statusLabel(result ports.RunResult, resp *Response) string {
	if len(resp.ActionsTaken) == 1 && resp.ActionsTaken[0] == "fallback_generic" {
		return "fallback"
	}
	return string(result.Status)
}
