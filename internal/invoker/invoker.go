// Package invoker is the gated invocation pipeline shared by the agent loop
// and the direct-exec endpoint: permission, confirmation, registry dispatch,
// audit, in that order. No tool handler runs except through this path.
package invoker

import (
	"context"
	"time"

	"nestor/internal/agent/ports"
	"nestor/internal/audit"
	"nestor/internal/confirm"
	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
	"nestor/internal/observability"
	"nestor/internal/permission"
)

// Gated wires the four safety stages around the tool registry.
type Gated struct {
	permissions *permission.Engine
	broker      *confirm.Broker
	registry    ports.ToolRegistry
	auditLog    *audit.Log
	metrics     *observability.Metrics
	logger      logging.Logger
}

// New assembles the pipeline. metrics may be nil.
func New(perm *permission.Engine, broker *confirm.Broker, registry ports.ToolRegistry, auditLog *audit.Log, metrics *observability.Metrics, logger logging.Logger) *Gated {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gated{
		permissions: perm,
		broker:      broker,
		registry:    registry,
		auditLog:    auditLog,
		metrics:     metrics,
		logger:      logger,
	}
}

// Execute runs one tool call through the full gate. The returned Observation
// always has exactly one of Result/Error set, matching its Status.
func (g *Gated) Execute(ctx context.Context, call ports.ToolCall) ports.Observation {
	start := time.Now()
	obs := g.execute(ctx, call)
	obs.Duration = time.Since(start)
	obs.Action = ports.Action{Tool: call.Name, Arguments: call.Arguments}
	g.metrics.ObserveTool(call.Name, string(obs.Status), obs.Duration)
	return obs
}

func (g *Gated) execute(ctx context.Context, call ports.ToolCall) ports.Observation {
	verdict := g.permissions.Check(call.Principal, call.Name, call.Arguments)
	entry := audit.Entry{
		Principal: call.Principal,
		Tool:      call.Name,
		Risk:      string(verdict.Risk),
		Arguments: audit.Digest(call.Arguments),
	}

	if !verdict.Allow {
		entry.Status = audit.StatusDenied
		entry.Error = verdict.Reason
		g.append(entry)
		return ports.Observation{
			Status:    ports.ObservationDenied,
			Error:     verdict.Reason,
			ErrorKind: string(nerrors.KindPermissionDenied),
		}
	}

	// Resolve the tool before asking anyone to approve it: a human must never
	// be prompted to confirm a call the registry cannot dispatch.
	if _, ok := g.registry.Lookup(call.Name); !ok {
		entry.Status = audit.StatusError
		entry.Error = "unknown tool: " + call.Name
		g.append(entry)
		return ports.Observation{
			Status:    ports.ObservationFailure,
			Error:     entry.Error,
			ErrorKind: string(nerrors.KindUnknownTool),
		}
	}

	if verdict.RequiresConfirmation {
		entry.ConfirmationRequired = true
		entry.ConfirmationMode = string(g.broker.Mode())

		req, err := g.broker.Ask(ctx, call.Principal, call.Name, string(verdict.Risk), verdict.Reason)
		g.metrics.ObserveConfirmation(string(req.Outcome))
		if err != nil && ctx.Err() != nil {
			entry.Status = audit.StatusCancelled
			entry.Error = "request cancelled while awaiting confirmation"
			g.append(entry)
			return ports.Observation{
				Status:    ports.ObservationCancelled,
				Error:     entry.Error,
				ErrorKind: string(nerrors.KindOf(ctx.Err())),
			}
		}
		switch req.Outcome {
		case confirm.OutcomeApproved:
			entry.ConfirmationGranted = true
		case confirm.OutcomeExpired:
			// Expiry counts as a rejection for policy purposes.
			entry.Status = audit.StatusCancelled
			entry.Error = "confirmation timed out"
			g.append(entry)
			return ports.Observation{
				Status:    ports.ObservationCancelled,
				Error:     entry.Error,
				ErrorKind: string(nerrors.KindConfirmationTimeout),
			}
		default:
			// An explicit rejection is a human denial, audited as such;
			// only expiry above is recorded as cancelled.
			entry.Status = audit.StatusDenied
			entry.Error = "confirmation rejected by the user"
			g.append(entry)
			return ports.Observation{
				Status:    ports.ObservationCancelled,
				Error:     entry.Error,
				ErrorKind: string(nerrors.KindConfirmationRejected),
			}
		}
	}

	result, err := g.registry.Invoke(ctx, call)
	if err != nil {
		kind := nerrors.KindOf(err)
		entry.Error = err.Error()
		obs := ports.Observation{Error: err.Error(), ErrorKind: string(kind)}
		switch kind {
		case nerrors.KindPermissionDenied, nerrors.KindConfirmationRejected:
			entry.Status = audit.StatusDenied
			obs.Status = ports.ObservationDenied
		case nerrors.KindCancelled, nerrors.KindConfirmationTimeout:
			entry.Status = audit.StatusCancelled
			obs.Status = ports.ObservationCancelled
		default:
			entry.Status = audit.StatusError
			obs.Status = ports.ObservationFailure
		}
		g.append(entry)
		return obs
	}

	entry.Status = audit.StatusSuccess
	entry.Result = audit.Digest(result.Content)
	g.append(entry)
	return ports.Observation{
		Status: ports.ObservationSuccess,
		Result: result.Content,
		Data:   result.Data,
	}
}

func (g *Gated) append(entry audit.Entry) {
	if g.auditLog == nil {
		return
	}
	if err := g.auditLog.Append(entry); err != nil {
		g.logger.Error("Audit append failed: %v", err)
	}
}
