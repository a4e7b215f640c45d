// Package agent drives the reason/act/observe cycle: it prompts the planner,
// decodes its output, and routes chosen actions through the gated invocation
// pipeline.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
	"nestor/internal/observability"
	"nestor/internal/parser"
)

// Config bounds one run.
type Config struct {
	MaxSteps int
	Deadline time.Duration
}

// DefaultConfig matches the runtime defaults.
func DefaultConfig() Config {
	return Config{MaxSteps: 10, Deadline: 30 * time.Second}
}

// Stats is a point-in-time snapshot of the loop's counters.
type Stats struct {
	Runs             uint64 `json:"runs"`
	Thoughts         uint64 `json:"thoughts"`
	ActionsAttempted uint64 `json:"actions_attempted"`
	ActionsSucceeded uint64 `json:"actions_succeeded"`
	ActionsFailed    uint64 `json:"actions_failed"`
	PlannerFailures  uint64 `json:"llm_failures"`
	// AvgRunMillis is the mean end-to-end run duration.
	AvgRunMillis uint64 `json:"avg_run_millis"`
}

// Engine is the agent loop. One engine serves many concurrent runs.
type Engine struct {
	planner  ports.Planner
	executor ports.ToolExecutor
	registry ports.ToolRegistry
	metrics  *observability.Metrics
	logger   logging.Logger
	config   Config

	runs             atomic.Uint64
	thoughts         atomic.Uint64
	actionsAttempted atomic.Uint64
	actionsSucceeded atomic.Uint64
	actionsFailed    atomic.Uint64
	plannerFailures  atomic.Uint64
	totalRunMillis   atomic.Uint64
}

// New wires an engine. The registry is only consulted for its catalog; all
// invocation goes through the executor.
func New(planner ports.Planner, executor ports.ToolExecutor, registry ports.ToolRegistry, config Config, metrics *observability.Metrics, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultConfig().MaxSteps
	}
	if config.Deadline <= 0 {
		config.Deadline = DefaultConfig().Deadline
	}
	return &Engine{
		planner:  planner,
		executor: executor,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// Run executes one utterance to completion, step cap, or deadline. history
// is the principal's prior conversation, newest last.
func (e *Engine) Run(ctx context.Context, principal, utterance string, history []ports.Message) ports.RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.Deadline)
	defer cancel()

	result := e.run(ctx, principal, utterance, history)
	result.Duration = time.Since(start)

	e.runs.Add(1)
	e.totalRunMillis.Add(uint64(result.Duration.Milliseconds()))
	return result
}

func (e *Engine) run(ctx context.Context, principal, utterance string, history []ports.Message) ports.RunResult {
	system := systemPrompt(e.registry.Describe())

	messages := make([]ports.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ports.Message{Role: "user", Content: utterance})

	var trace []ports.Step

	for step := 0; step < e.config.MaxSteps; step++ {
		if kind, done := deadlineKind(ctx); done {
			return incomplete(kind, trace)
		}

		raw, err := e.planner.Complete(ctx, system, messages)
		if err != nil {
			e.plannerFailures.Add(1)
			if e.metrics != nil {
				e.metrics.PlannerFailures.Inc()
			}
			if kind, done := deadlineKind(ctx); done {
				return incomplete(kind, trace)
			}
			return ports.RunResult{
				Status:    ports.RunFailed,
				ErrorKind: string(nerrors.KindOf(err)),
				Error:     "planner call failed: " + err.Error(),
				Trace:     trace,
			}
		}

		resp, perr := parser.Parse(raw)
		if perr != nil {
			// Malformed output burns a step and is fed back as a diagnostic.
			e.plannerFailures.Add(1)
			if e.metrics != nil {
				e.metrics.PlannerFailures.Inc()
			}
			e.logger.Warn("Unparseable planner output for %s: %v", principal, perr)
			trace = append(trace, ports.Step{Thought: raw})
			messages = append(messages,
				ports.Message{Role: "assistant", Content: raw},
				ports.Message{Role: "user", Content: parseFeedback(perr)},
			)
			continue
		}

		e.thoughts.Add(1)

		if resp.IsAnswer {
			trace = append(trace, ports.Step{Thought: resp.Thought})
			return ports.RunResult{Status: ports.RunCompleted, Answer: resp.Answer, Trace: trace}
		}

		// Cancellation is checked immediately before and after each tool call.
		if kind, done := deadlineKind(ctx); done {
			trace = append(trace, ports.Step{Thought: resp.Thought, Action: resp.Action})
			return incomplete(kind, trace)
		}

		e.actionsAttempted.Add(1)
		obs := e.executor.Execute(ctx, ports.ToolCall{
			Name:      resp.Action.Tool,
			Arguments: resp.Action.Arguments,
			Principal: principal,
		})
		if obs.Status == ports.ObservationSuccess {
			e.actionsSucceeded.Add(1)
		} else {
			e.actionsFailed.Add(1)
		}

		trace = append(trace, ports.Step{Thought: resp.Thought, Action: resp.Action, Observation: &obs})
		messages = append(messages,
			ports.Message{Role: "assistant", Content: raw},
			ports.Message{Role: "user", Content: observationFeedback(obs)},
		)

		if kind, done := deadlineKind(ctx); done {
			return incomplete(kind, trace)
		}
	}

	return incomplete("max_iterations", trace)
}

// Stats snapshots the running counters.
func (e *Engine) Stats() Stats {
	runs := e.runs.Load()
	avg := uint64(0)
	if runs > 0 {
		avg = e.totalRunMillis.Load() / runs
	}
	return Stats{
		Runs:             runs,
		Thoughts:         e.thoughts.Load(),
		ActionsAttempted: e.actionsAttempted.Load(),
		ActionsSucceeded: e.actionsSucceeded.Load(),
		ActionsFailed:    e.actionsFailed.Load(),
		PlannerFailures:  e.plannerFailures.Load(),
		AvgRunMillis:     avg,
	}
}

func deadlineKind(ctx context.Context) (string, bool) {
	switch ctx.Err() {
	case nil:
		return "", false
	case context.DeadlineExceeded:
		return "timeout", true
	default:
		return "cancelled", true
	}
}

func incomplete(kind string, trace []ports.Step) ports.RunResult {
	return ports.RunResult{
		Status:    ports.RunIncomplete,
		ErrorKind: kind,
		Error:     "run stopped before an answer was produced",
		Trace:     trace,
	}
}
