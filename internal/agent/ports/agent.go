package ports

import (
	"context"
	"time"
)

// ObservationStatus classifies what the agent learns from one action.
type ObservationStatus string

const (
	ObservationSuccess   ObservationStatus = "success"
	ObservationFailure   ObservationStatus = "failure"
	ObservationDenied    ObservationStatus = "denied"
	ObservationCancelled ObservationStatus = "cancelled"
)

// Action is the agent's structured decision to run a tool.
type Action struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Observation is the invocation layer's report back to the agent. Exactly
// one of Result and Error carries content, selected by Status. ErrorKind
// carries the classified kind for non-success observations so the facade
// can map them to HTTP statuses.
type Observation struct {
	Action    Action            `json:"action"`
	Status    ObservationStatus `json:"status"`
	Result    string            `json:"result,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// Step is one reason/act/observe iteration in a run trace.
type Step struct {
	Thought     string       `json:"thought"`
	Action      *Action      `json:"action,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
}

// RunStatus is the terminal state of an agent run.
type RunStatus string

const (
	RunCompleted  RunStatus = "completed"
	RunIncomplete RunStatus = "incomplete"
	RunFailed     RunStatus = "failed"
)

// RunResult is what the agent loop returns to the dispatcher.
type RunResult struct {
	Status RunStatus `json:"status"`
	Answer string    `json:"answer,omitempty"`
	// ErrorKind is set on incomplete/failed runs: "timeout",
	// "max_iterations", or the invocation error kind.
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Trace     []Step        `json:"trace"`
	Duration  time.Duration `json:"duration"`
}

// ActionsTaken flattens the trace into the list of invoked tool names,
// in order.
func (r RunResult) ActionsTaken() []string {
	var names []string
	for _, step := range r.Trace {
		if step.Action != nil && step.Observation != nil {
			names = append(names, step.Action.Tool)
		}
	}
	return names
}

// Message is one role-tagged line of conversation context for the planner.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Planner is the external reasoning collaborator. Given a prompt it returns
// raw text in the Thought/Action/Answer grammar.
type Planner interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}
