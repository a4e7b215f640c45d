// Package ports defines the contracts shared between the agent loop, the
// tool layer, and the invocation pipeline. The agent receives these as
// injected capabilities; nothing below this package knows the agent exists.
package ports

import (
	"context"
	"time"
)

// ToolCall is one structured request to run a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Principal string         `json:"principal"`
}

// ToolResult is the outcome of a single tool call.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Data     map[string]any `json:"data,omitempty"`
	IsError  bool           `json:"is_error"`
	Duration time.Duration  `json:"duration"`
}

// Property describes one parameter in a tool's schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ParameterSchema is the declared shape of a tool's argument map. Unknown
// keys are rejected at validation time; Required lists the keys that must
// be present.
type ParameterSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Handler executes a validated tool call.
type Handler func(ctx context.Context, call ToolCall) (*ToolResult, error)

// ToolDescriptor is the registry's unit of registration. Descriptors are
// immutable once registered; replacing one requires unregister-then-register.
type ToolDescriptor struct {
	Name        string
	Description string
	Category    string
	Schema      ParameterSchema
	// Mutating marks tools with externally observable side effects.
	Mutating bool
	Handler  Handler
}

// ToolInfo is the handler-free view of a descriptor, used to build the
// planner's tool catalog and API listings.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Schema      ParameterSchema `json:"schema"`
	Mutating    bool            `json:"mutating"`
}

// ToolRegistry is the uniform contract over heterogeneous capabilities.
type ToolRegistry interface {
	Register(desc ToolDescriptor) error
	Unregister(name string) error
	// Describe returns a deterministic listing, sorted by name.
	Describe() []ToolInfo
	// Lookup reports whether a tool is registered, without invoking it.
	Lookup(name string) (ToolDescriptor, bool)
	// Invoke validates arguments against the schema and calls the handler
	// under the context deadline. It is the sole call path into handlers.
	Invoke(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolExecutor is the gated invocation pipeline the agent loop and the
// direct-exec endpoint share: permission, confirmation, registry dispatch,
// audit, in that order.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) Observation
}
