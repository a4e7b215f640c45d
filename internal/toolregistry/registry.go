// Package toolregistry holds the process-wide catalog of tools and is the
// sole call path into their handlers. Registered descriptors are immutable;
// replacing one requires unregister-then-register.
package toolregistry

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
	"nestor/internal/logging"
)

// Registry is a many-readers rare-writer tool catalog.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ports.ToolDescriptor
	logger logging.Logger
}

// New creates an empty registry.
func New(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{tools: make(map[string]ports.ToolDescriptor), logger: logger}
}

// Register inserts a descriptor. A name collision fails with DuplicateTool;
// the existing descriptor is left untouched.
func (r *Registry) Register(desc ports.ToolDescriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return nerrors.New(nerrors.KindValidation, "tool name must not be empty")
	}
	if desc.Handler == nil {
		return nerrors.Newf(nerrors.KindValidation, "tool %q has no handler", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return nerrors.Newf(nerrors.KindDuplicateTool, "tool %q is already registered", desc.Name)
	}
	r.tools[desc.Name] = desc
	r.logger.Debug("Registered tool %s (category=%s, mutating=%v)", desc.Name, desc.Category, desc.Mutating)
	return nil
}

// Unregister removes a descriptor. Missing names signal UnknownTool rather
// than succeeding silently, so a failed deploy cannot mask a typo.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return nerrors.Newf(nerrors.KindUnknownTool, "tool %q is not registered", name)
	}
	delete(r.tools, name)
	r.logger.Debug("Unregistered tool %s", name)
	return nil
}

// Describe returns the catalog sorted by name. The ordering is deterministic
// so planner prompts are reproducible.
func (r *Registry) Describe() []ports.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ports.ToolInfo, 0, len(r.tools))
	for _, desc := range r.tools {
		infos = append(infos, ports.ToolInfo{
			Name:        desc.Name,
			Description: desc.Description,
			Category:    desc.Category,
			Schema:      desc.Schema,
			Mutating:    desc.Mutating,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Lookup returns the descriptor for a name.
func (r *Registry) Lookup(name string) (ports.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[name]
	return desc, ok
}

// Invoke validates the call's arguments against the tool's schema and runs
// the handler under the context deadline. Handler failures are classified as
// HandlerError unless the handler already returned a classified error.
func (r *Registry) Invoke(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	desc, ok := r.Lookup(call.Name)
	if !ok {
		return nil, nerrors.Newf(nerrors.KindUnknownTool, "unknown tool %q", call.Name)
	}

	validated, err := ValidateArguments(desc.Schema, call.Arguments)
	if err != nil {
		return nil, err
	}
	call.Arguments = validated

	start := time.Now()
	result, err := desc.Handler(ctx, call)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nerrors.Wrapf(nerrors.KindOf(ctx.Err()), err, "tool %q interrupted", call.Name)
		}
		var classified *nerrors.Error
		if stderrors.As(err, &classified) {
			return nil, err
		}
		return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "tool %q failed", call.Name)
	}
	if result == nil {
		result = &ports.ToolResult{CallID: call.ID}
	}
	result.CallID = call.ID
	result.Duration = elapsed
	return result, nil
}
