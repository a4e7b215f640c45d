// Package builtin registers the runtime's standard tool set: local
// filesystem access, direct process execution, and thin adapters over the
// remote workers (connectors, indexer, learning).
package builtin

import (
	"nestor/internal/agent/ports"
	"nestor/internal/logging"
	"nestor/internal/policy"
	"nestor/internal/workerpool"
)

// Deps carries everything the builtin handlers need.
type Deps struct {
	FS              policy.FSPolicy
	Exec            policy.ExecPolicy
	Pool            *workerpool.Pool
	Logger          logging.Logger
	LearningEnabled bool
}

// RegisterAll installs the standard tools on the registry. Knowledge tools
// are skipped when the learning subsystem is disabled.
func RegisterAll(registry ports.ToolRegistry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	descriptors := []ports.ToolDescriptor{
		readFileTool(deps),
		writeFileTool(deps),
		listDirTool(deps),
		searchFilesTool(deps),
		runTerminalTool(deps),
		openAppTool(deps),
		closeAppTool(deps),
		systemInfoTool(),
	}
	if deps.LearningEnabled {
		descriptors = append(descriptors, learnKnowledgeTool(deps), recallKnowledgeTool(deps))
	}

	for _, desc := range descriptors {
		if err := registry.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	if n, ok := args[key].(int); ok {
		return n
	}
	return fallback
}
