package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

// shellMetacharacters rejects anything that would only make sense to a
// shell. The handler spawns processes directly, so these can never carry
// their usual meaning; their presence signals an injection attempt.
var shellMetacharacters = regexp.MustCompile("[;&|<>$`\\\\'\"(){}\\[\\]*?~#\n]")

// ExecResult is the structured payload of one run_terminal invocation,
// mirrored by the direct /exec endpoint.
type ExecResult struct {
	Success         bool   `json:"success"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	CommandExecuted string `json:"command_executed"`
}

func runTerminalTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "run_terminal",
		Description: "Run a whitelisted command without a shell and return its output.",
		Category:    "system",
		Mutating:    true,
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"command": {Type: "string", Description: "Command verb, optionally followed by arguments"},
				"args":    {Type: "array", Description: "Arguments, if not given inline in command"},
				"timeout": {Type: "integer", Description: "Timeout in seconds"},
			},
			Required: []string{"command"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			result, err := RunCommand(ctx, deps, call.Arguments)
			if err != nil {
				return nil, err
			}

			content := result.Stdout
			if !result.Success {
				content = fmt.Sprintf("exit code %d\n%s", result.ExitCode, result.Stderr)
			}
			return &ports.ToolResult{
				Content: strings.TrimSpace(content),
				Data: map[string]any{
					"success":          result.Success,
					"stdout":           result.Stdout,
					"stderr":           result.Stderr,
					"exit_code":        result.ExitCode,
					"command_executed": result.CommandExecuted,
				},
			}, nil
		},
	}
}

// RunCommand validates and executes one whitelisted command. It never
// invokes a shell: the command is split lexically and spawned directly with
// a fixed working directory and an absolute timeout.
func RunCommand(ctx context.Context, deps Deps, args map[string]any) (*ExecResult, error) {
	raw := strings.TrimSpace(stringArg(args, "command"))
	if raw == "" {
		return nil, nerrors.New(nerrors.KindValidation, "command must not be empty")
	}
	if shellMetacharacters.MatchString(raw) {
		return nil, nerrors.Newf(nerrors.KindPermissionDenied, "Command contains shell metacharacters")
	}

	fields := strings.Fields(raw)
	verb := fields[0]
	cmdArgs := fields[1:]
	for _, extra := range listArg(args, "args") {
		if shellMetacharacters.MatchString(extra) {
			return nil, nerrors.Newf(nerrors.KindPermissionDenied, "Argument %q contains shell metacharacters", extra)
		}
		cmdArgs = append(cmdArgs, extra)
	}

	if !deps.Exec.Allowed(verb) {
		return nil, nerrors.Newf(nerrors.KindPermissionDenied, "Command '%s' not permitted", verb)
	}
	if err := deps.Exec.ArgsAllowed(verb, cmdArgs); err != nil {
		return nil, nerrors.Wrap(nerrors.KindPermissionDenied, err.Error(), err)
	}

	timeout := deps.Exec.Timeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		if requested := time.Duration(secs) * time.Second; requested < timeout {
			timeout = requested
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, verb, cmdArgs...)
	cmd.Dir = deps.Exec.CwdFor(verb)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, nerrors.Newf(nerrors.KindTimeout, "command '%s' exceeded its %s timeout", verb, timeout)
	}

	result := &ExecResult{
		Success:         runErr == nil,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		CommandExecuted: strings.TrimSpace(verb + " " + strings.Join(cmdArgs, " ")),
	}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, nerrors.Wrapf(nerrors.KindHandlerError, runErr, "spawn %s", verb)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func listArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
