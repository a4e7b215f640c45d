package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

func readFileTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "read_file",
		Description: "Read the contents of a text file under the allowed directories.",
		Category:    "filesystem",
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Absolute or home-relative file path"},
			},
			Required: []string{"path"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			resolved, err := deps.FS.ResolvePath(stringArg(call.Arguments, "path"))
			if err != nil {
				return nil, nerrors.Wrap(nerrors.KindPermissionDenied, err.Error(), err)
			}

			info, err := os.Stat(resolved)
			if err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "cannot read %s", resolved)
			}
			if info.IsDir() {
				return nil, nerrors.Newf(nerrors.KindValidation, "%s is a directory", resolved)
			}
			if info.Size() > deps.FS.MaxReadBytes {
				return nil, nerrors.Newf(nerrors.KindValidation, "%s is %d bytes, above the %d byte read limit", resolved, info.Size(), deps.FS.MaxReadBytes)
			}

			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "read %s", resolved)
			}
			return &ports.ToolResult{
				Content: string(data),
				Data:    map[string]any{"path": resolved, "size": info.Size()},
			}, nil
		},
	}
}

func writeFileTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "write_file",
		Description: "Write text content to a file under the allowed directories.",
		Category:    "filesystem",
		Mutating:    true,
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "Destination file path"},
				"content": {Type: "string", Description: "Full file content to write"},
			},
			Required: []string{"path", "content"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			resolved, err := deps.FS.ResolvePath(stringArg(call.Arguments, "path"))
			if err != nil {
				return nil, nerrors.Wrap(nerrors.KindPermissionDenied, err.Error(), err)
			}
			if err := deps.FS.WriteAllowed(resolved); err != nil {
				return nil, nerrors.Wrap(nerrors.KindPermissionDenied, err.Error(), err)
			}

			content := stringArg(call.Arguments, "content")
			if int64(len(content)) > deps.FS.MaxWriteBytes {
				return nil, nerrors.Newf(nerrors.KindValidation, "content is %d bytes, above the %d byte write limit", len(content), deps.FS.MaxWriteBytes)
			}

			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "create parent of %s", resolved)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "write %s", resolved)
			}
			return &ports.ToolResult{
				Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved),
				Data:    map[string]any{"path": resolved, "bytes": len(content)},
			}, nil
		},
	}
}

func listDirTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "list_dir",
		Description: "List the entries of a directory under the allowed directories.",
		Category:    "filesystem",
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Directory path"},
			},
			Required: []string{"path"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			resolved, err := deps.FS.ResolvePath(stringArg(call.Arguments, "path"))
			if err != nil {
				return nil, nerrors.Wrap(nerrors.KindPermissionDenied, err.Error(), err)
			}

			entries, err := os.ReadDir(resolved)
			if err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "list %s", resolved)
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return &ports.ToolResult{
				Content: strings.Join(names, "\n"),
				Data:    map[string]any{"path": resolved, "count": len(names)},
			}, nil
		},
	}
}
