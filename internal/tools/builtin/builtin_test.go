package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
	"nestor/internal/parser"
	"nestor/internal/policy"
	"nestor/internal/toolregistry"
	"nestor/internal/workerpool"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	fs := policy.DefaultFSPolicy()
	fs.AllowedDirs = []string{t.TempDir(), "/tmp"}
	return Deps{
		FS:              fs,
		Exec:            policy.DefaultExecPolicy(),
		Pool:            workerpool.New(&http.Client{}, 4, nil),
		LearningEnabled: true,
	}
}

func invokeDirect(t *testing.T, desc ports.ToolDescriptor, args map[string]any) (*ports.ToolResult, error) {
	t.Helper()
	validated, err := toolregistry.ValidateArguments(desc.Schema, args)
	require.NoError(t, err)
	return desc.Handler(context.Background(), ports.ToolCall{Name: desc.Name, Arguments: validated, Principal: "alice"})
}

func TestRegisterAll(t *testing.T) {
	deps := testDeps(t)
	registry := toolregistry.New(nil)
	require.NoError(t, RegisterAll(registry, deps))

	names := make([]string, 0)
	for _, info := range registry.Describe() {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "read_file")
	assert.Contains(t, names, "run_terminal")
	assert.Contains(t, names, "learn_knowledge")

	// Learning disabled drops the knowledge tools.
	deps.LearningEnabled = false
	registry = toolregistry.New(nil)
	require.NoError(t, RegisterAll(registry, deps))
	for _, info := range registry.Describe() {
		assert.NotEqual(t, "learn_knowledge", info.Name)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	deps := testDeps(t)
	dir := deps.FS.AllowedDirs[0]
	path := filepath.Join(dir, "notes.txt")

	_, err := invokeDirect(t, writeFileTool(deps), map[string]any{"path": path, "content": "bonjour"})
	require.NoError(t, err)

	result, err := invokeDirect(t, readFileTool(deps), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", result.Content)
}

func TestReadFileOutsideAllowListIsPermissionDenied(t *testing.T) {
	deps := testDeps(t)
	_, err := invokeDirect(t, readFileTool(deps), map[string]any{"path": "/etc/hostname"})
	assert.True(t, nerrors.IsKind(err, nerrors.KindPermissionDenied))
}

func TestReadFileSizeLimit(t *testing.T) {
	deps := testDeps(t)
	deps.FS.MaxReadBytes = 4
	path := filepath.Join(deps.FS.AllowedDirs[0], "big.txt")
	require.NoError(t, os.WriteFile(path, []byte("way too large"), 0o644))

	_, err := invokeDirect(t, readFileTool(deps), map[string]any{"path": path})
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))
}

func TestListDir(t *testing.T) {
	deps := testDeps(t)
	dir := deps.FS.AllowedDirs[0]
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	result, err := invokeDirect(t, listDirTool(deps), map[string]any{"path": dir})
	require.NoError(t, err)
	assert.Equal(t, "b.txt\nsub/", result.Content)
}

func TestRunCommandHappyPath(t *testing.T) {
	deps := testDeps(t)
	result, err := RunCommand(context.Background(), deps, map[string]any{"command": "echo hello world"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello world\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "echo hello world", result.CommandExecuted)
}

func TestRunCommandRejectsUnlistedVerb(t *testing.T) {
	deps := testDeps(t)
	_, err := RunCommand(context.Background(), deps, map[string]any{"command": "rm -rf /"})
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindPermissionDenied))
	assert.Contains(t, err.Error(), "not permitted")
}

func TestRunCommandRejectsShellMetacharacters(t *testing.T) {
	deps := testDeps(t)
	for _, cmd := range []string{
		"echo hi; rm x",
		"cat /tmp/a | grep b",
		"echo $(whoami)",
		"echo `id`",
		"ls > /tmp/out",
	} {
		_, err := RunCommand(context.Background(), deps, map[string]any{"command": cmd})
		require.Error(t, err, "command %q", cmd)
		assert.True(t, nerrors.IsKind(err, nerrors.KindPermissionDenied), "command %q", cmd)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	deps := testDeps(t)
	deps.Exec.Commands["sleep"] = policy.ExecCommand{Description: "sleep"}
	deps.Exec.Timeout = 50 * time.Millisecond

	_, err := RunCommand(context.Background(), deps, map[string]any{"command": "sleep 5"})
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindTimeout))
}

func TestRunCommandNonZeroExit(t *testing.T) {
	deps := testDeps(t)
	result, err := RunCommand(context.Background(), deps, map[string]any{"command": "cat /does/not/exist"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotZero(t, result.ExitCode)
	assert.NotEmpty(t, result.Stderr)
}

func TestRemoteAppTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Safari", req["app_name"])
		switch r.URL.Path {
		case "/apps/open":
			json.NewEncoder(w).Encode(appResponse{Success: true, Message: "Safari ouvert"})
		case "/apps/close":
			json.NewEncoder(w).Encode(appResponse{Success: false, Message: "Safari introuvable"})
		}
	}))
	defer srv.Close()

	deps := testDeps(t)
	require.NoError(t, deps.Pool.RegisterWorker("connectors", srv.URL))

	result, err := invokeDirect(t, openAppTool(deps), map[string]any{"app_name": "Safari"})
	require.NoError(t, err)
	assert.Equal(t, "Safari ouvert", result.Content)

	_, err = invokeDirect(t, closeAppTool(deps), map[string]any{"app_name": "Safari"})
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindHandlerError))
}

func TestKnowledgeTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/learn":
			w.Write([]byte(`{"ok":true}`))
		case "/recall":
			json.NewEncoder(w).Encode(map[string]any{"results": []string{"Paris est la capitale de la France"}})
		}
	}))
	defer srv.Close()

	deps := testDeps(t)
	require.NoError(t, deps.Pool.RegisterWorker("learning", srv.URL))

	result, err := invokeDirect(t, learnKnowledgeTool(deps), map[string]any{"fact": "Paris est la capitale de la France"})
	require.NoError(t, err)
	assert.Equal(t, "J'ai appris: Paris est la capitale de la France", result.Content)

	result, err = invokeDirect(t, recallKnowledgeTool(deps), map[string]any{"query": "capitale France"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(result.Content, "Paris"))
}

func TestKnowledgeToolUnavailableWorker(t *testing.T) {
	deps := testDeps(t)
	require.NoError(t, deps.Pool.RegisterWorker("learning", "http://127.0.0.1:1"))
	_, err := invokeDirect(t, learnKnowledgeTool(deps), map[string]any{"fact": "x"})
	assert.True(t, nerrors.IsKind(err, nerrors.KindRemoteUnavailable))
}

func TestSearchFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"path": "/home/a/notes.txt", "snippet": "réunion lundi"},
			},
		})
	}))
	defer srv.Close()

	deps := testDeps(t)
	require.NoError(t, deps.Pool.RegisterWorker("indexer", srv.URL))

	result, err := invokeDirect(t, searchFilesTool(deps), map[string]any{"query": "réunion"})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "/home/a/notes.txt")
	assert.Contains(t, result.Content, "réunion lundi")
}

func TestSearchFilesByExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ".py", req["extension"])
		assert.Equal(t, float64(100), req["limit"])
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"path": "src/main.py"},
				{"path": "src/util.py"},
			},
		})
	}))
	defer srv.Close()

	deps := testDeps(t)
	require.NoError(t, deps.Pool.RegisterWorker("indexer", srv.URL))

	// The exact call shape a planner emits when filtering by extension.
	name, args, err := parser.ParseCall(`search_files(query="", extension=".py", limit=100)`)
	require.NoError(t, err)
	require.Equal(t, "search_files", name)

	result, err := invokeDirect(t, searchFilesTool(deps), args)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "src/main.py")
	assert.Equal(t, 2, result.Data["count"])
}

func TestSystemInfo(t *testing.T) {
	result, err := invokeDirect(t, systemInfoTool(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "os: ")
	assert.Contains(t, result.Content, "cpus: ")
}
