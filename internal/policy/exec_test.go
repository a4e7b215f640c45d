package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestor/internal/logging"
)

func TestLoadExecPolicyIgnoresUnknownTopLevelKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exec.yaml")
	doc := []byte(`
commands:
  ls:
    description: list files
  git:
    description: version control
    allowed_args: ["status", "log"]
    cwd: /tmp
future_feature:
  enabled: true
`)
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	p, err := LoadExecPolicy(path, logging.Nop())
	require.NoError(t, err)

	assert.True(t, p.Allowed("ls"))
	assert.True(t, p.Allowed("git"))
	assert.False(t, p.Allowed("rm"))
}

func TestLoadExecPolicyRejectsBadCommandNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exec.yaml")
	doc := []byte(`
commands:
  ls:
    description: fine
  "rm -rf":
    description: smuggled metacharacters
  "/bin/sh":
    description: path form
`)
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	p, err := LoadExecPolicy(path, logging.Nop())
	require.NoError(t, err)

	assert.True(t, p.Allowed("ls"))
	assert.False(t, p.Allowed("rm -rf"))
	assert.False(t, p.Allowed("/bin/sh"))
}

func TestArgsAllowed(t *testing.T) {
	p := ExecPolicy{Commands: map[string]ExecCommand{
		"git":  {AllowedArgs: []string{"status", "log"}},
		"echo": {},
	}}

	assert.NoError(t, p.ArgsAllowed("git", []string{"status"}))
	assert.Error(t, p.ArgsAllowed("git", []string{"push"}))
	// Empty allowed_args means verb-level restriction only.
	assert.NoError(t, p.ArgsAllowed("echo", []string{"anything", "at", "all"}))
	assert.Error(t, p.ArgsAllowed("rm", nil))
}

func TestCwdFor(t *testing.T) {
	p := ExecPolicy{
		Commands:   map[string]ExecCommand{"git": {Cwd: "/repos"}, "ls": {}},
		WorkingDir: "/tmp",
	}
	assert.Equal(t, "/repos", p.CwdFor("git"))
	assert.Equal(t, "/tmp", p.CwdFor("ls"))
}

func TestLoadExecPolicyEmptyPathYieldsDefaults(t *testing.T) {
	p, err := LoadExecPolicy("", nil)
	require.NoError(t, err)
	assert.True(t, p.Allowed("ls"))
	assert.False(t, p.Allowed("rm"))
	assert.NotZero(t, p.Timeout)
}
