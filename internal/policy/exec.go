package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nestor/internal/logging"
)

// ExecCommand describes one whitelisted command verb.
type ExecCommand struct {
	Description string   `yaml:"description"`
	AllowedArgs []string `yaml:"allowed_args"`
	Cwd         string   `yaml:"cwd"`
}

// ExecPolicy is the process-execution whitelist. Only the verbs listed here
// may ever be spawned; an empty AllowedArgs list means no argument-level
// restriction beyond the verb itself.
type ExecPolicy struct {
	Commands   map[string]ExecCommand `yaml:"commands"`
	WorkingDir string                 `yaml:"working_dir"`
	Timeout    time.Duration          `yaml:"timeout"`
}

// commandNamePattern constrains verbs to plain program names: no paths, no
// whitespace, no shell metacharacters.
var commandNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

// DefaultExecPolicy allows a conservative read-mostly verb set.
func DefaultExecPolicy() ExecPolicy {
	return ExecPolicy{
		Commands: map[string]ExecCommand{
			"ls":     {Description: "list directory contents"},
			"cat":    {Description: "print file contents"},
			"head":   {Description: "print the first lines of a file"},
			"tail":   {Description: "print the last lines of a file"},
			"grep":   {Description: "search file contents"},
			"find":   {Description: "find files"},
			"wc":     {Description: "count lines, words, bytes"},
			"pwd":    {Description: "print working directory"},
			"date":   {Description: "print the current date"},
			"echo":   {Description: "print arguments"},
			"uname":  {Description: "print system information"},
			"df":     {Description: "report disk usage"},
			"uptime": {Description: "show uptime"},
		},
		WorkingDir: "/tmp",
		Timeout:    30 * time.Second,
	}
}

// LoadExecPolicy reads the YAML whitelist document. Unknown top-level keys
// are ignored; malformed command names are rejected at load time with a
// warning and do not make it into the policy. An empty path yields defaults.
func LoadExecPolicy(path string, logger logging.Logger) (ExecPolicy, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if strings.TrimSpace(path) == "" {
		return DefaultExecPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ExecPolicy{}, fmt.Errorf("read exec whitelist %s: %w", path, err)
	}

	// Decode into a loose document first so unknown top-level keys are ignored.
	var doc struct {
		Commands   map[string]ExecCommand `yaml:"commands"`
		WorkingDir string                 `yaml:"working_dir"`
		Timeout    time.Duration          `yaml:"timeout"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ExecPolicy{}, fmt.Errorf("parse exec whitelist %s: %w", path, err)
	}

	policy := ExecPolicy{
		Commands:   make(map[string]ExecCommand, len(doc.Commands)),
		WorkingDir: doc.WorkingDir,
		Timeout:    doc.Timeout,
	}
	for name, cmd := range doc.Commands {
		if !commandNamePattern.MatchString(name) {
			logger.Warn("Exec whitelist: rejecting invalid command name %q", name)
			continue
		}
		policy.Commands[name] = cmd
	}

	if len(policy.Commands) == 0 {
		return ExecPolicy{}, fmt.Errorf("exec whitelist %s: no valid commands", path)
	}
	if policy.WorkingDir == "" {
		policy.WorkingDir = DefaultExecPolicy().WorkingDir
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultExecPolicy().Timeout
	}
	return policy, nil
}

// Allowed reports whether the verb is whitelisted.
func (p ExecPolicy) Allowed(verb string) bool {
	_, ok := p.Commands[verb]
	return ok
}

// ArgsAllowed checks argument-level restrictions for a verb. An empty
// allowed_args list imposes no restriction.
func (p ExecPolicy) ArgsAllowed(verb string, args []string) error {
	cmd, ok := p.Commands[verb]
	if !ok {
		return fmt.Errorf("command %q is not whitelisted", verb)
	}
	if len(cmd.AllowedArgs) == 0 {
		return nil
	}
	for _, arg := range args {
		allowed := false
		for _, a := range cmd.AllowedArgs {
			if arg == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("argument %q is not permitted for %q", arg, verb)
		}
	}
	return nil
}

// CwdFor returns the working directory for a verb, falling back to the
// policy-wide directory.
func (p ExecPolicy) CwdFor(verb string) string {
	if cmd, ok := p.Commands[verb]; ok && cmd.Cwd != "" {
		return cmd.Cwd
	}
	return p.WorkingDir
}
