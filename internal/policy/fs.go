package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FSPolicy bounds what the filesystem tools may touch.
//
// AllowedDirs is the base-directory allow-list for both reads and writes.
// DeniedWriteDirs additionally blocks writes (system directories).
// ProtectedDirs and SafeExtensions feed the permission engine's argument
// screen for read access.
type FSPolicy struct {
	AllowedDirs     []string `yaml:"allowed_dirs"`
	DeniedWriteDirs []string `yaml:"denied_write_dirs"`
	ProtectedDirs   []string `yaml:"protected_dirs"`
	SafeExtensions  []string `yaml:"safe_extensions"`
	MaxReadBytes    int64    `yaml:"max_read_bytes"`
	MaxWriteBytes   int64    `yaml:"max_write_bytes"`
}

// DefaultFSPolicy confines file access to the user's home and /tmp and keeps
// the usual system directories off limits.
func DefaultFSPolicy() FSPolicy {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return FSPolicy{
		AllowedDirs:     []string{home, "/tmp"},
		DeniedWriteDirs: []string{"/etc", "/usr", "/bin", "/sbin", "/boot", "/var", "/System", "/Library"},
		ProtectedDirs:   []string{"/etc", "/root", filepath.Join(home, ".ssh"), filepath.Join(home, ".gnupg")},
		SafeExtensions: []string{
			".txt", ".md", ".json", ".yaml", ".yml", ".csv", ".log",
			".py", ".go", ".js", ".ts", ".html", ".css", ".sh", ".toml", ".ini",
		},
		MaxReadBytes:  1 << 20, // 1 MiB
		MaxWriteBytes: 1 << 20,
	}
}

// LoadFSPolicy reads the filesystem policy document. An empty path yields the
// defaults.
func LoadFSPolicy(path string) (FSPolicy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFSPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FSPolicy{}, fmt.Errorf("read filesystem policy %s: %w", path, err)
	}

	policy := DefaultFSPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return FSPolicy{}, fmt.Errorf("parse filesystem policy %s: %w", path, err)
	}

	if len(policy.AllowedDirs) == 0 {
		return FSPolicy{}, fmt.Errorf("filesystem policy %s: allowed_dirs must not be empty", path)
	}
	if policy.MaxReadBytes <= 0 {
		policy.MaxReadBytes = DefaultFSPolicy().MaxReadBytes
	}
	if policy.MaxWriteBytes <= 0 {
		policy.MaxWriteBytes = DefaultFSPolicy().MaxWriteBytes
	}
	return policy, nil
}

// ResolvePath canonicalizes a raw tool-supplied path and verifies it against
// the allow-list. Traversal tokens in the raw input are rejected before any
// resolution so the verdict cannot be laundered through symlinks or lexical
// tricks. Resolution is idempotent: resolving a resolved path yields the same
// canonical path and the same verdict.
func (p FSPolicy) ResolvePath(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if strings.Contains(raw, "..") {
		return "", fmt.Errorf("path traversal detected")
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	for _, base := range p.AllowedDirs {
		if isWithin(abs, base) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %s is outside the allowed directories", abs)
}

// WriteAllowed reports whether a resolved path may be written.
func (p FSPolicy) WriteAllowed(resolved string) error {
	for _, base := range p.DeniedWriteDirs {
		if isWithin(resolved, base) {
			return fmt.Errorf("writes under %s are denied", base)
		}
	}
	return nil
}

// IsProtected reports whether a resolved path falls under a protected directory.
func (p FSPolicy) IsProtected(resolved string) bool {
	for _, base := range p.ProtectedDirs {
		if isWithin(resolved, base) {
			return true
		}
	}
	return false
}

// HasSafeExtension reports whether the path's extension is in the safe set.
// Paths without an extension are not considered safe for reading.
func (p FSPolicy) HasSafeExtension(resolved string) bool {
	ext := strings.ToLower(filepath.Ext(resolved))
	if ext == "" {
		return false
	}
	for _, safe := range p.SafeExtensions {
		if ext == strings.ToLower(safe) {
			return true
		}
	}
	return false
}

func isWithin(path, base string) bool {
	base = filepath.Clean(base)
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
