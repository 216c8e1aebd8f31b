// Package isolation confines the filesystem paths that workflow steps may
// read or write.
package isolation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
)

// AccessMode indicates the type of filesystem access being requested.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

func (m AccessMode) String() string {
	if m == AccessWrite {
		return "write"
	}
	return "read"
}

// PathPolicy holds the allow and deny lists applied to FILE_OPERATION,
// FILE_IMPORT, FILE_EXPORT and inputFile paths.
// Empty allow lists mean unrestricted access. Deny always wins.
type PathPolicy struct {
	ReadOnly []string `json:"read_only,omitempty" mapstructure:"read_only"`
	Writable []string `json:"writable,omitempty" mapstructure:"writable"`
	Deny     []string `json:"deny,omitempty" mapstructure:"deny"`
}

// Check returns a PATH_DENIED error when path may not be accessed in mode.
// A nil policy permits everything.
func (p *PathPolicy) Check(path string, mode AccessMode) error {
	if p == nil {
		return nil
	}

	clean, err := resolveCleanPath(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePathDenied, "invalid path %q: %v", path, err)
	}

	// Fail closed on a deny rule that cannot be resolved.
	for _, deny := range p.Deny {
		base, err := resolveCleanPath(deny)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodePathDenied,
				"path %q denied: invalid deny rule %q: %v", path, deny, err)
		}
		if isUnderPath(clean, base) {
			return schema.NewErrorf(schema.ErrCodePathDenied, "path %q is denied", path)
		}
	}

	if len(p.ReadOnly) == 0 && len(p.Writable) == 0 {
		return nil
	}

	if underAny(clean, p.Writable) {
		return nil
	}
	if mode == AccessRead && underAny(clean, p.ReadOnly) {
		return nil
	}

	return schema.NewErrorf(schema.ErrCodePathDenied,
		"%s access to %q denied: not under any allowed path", mode, path).
		WithDetails(map[string]any{"path": path, "mode": mode.String()})
}

// underAny skips allow entries that fail to resolve; they cannot grant access.
func underAny(clean string, bases []string) bool {
	for _, b := range bases {
		base, err := resolveCleanPath(b)
		if err != nil {
			continue
		}
		if isUnderPath(clean, base) {
			return true
		}
	}
	return false
}

// resolveCleanPath cleans a path to absolute form and resolves symlinks on
// its longest existing prefix, so files that do not exist yet still resolve
// consistently with their parent directory.
func resolveCleanPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return resolveAncestor(abs), nil
}

func resolveAncestor(path string) string {
	dir := path
	for range 256 {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
	return path
}

// isUnderPath uses filepath.Rel so /tmp does not match /tmpevil.
func isUnderPath(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
