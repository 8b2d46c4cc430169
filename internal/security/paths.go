// Package security checks file paths that come from operators before the
// tools write to them.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned when a path resolves outside every allowed
// directory.
var ErrOutsideAllowed = errors.New("path is outside the allowed directories")

// canonical resolves symlinks in path, or in its nearest existing parent
// when path does not exist yet.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rest := ""
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
	}
}

// WithinDir reports whether path stays inside dir once both are made
// absolute and symlinks are resolved.
func WithinDir(path, dir string) (bool, error) {
	p, err := canonical(path)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", path, err)
	}
	d, err := canonical(dir)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", dir, err)
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return false, nil
	}
	return true, nil
}

// CheckOutputPath returns an error unless path lies within one of dirs.
// With no dirs, the working directory and the temp directory are allowed.
func CheckOutputPath(path string, dirs ...string) error {
	if len(dirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dirs = []string{cwd, os.TempDir()}
	}
	for _, dir := range dirs {
		ok, err := WithinDir(path, dir)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%s: %w %v", path, ErrOutsideAllowed, dirs)
}

// maxNameLen caps SafeFilename output.
const maxNameLen = 96

// SafeFilename maps an identifier such as a session ID or note onto
// [A-Za-z0-9._-], collapsing runs of other characters into one underscore.
func SafeFilename(s string) string {
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			under = false
		default:
			if !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
