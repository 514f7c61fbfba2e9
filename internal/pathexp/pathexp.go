// Package pathexp implements the path expansion rules shared by the
// orchestrator's file actions and context mutation: well-known folder
// shortcuts, "~" and environment-variable expansion, resolution of relative
// paths against the session working directory, and canonicalization.
package pathexp

import (
	"os"
	"path/filepath"
	"strings"
)

// shortcuts maps case-insensitive folder names to their home-relative
// targets. "home" maps to the home directory itself.
var shortcuts = map[string]string{
	"desktop":   "Desktop",
	"documents": "Documents",
	"downloads": "Downloads",
	"pictures":  "Pictures",
	"music":     "Music",
	"videos":    "Videos",
	"home":      "",
}

// Home returns the current user's home directory, falling back to "/" when
// it cannot be determined.
func Home() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "/"
}

// Shortcut resolves a bare well-known folder name ("desktop", "pictures",
// ...) to an absolute path under the user's home. The second return value
// reports whether raw was a shortcut.
func Shortcut(raw string) (string, bool) {
	sub, ok := shortcuts[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", false
	}
	return filepath.Join(Home(), sub), true
}

// Expand applies the full expansion pipeline to raw:
//
//  1. bare shortcut names ("pictures" → ~/Pictures, "home" → ~)
//  2. "~" and "~/..." home expansion
//  3. $VAR / ${VAR} environment expansion
//  4. relative resolution against cwd (the session working directory)
//  5. lexical canonicalization
//
// cwd must be absolute; when it is empty the process working directory is
// used. The result is always absolute.
func Expand(raw, cwd string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return cwd
	}

	if abs, ok := Shortcut(p); ok {
		return abs
	}

	if p == "~" {
		p = Home()
	} else if strings.HasPrefix(p, "~/") {
		p = filepath.Join(Home(), p[2:])
	}

	p = os.ExpandEnv(p)

	if !filepath.IsAbs(p) {
		base := cwd
		if base == "" {
			base, _ = os.Getwd()
		}
		p = filepath.Join(base, p)
	}

	return filepath.Clean(p)
}

// LooksLikeDir reports whether dst should be treated as a directory target
// for a file copy: it already exists as a directory, ends with a path
// separator, or its last element has no extension.
func LooksLikeDir(dst string) bool {
	if strings.HasSuffix(dst, "/") || strings.HasSuffix(dst, string(filepath.Separator)) {
		return true
	}
	if fi, err := os.Stat(dst); err == nil {
		return fi.IsDir()
	}
	return filepath.Ext(filepath.Base(dst)) == ""
}
