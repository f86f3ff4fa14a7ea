// Package ignore decides which working-tree paths stay out of checkpoint
// snapshots and watcher subscriptions, using git's own ignore rules.
package ignore

import (
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Matcher answers ignore queries for one working tree.
type Matcher struct {
	root     string
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
}

// Load reads .git/info/exclude and every .gitignore under root, the user's
// core.excludesfile, then the extra patterns. Later patterns take priority.
func Load(root string, extra ...string) (*Matcher, error) {
	ps, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		return nil, err
	}
	if global, err := gitignore.LoadGlobalPatterns(osfs.New("/")); err == nil {
		ps = append(global, ps...)
	}
	for _, line := range deduplicate(extra) {
		if p := parseLine(line); p != "" {
			ps = append(ps, gitignore.ParsePattern(p, nil))
		}
	}
	return &Matcher{root: root, patterns: ps, matcher: gitignore.NewMatcher(ps)}, nil
}

// Root returns the working tree the matcher was loaded for.
func (m *Matcher) Root() string { return m.root }

// Ignored reports whether rel, a slash or OS separated path relative to the
// root, is excluded. The .git directory is always excluded.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	parts := split(rel)
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p == ".git" {
			return true
		}
	}
	return m.matcher.Match(parts, isDir)
}

// IgnoredAbs is Ignored for an absolute path. Paths outside the root are
// never ignored.
func (m *Matcher) IgnoredAbs(path string, isDir bool) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return m.Ignored(rel, isDir)
}

func split(rel string) []string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" {
		return nil
	}
	return strings.Split(strings.Trim(rel, "/"), "/")
}

// parseLine returns the pattern text of one ignore line, or "" for blanks
// and comments.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))

	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}
