// Package ignore reads gitignore-style files so the knowledge index skips
// what the project itself ignores.
package ignore

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFiles are read from the project root, in order.
var DefaultFiles = []string{".gitignore", ".taskpilotignore"}

// Pattern is one parsed ignore rule.
type Pattern struct {
	Glob string
	// DirOnly matches directories only (trailing slash or /**).
	DirOnly bool
	// Anchored matches against the root-relative path instead of the base
	// name (the rule contained a slash).
	Anchored bool
}

// Matcher decides whether a root-relative path is ignored.
type Matcher struct {
	patterns []Pattern
}

// Load parses files found under root. Missing files are skipped.
func Load(root string, files ...string) (*Matcher, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}
	m := &Matcher{}
	for _, name := range files {
		f, err := os.Open(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, patterns...)
	}
	m.patterns = deduplicate(m.patterns)
	return m, nil
}

// Parse reads one gitignore-style file.
func Parse(r io.Reader) ([]Pattern, error) {
	var patterns []Pattern
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if p, ok := parseLine(scanner.Text()); ok {
			patterns = append(patterns, p)
		}
	}
	return patterns, scanner.Err()
}

// parseLine converts one line. Comments, blanks and negations are dropped.
func parseLine(line string) (Pattern, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return Pattern{}, false
	}

	var p Pattern
	if strings.HasSuffix(line, "/**") {
		line = strings.TrimSuffix(line, "/**")
		p.DirOnly = true
	}
	if strings.HasSuffix(line, "/") {
		line = strings.TrimRight(line, "/")
		p.DirOnly = true
	}
	line = strings.TrimPrefix(line, "**/")
	if strings.HasPrefix(line, "/") || strings.Contains(line, "/") {
		p.Anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" || line == "**" {
		return Pattern{}, false
	}
	p.Glob = line
	return p, true
}

// Match reports whether rel (slash or OS separated, relative to the root)
// is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	for _, p := range m.patterns {
		if p.DirOnly && !isDir {
			continue
		}
		target := base
		if p.Anchored {
			target = rel
		}
		if ok, _ := path.Match(p.Glob, target); ok {
			return true
		}
	}
	return false
}

// Patterns returns the parsed rules.
func (m *Matcher) Patterns() []Pattern {
	return m.patterns
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []Pattern) []Pattern {
	seen := make(map[Pattern]bool, len(patterns))
	result := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
