package index

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Matcher decides which directory entries take part in a synchronization
// run. Rules come from an ignore file with one name-only glob per line;
// blank lines and # comments are skipped. Hidden entries and files without
// the Markdown extension are always excluded.
type Matcher struct {
	patterns []string
}

// NewMatcher returns a matcher with the given ignore patterns.
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// LoadMatcher reads ignore rules from the named file inside dir. A missing
// ignore file yields an empty matcher.
func LoadMatcher(dir, ignoreFile string) (*Matcher, error) {
	if ignoreFile == "" {
		return NewMatcher(nil), nil
	}
	file, err := os.Open(filepath.Join(dir, ignoreFile))
	if os.IsNotExist(err) {
		return NewMatcher(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ignore rules: %w", err)
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	lines := bufio.NewScanner(file)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := filepath.Match(line, ""); err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", line, err)
		}
		patterns = append(patterns, line)
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore rules: %w", err)
	}
	return NewMatcher(patterns), nil
}

// Excluded reports whether the entry name is excluded by the rules or by
// the hidden-entry convention.
func (m *Matcher) Excluded(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range m.patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// Document reports whether name is a document the indexer should scan.
func (m *Matcher) Document(name string) bool {
	return !m.Excluded(name) && strings.EqualFold(filepath.Ext(name), ".md")
}
