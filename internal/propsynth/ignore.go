package propsynth

import (
	"bufio"
	"bytes"
	"strings"
)

// ignoreRule is one line of a .gitignore file.
type ignoreRule struct {
	pattern globPattern
	negated bool
	dirOnly bool
}

// IgnoreFile holds the parsed, precompiled rules of a single .gitignore file
// found in one directory. Last matching rule wins, which is how negation
// ("!pattern") un-ignores an earlier match.
type IgnoreFile struct {
	rules []ignoreRule
	// raw is the original (non-empty, non-comment) line text, preserved in
	// order, for rendering svn:ignore / svn:inheritable-ignores verbatim.
	raw []string
}

// ParseIgnoreFile parses the contents of a .gitignore file.
func ParseIgnoreFile(data []byte) *IgnoreFile {
	f := &IgnoreFile{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		rule, raw := parseIgnoreLine(line)
		if rule == nil {
			continue
		}
		f.rules = append(f.rules, *rule)
		f.raw = append(f.raw, raw)
	}
	return f
}

func parseIgnoreLine(line string) (*ignoreRule, string) {
	original := line
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, ""
	}

	r := &ignoreRule{}
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	r.pattern = compilePattern(line)
	return r, strings.TrimRight(original, " \t")
}

// Matches reports whether relPath (relative to the directory holding this
// file) is ignored by it.
func (f *IgnoreFile) Matches(relPath string) bool {
	lastMatch := -1
	ignored := false
	for i, r := range f.rules {
		var matched bool
		if r.dirOnly {
			matched = relPath == r.pattern.raw || strings.HasPrefix(relPath, r.pattern.raw+"/")
		} else {
			matched = r.pattern.matchesPath(relPath)
		}
		if matched && i > lastMatch {
			lastMatch = i
			ignored = !r.negated
		}
	}
	return ignored
}

// Empty reports whether the file had no usable rules, matching the
// original's "only set the property when the file is non-empty" rule.
func (f *IgnoreFile) Empty() bool {
	return len(f.raw) == 0
}

// RawLines returns the ignore patterns in file order, suitable for joining
// into svn:ignore / svn:inheritable-ignores property text.
func (f *IgnoreFile) RawLines() []string {
	return f.raw
}
