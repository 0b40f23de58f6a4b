// Package propsynth derives SVN properties for a path from the
// .gitattributes and .gitignore files inherited along that path, mirroring
// how a real Subversion working copy would carry svn:eol-style,
// svn:mime-type, and svn:ignore as first-class versioned properties.
package propsynth

import (
	"path/filepath"
	"regexp"
	"strings"
)

// globPattern is a compiled .gitattributes/.gitignore glob, shared by both
// checkers in this package since both files use the same pattern syntax.
type globPattern struct {
	raw      string
	hasSlash bool
	regex    *regexp.Regexp // set only for patterns containing "**"
}

func compilePattern(raw string) globPattern {
	p := globPattern{raw: raw, hasSlash: strings.Contains(raw, "/")}
	if strings.Contains(raw, "**") {
		if re, err := regexp.Compile(globToRegex(raw)); err == nil {
			p.regex = re
		}
	}
	return p
}

func (p globPattern) match(target string) bool {
	if p.regex != nil {
		return p.regex.MatchString(target)
	}
	matched, _ := filepath.Match(p.raw, target)
	return matched
}

// matchesPath applies the pattern to relPath: patterns with a slash match
// the whole relative path, patterns without one match only the base name.
func (p globPattern) matchesPath(relPath string) bool {
	if p.hasSlash {
		return p.match(relPath)
	}
	return p.match(filepath.Base(relPath))
}

func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
			continue
		}
		if ch == '?' {
			b.WriteString("[^/]")
			continue
		}
		if strings.ContainsRune(`.+()|[]{}^$\\`, rune(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	b.WriteString("$")
	return b.String()
}
