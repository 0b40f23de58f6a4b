package propsynth

import (
	"bufio"
	"bytes"
	"strings"
)

// attrRule is one pattern line of a .gitattributes file, carrying every
// attribute assignment on that line.
type attrRule struct {
	pattern globPattern
	attrs   map[string]string
}

// Recognized attribute values. "set"/"unset" mark boolean attributes such
// as text/-text/binary; eol and filter carry their own string value.
const (
	attrSet   = "set"
	attrUnset = "unset"
)

// AttributesFile holds the parsed rules of a single .gitattributes file
// found in one directory.
type AttributesFile struct {
	rules []attrRule
}

// ParseAttributesFile parses the contents of a .gitattributes file.
func ParseAttributesFile(data []byte) *AttributesFile {
	f := &AttributesFile{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		rule := attrRule{pattern: compilePattern(fields[0]), attrs: make(map[string]string)}
		for _, tok := range fields[1:] {
			name, value, ok := parseAttrToken(tok)
			if !ok {
				continue
			}
			rule.attrs[name] = value
		}
		if len(rule.attrs) > 0 {
			f.rules = append(f.rules, rule)
		}
	}
	return f
}

func parseAttrToken(tok string) (name, value string, ok bool) {
	switch {
	case tok == "":
		return "", "", false
	case tok == "binary":
		return "binary", attrSet, true
	case tok == "text":
		return "text", attrSet, true
	case tok == "-text":
		return "text", attrUnset, true
	case strings.HasPrefix(tok, "eol="):
		return "eol", strings.TrimPrefix(tok, "eol="), true
	case strings.HasPrefix(tok, "filter="):
		return "filter", strings.TrimPrefix(tok, "filter="), true
	case strings.HasPrefix(tok, "-"):
		return strings.TrimPrefix(tok, "-"), attrUnset, true
	default:
		return tok, attrSet, true
	}
}

// Apply merges every rule matching relPath into attrs, in file order, so
// that a later rule in the same file overrides an earlier one for the same
// attribute key.
func (f *AttributesFile) Apply(relPath string, attrs map[string]string) {
	for _, r := range f.rules {
		if !r.pattern.matchesPath(relPath) {
			continue
		}
		for k, v := range r.attrs {
			attrs[k] = v
		}
	}
}

// svnProperties translates a merged attribute set into the SVN property
// map described by the property synthesizer: text/-text/eol= becomes
// svn:eol-style, binary becomes svn:mime-type (removing any eol-style),
// and filter= becomes an internal property recording the filter name for
// the read/write filter chain.
func svnProperties(attrs map[string]string) map[string]string {
	props := make(map[string]string)

	if attrs["binary"] == attrSet {
		props["svn:mime-type"] = "application/octet-stream"
	} else if eol := attrs["eol"]; eol != "" {
		props["svn:eol-style"] = eolStyleName(eol)
	} else if attrs["text"] == attrSet {
		props["svn:eol-style"] = "native"
	}

	if filter := attrs["filter"]; filter != "" {
		props[internalFilterProperty] = filter
	}

	return props
}

func eolStyleName(eol string) string {
	switch strings.ToLower(eol) {
	case "lf":
		return "LF"
	case "crlf":
		return "CRLF"
	case "cr":
		return "CR"
	default:
		return "native"
	}
}

// internalFilterProperty is never sent on the wire; it records which named
// filter the filter chain should apply to this path's stored bytes.
const internalFilterProperty = "svnbridge:filter"
