package propsynth

import (
	"fmt"
	"strings"
	"sync"
)

// TreeReader exposes the minimal read a property synthesizer needs from a
// tree snapshot: the content of a named file directly inside a directory.
// The synthesizer never reads anything else, so any versioned filesystem
// backed by a Git tree at a fixed revision can satisfy it directly.
type TreeReader interface {
	ReadFile(dirPath, name string) (data []byte, ok bool, err error)
}

// Synthesizer derives SVN properties for paths within one fixed tree
// snapshot (one revision). Results are memoized per path since the spec
// requires the synthesized map to be a pure function of the tree.
type Synthesizer struct {
	tree TreeReader

	mu          sync.Mutex
	attrsCache  map[string]*AttributesFile
	ignoreCache map[string]*IgnoreFile
	fileProps   map[string]map[string]string
	dirProps    map[string]map[string]string
}

// New returns a Synthesizer reading .gitattributes/.gitignore from tree.
func New(tree TreeReader) *Synthesizer {
	return &Synthesizer{
		tree:        tree,
		attrsCache:  make(map[string]*AttributesFile),
		ignoreCache: make(map[string]*IgnoreFile),
		fileProps:   make(map[string]map[string]string),
		dirProps:    make(map[string]map[string]string),
	}
}

func splitAncestors(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{"/"}
	}
	segments := strings.Split(path, "/")
	dirs := make([]string, 0, len(segments))
	dirs = append(dirs, "/")
	cur := ""
	for _, s := range segments[:len(segments)-1] {
		cur += "/" + s
		dirs = append(dirs, cur)
	}
	return dirs
}

func (s *Synthesizer) attributesFileAt(dir string) (*AttributesFile, error) {
	s.mu.Lock()
	if f, ok := s.attrsCache[dir]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	data, ok, err := s.tree.ReadFile(dir, ".gitattributes")
	if err != nil {
		return nil, fmt.Errorf("propsynth: read .gitattributes at %s: %w", dir, err)
	}
	var f *AttributesFile
	if ok {
		f = ParseAttributesFile(data)
	} else {
		f = &AttributesFile{}
	}

	s.mu.Lock()
	s.attrsCache[dir] = f
	s.mu.Unlock()
	return f, nil
}

func (s *Synthesizer) ignoreFileAt(dir string) (*IgnoreFile, error) {
	s.mu.Lock()
	if f, ok := s.ignoreCache[dir]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	data, ok, err := s.tree.ReadFile(dir, ".gitignore")
	if err != nil {
		return nil, fmt.Errorf("propsynth: read .gitignore at %s: %w", dir, err)
	}
	var f *IgnoreFile
	if ok {
		f = ParseIgnoreFile(data)
	} else {
		f = &IgnoreFile{}
	}

	s.mu.Lock()
	s.ignoreCache[dir] = f
	s.mu.Unlock()
	return f, nil
}

// FileProperties returns the synthesized SVN property map for a file path,
// merging every .gitattributes rule along path's ancestor directories,
// root first so deeper directories override shallower ones.
func (s *Synthesizer) FileProperties(path string) (map[string]string, error) {
	path = "/" + strings.Trim(path, "/")

	s.mu.Lock()
	if cached, ok := s.fileProps[path]; ok {
		s.mu.Unlock()
		return cloneProps(cached), nil
	}
	s.mu.Unlock()

	attrs := make(map[string]string)
	for _, dir := range splitAncestors(path) {
		f, err := s.attributesFileAt(dir)
		if err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(path, dir)
		rel = strings.TrimPrefix(rel, "/")
		f.Apply(rel, attrs)
	}

	props := svnProperties(attrs)

	s.mu.Lock()
	s.fileProps[path] = props
	s.mu.Unlock()
	return cloneProps(props), nil
}

// DirProperties returns the synthesized SVN property map for a directory,
// currently svn:ignore (and svn:inheritable-ignores) derived from that
// directory's own .gitignore file. Matching the original's GitIgnore.apply,
// the property is set only when the file is non-empty, and inheritance to
// subdirectories happens via the property-merge walk rather than by
// propagating the leaf property object itself.
func (s *Synthesizer) DirProperties(path string) (map[string]string, error) {
	path = "/" + strings.Trim(path, "/")

	s.mu.Lock()
	if cached, ok := s.dirProps[path]; ok {
		s.mu.Unlock()
		return cloneProps(cached), nil
	}
	s.mu.Unlock()

	f, err := s.ignoreFileAt(path)
	if err != nil {
		return nil, err
	}

	props := make(map[string]string)
	if !f.Empty() {
		joined := strings.Join(f.RawLines(), "\n")
		props["svn:ignore"] = joined + "\n"
		props["svn:inheritable-ignores"] = joined + "\n"
	}

	s.mu.Lock()
	s.dirProps[path] = props
	s.mu.Unlock()
	return cloneProps(props), nil
}

// FilterName returns the named filter (e.g. "gzip", "lfs-pointer") that
// applies to path's stored bytes, or "" if the filter chain should use the
// identity filter.
func (s *Synthesizer) FilterName(path string) (string, error) {
	props, err := s.FileProperties(path)
	if err != nil {
		return "", err
	}
	return props[internalFilterProperty], nil
}

func cloneProps(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
