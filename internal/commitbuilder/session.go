package commitbuilder

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/propsynth"
	"github.com/svnbridge/svnbridged/internal/reportdriver"
	"github.com/svnbridge/svnbridged/internal/vfs"
)

// EditorState tracks where an EditorSession sits in its drive sequence:
// Open while the editor is being driven, then Closed or Aborted once the
// transaction is finished.
type EditorState int

const (
	StateOpen EditorState = iota
	StateClosed
	StateAborted
)

func (s EditorState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// CopySource names the (path, revision) an addDir or addFile call copies
// from, when the edit represents an svn copy rather than a fresh add.
type CopySource struct {
	Path string
	Rev  int
}

type explicitPropChange struct {
	path, key, value string
	isDir            bool
}

type pendingFile struct {
	path         string
	baseChecksum string
	baseContent  []byte
	buf          bytes.Buffer
	hasDelta     bool
	decoded      bool
}

// EditorSession drives one commit through the openRoot/openDir/addFile/...
// state machine an SVN commit editor presents, accumulating a flattened
// file map that buildTree turns into commit trees once closeEdit is called.
type EditorSession struct {
	builder *Builder
	baseRev int
	message string
	author  string

	lockTokens map[string]string

	state    EditorState
	rootOpen bool
	dirStack []string

	files         map[string]*stagedEntry
	touchedPaths  map[string]bool
	explicitProps []explicitPropChange
	pending       *pendingFile
}

func (s *EditorSession) requireOpen(call string) error {
	if s.state != StateOpen {
		return &IllegalStateError{Call: call, State: s.state}
	}
	return nil
}

func (s *EditorSession) currentDir() string {
	if len(s.dirStack) == 0 {
		return ""
	}
	return s.dirStack[len(s.dirStack)-1]
}

func (s *EditorSession) checkLock(path string) error {
	if s.builder.locks == nil {
		return nil
	}
	token := s.lockTokens[path]
	if !s.builder.locks.TokenValid(path, token) {
		return &LockDeniedError{Path: path}
	}
	return nil
}

// OpenRoot begins the edit against baseRev's tree.
func (s *EditorSession) OpenRoot() error {
	if err := s.requireOpen("openRoot"); err != nil {
		return err
	}
	if s.rootOpen {
		return &IllegalStateError{Call: "openRoot", State: s.state}
	}
	s.rootOpen = true
	s.dirStack = append(s.dirStack, "")
	return nil
}

// OpenDir opens an existing directory for nested edits.
func (s *EditorSession) OpenDir(path string) error {
	if err := s.requireOpen("openDir"); err != nil {
		return err
	}
	if !s.rootOpen {
		return &IllegalStateError{Call: "openDir", State: s.state}
	}
	s.dirStack = append(s.dirStack, normPath(path))
	return nil
}

// AddDir adds a new directory, optionally copying an existing subtree.
func (s *EditorSession) AddDir(path string, copyFrom *CopySource) error {
	if err := s.requireOpen("addDir"); err != nil {
		return err
	}
	path = normPath(path)
	if copyFrom != nil {
		if err := s.copyTreeInto(path, copyFrom); err != nil {
			return err
		}
	}
	s.dirStack = append(s.dirStack, path)
	s.touchedPaths[path] = true
	return nil
}

// CloseDir ends the directory currently on top of the stack.
func (s *EditorSession) CloseDir(path string) error {
	if err := s.requireOpen("closeDir"); err != nil {
		return err
	}
	if len(s.dirStack) == 0 || s.currentDir() != normPath(path) {
		return &IllegalStateError{Call: "closeDir", State: s.state}
	}
	s.dirStack = s.dirStack[:len(s.dirStack)-1]
	return nil
}

// AddFile stages a new file at path, optionally copying an existing file's
// content as its starting point.
func (s *EditorSession) AddFile(path string, copyFrom *CopySource) error {
	if err := s.requireOpen("addFile"); err != nil {
		return err
	}
	path = normPath(path)
	if err := s.checkLock(path); err != nil {
		return err
	}
	if copyFrom != nil {
		n, err := s.builder.fs.Stat(copyFrom.Rev, copyFrom.Path)
		if err != nil {
			return fmt.Errorf("commitbuilder: addFile copy source: %w", err)
		}
		if n.Kind != vfs.KindFile {
			return fmt.Errorf("commitbuilder: addFile: copy source %q is not a file", copyFrom.Path)
		}
		s.files[path] = &stagedEntry{blobHash: n.BlobHash, mode: gitobj.TreeModeFile}
	} else {
		s.files[path] = &stagedEntry{mode: gitobj.TreeModeFile}
	}
	s.touchedPaths[path] = true
	return nil
}

// OpenFile opens an existing file for modification, optionally validating
// its current content against baseChecksum (hex MD5).
func (s *EditorSession) OpenFile(path, baseChecksum string) error {
	if err := s.requireOpen("openFile"); err != nil {
		return err
	}
	path = normPath(path)
	if err := s.checkLock(path); err != nil {
		return err
	}
	if baseChecksum != "" {
		n, err := s.builder.fs.Stat(s.baseRev, path)
		if err != nil {
			return fmt.Errorf("commitbuilder: openFile: %w", err)
		}
		if n.Kind != vfs.KindFile {
			return fmt.Errorf("commitbuilder: openFile: %q is not a file", path)
		}
		sum, err := n.MD5()
		if err != nil {
			return err
		}
		if sum != baseChecksum {
			return &ChecksumMismatchError{Path: path, Expected: baseChecksum, Got: sum}
		}
	}
	s.touchedPaths[path] = true
	return nil
}

// DeleteEntry removes a file or directory subtree from the tree being
// built.
func (s *EditorSession) DeleteEntry(path string) error {
	if err := s.requireOpen("deleteEntry"); err != nil {
		return err
	}
	path = normPath(path)
	if err := s.checkLock(path); err != nil {
		return err
	}
	n, err := s.builder.fs.Stat(s.baseRev, path)
	if err != nil {
		return fmt.Errorf("commitbuilder: deleteEntry: %w", err)
	}
	switch n.Kind {
	case vfs.KindFile:
		s.files[path] = &stagedEntry{deleted: true}
	case vfs.KindDir:
		root, err := s.builder.rootTreeAt(s.baseRev)
		if err != nil {
			return err
		}
		entry, ok, err := lookupPath(s.builder.store, root, path)
		if err != nil {
			return err
		}
		if ok {
			files, err := vfs.FlattenTree(s.builder.store, entry.SubtreeHash)
			if err != nil {
				return fmt.Errorf("commitbuilder: deleteEntry %q: %w", path, err)
			}
			for _, f := range files {
				full := path + "/" + f.Path
				s.files[full] = &stagedEntry{deleted: true}
			}
		}
	default:
		return fmt.Errorf("commitbuilder: deleteEntry: %q does not exist", path)
	}
	s.touchedPaths[path] = true
	return nil
}

// ChangeProp records a property change against path, deferring validation
// against the tree's synthesized properties to closeEdit.
func (s *EditorSession) ChangeProp(path, key, value string, isDir bool) error {
	if err := s.requireOpen("changeProp"); err != nil {
		return err
	}
	s.explicitProps = append(s.explicitProps, explicitPropChange{path: normPath(path), key: key, value: value, isDir: isDir})
	s.touchedPaths[normPath(path)] = true
	return nil
}

// ApplyTextDelta begins streaming a new svndiff0-encoded delta for path,
// validating the file's current content against baseChecksum when provided
// and fetching that content to serve as the delta's source view.
func (s *EditorSession) ApplyTextDelta(path, baseChecksum string) error {
	if err := s.requireOpen("applyTextDelta"); err != nil {
		return err
	}
	path = normPath(path)
	var baseContent []byte
	n, err := s.builder.fs.Stat(s.baseRev, path)
	if err == nil && n.Kind == vfs.KindFile {
		content, err := n.Open()
		if err != nil {
			return err
		}
		baseContent = content
		if baseChecksum != "" {
			sum, err := n.MD5()
			if err != nil {
				return err
			}
			if sum != baseChecksum {
				return &ChecksumMismatchError{Path: path, Expected: baseChecksum, Got: sum}
			}
		}
	}
	s.pending = &pendingFile{path: path, baseChecksum: baseChecksum, baseContent: baseContent, hasDelta: true}
	return nil
}

// TextDeltaChunk appends a slice of the svndiff0 wire stream for the file
// under delta. A real client's delta can arrive split across several
// textdelta-chunk calls; the bytes are only decoded once the stream is
// complete, in TextDeltaEnd.
func (s *EditorSession) TextDeltaChunk(path string, data []byte) error {
	if err := s.requireOpen("textDeltaChunk"); err != nil {
		return err
	}
	path = normPath(path)
	if s.pending == nil || s.pending.path != path {
		return &IllegalStateError{Call: "textDeltaChunk", State: s.state}
	}
	s.pending.buf.Write(data)
	return nil
}

// TextDeltaEnd decodes the accumulated svndiff0 stream against the file's
// base content the first time it is called for path, validating the
// reconstructed content against resultChecksum when provided. A real
// client sends textdelta-end once to close the delta and then, separately,
// an optional text checksum on close-file; both arrive here as a
// TextDeltaEnd call, so a second call for the same path only checks the
// checksum against the already-decoded content rather than decoding again.
func (s *EditorSession) TextDeltaEnd(path, resultChecksum string) error {
	if err := s.requireOpen("textDeltaEnd"); err != nil {
		return err
	}
	path = normPath(path)
	if s.pending == nil || s.pending.path != path {
		return &IllegalStateError{Call: "textDeltaEnd", State: s.state}
	}
	if !s.pending.decoded {
		content, err := reportdriver.DecodeSVNDiff(s.pending.baseContent, s.pending.buf.Bytes())
		if err != nil {
			return fmt.Errorf("commitbuilder: textDeltaEnd %q: %w", path, err)
		}
		s.pending.buf.Reset()
		s.pending.buf.Write(content)
		s.pending.decoded = true
	}
	if resultChecksum != "" {
		sum := md5.Sum(s.pending.buf.Bytes())
		got := hex.EncodeToString(sum[:])
		if got != resultChecksum {
			return &ChecksumMismatchError{Path: path, Expected: resultChecksum, Got: got}
		}
	}
	return nil
}

// CloseFile finalizes a file's staged content: the pending delta if one was
// applied, or the content already staged by addFile's copy source if not.
func (s *EditorSession) CloseFile(path string) error {
	if err := s.requireOpen("closeFile"); err != nil {
		return err
	}
	path = normPath(path)

	var content []byte
	haveContent := false
	if s.pending != nil && s.pending.path == path {
		content = append([]byte(nil), s.pending.buf.Bytes()...)
		haveContent = true
		s.pending = nil
	}

	if !haveContent {
		// No delta this round: either the file is unchanged (a bare
		// openFile/closeFile for a property-only edit) or it was added
		// by copy and keeps the copied blob as-is.
		if entry, ok := s.files[path]; ok && entry.blobHash != "" {
			return nil
		}
		n, err := s.builder.fs.Stat(s.baseRev, path)
		if err == nil && n.Kind == vfs.KindFile {
			return nil
		}
		content = nil
	}

	synth := propsynth.New(s.sessionTreeReader())
	filterName, err := synth.FilterName(path)
	if err != nil {
		return fmt.Errorf("commitbuilder: closeFile %q: %w", path, err)
	}
	stored, err := s.builder.filters.Encode(filterName, content)
	if err != nil {
		return fmt.Errorf("commitbuilder: closeFile %q: encode: %w", path, err)
	}
	blobHash, err := gitobj.WriteBlob(s.builder.store, &gitobj.Blob{Data: stored})
	if err != nil {
		return fmt.Errorf("commitbuilder: closeFile %q: %w", path, err)
	}

	mode := gitobj.TreeModeFile
	for _, pc := range s.explicitProps {
		if pc.path == path && pc.key == "svn:executable" {
			mode = gitobj.TreeModeExecutable
		}
	}
	s.files[path] = &stagedEntry{blobHash: blobHash, mode: mode}
	return nil
}

// AbortEdit discards the session; no ref update is performed.
func (s *EditorSession) AbortEdit() error {
	if s.state != StateOpen {
		return &IllegalStateError{Call: "abortEdit", State: s.state}
	}
	s.state = StateAborted
	return nil
}

// CloseEdit finishes the drive, assembling and committing the staged tree.
func (s *EditorSession) CloseEdit() (int, gitobj.Hash, error) {
	if err := s.requireOpen("closeEdit"); err != nil {
		return 0, "", err
	}
	if len(s.dirStack) > 1 || (len(s.dirStack) == 1 && s.dirStack[0] != "") {
		return 0, "", &IllegalStateError{Call: "closeEdit", State: s.state}
	}
	s.state = StateClosed
	return s.builder.finishCommit(s)
}

// copyTreeInto copies every file under copyFrom's path (at copyFrom's
// revision) into dest, preserving relative layout.
func (s *EditorSession) copyTreeInto(dest string, copyFrom *CopySource) error {
	root, err := s.builder.rootTreeAt(copyFrom.Rev)
	if err != nil {
		return fmt.Errorf("commitbuilder: addDir copy source: %w", err)
	}
	sourcePath := normPath(copyFrom.Path)
	entry, ok, err := lookupPath(s.builder.store, root, sourcePath)
	if err != nil {
		return fmt.Errorf("commitbuilder: addDir copy source: %w", err)
	}
	if !ok {
		return fmt.Errorf("commitbuilder: addDir: copy source %q does not exist at revision %d", copyFrom.Path, copyFrom.Rev)
	}
	if !entry.IsDir {
		return fmt.Errorf("commitbuilder: addDir: copy source %q is not a directory", copyFrom.Path)
	}

	files, err := vfs.FlattenTree(s.builder.store, entry.SubtreeHash)
	if err != nil {
		return fmt.Errorf("commitbuilder: addDir copy source: %w", err)
	}
	for _, f := range files {
		destPath := f.Path
		if dest != "" {
			destPath = dest + "/" + f.Path
		}
		s.files[destPath] = &stagedEntry{blobHash: f.BlobHash, mode: f.Mode}
	}
	return nil
}

// sessionTreeReader lets propsynth see the tree as it will exist once the
// edit closes: pending file writes layered over the base revision.
type sessionTreeReader struct {
	session *EditorSession
}

func (s *EditorSession) sessionTreeReader() propsynth.TreeReader {
	return sessionTreeReader{session: s}
}

func (r sessionTreeReader) ReadFile(dirPath, name string) ([]byte, bool, error) {
	rel := strings.TrimPrefix(dirPath, "/")
	full := name
	if rel != "" {
		full = rel + "/" + name
	}
	if entry, ok := r.session.files[full]; ok {
		if entry.blobHash == "" {
			return nil, false, nil
		}
		blob, err := gitobj.ReadBlob(r.session.builder.store, entry.blobHash)
		if err != nil {
			return nil, false, err
		}
		return blob.Data, true, nil
	}
	n, err := r.session.builder.fs.Stat(r.session.baseRev, "/"+full)
	if err != nil {
		return nil, false, err
	}
	if n.Kind != vfs.KindFile {
		return nil, false, nil
	}
	data, err := n.Open()
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func normPath(p string) string {
	return strings.Trim(p, "/")
}
