// Package reportdriver implements the update/switch/diff/status
// reporter->editor algorithm: the client declares its mixed-revision
// working state path by path, the driver compares it against the target
// tree, and emits editor operations in depth-first, parent-before-children
// order. Text deltas are encoded in SVN's svndiff0 wire form using
// internal/textmerge's MyersDiff over post-filter content split into lines.
package reportdriver

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/svnbridge/svnbridged/internal/textmerge"
	"github.com/svnbridge/svnbridged/internal/vfs"
)

// Depth mirrors SVN's four reporting depths.
type Depth int

const (
	DepthEmpty Depth = iota
	DepthFiles
	DepthImmediates
	DepthInfinity
)

// ReportedPath is one setPath/deletePath call the client made while
// describing its current mixed-revision state.
type ReportedPath struct {
	Path       string
	Rev        int
	StartEmpty bool
	LockToken  string
	Depth      Depth
	Deleted    bool
}

// Reporter accumulates a client's reported working-copy state until
// FinishReport is called.
type Reporter struct {
	entries map[string]ReportedPath
	order   []string
}

func NewReporter() *Reporter {
	return &Reporter{entries: make(map[string]ReportedPath)}
}

// SetPath records (or overwrites) the reported state of path.
func (r *Reporter) SetPath(path string, rev int, startEmpty bool, lockToken string, depth Depth) {
	if _, exists := r.entries[path]; !exists {
		r.order = append(r.order, path)
	}
	r.entries[path] = ReportedPath{Path: path, Rev: rev, StartEmpty: startEmpty, LockToken: lockToken, Depth: depth}
}

// DeletePath records that path should be deleted from the client's view.
func (r *Reporter) DeletePath(path string) {
	if _, exists := r.entries[path]; !exists {
		r.order = append(r.order, path)
	}
	r.entries[path] = ReportedPath{Path: path, Deleted: true}
}

// CopySource names the path/revision an added entry was copied from; the
// driver itself never emits one (it only reconciles a reported tree against
// a target, it never drives a copy), but the field exists so Editor
// implementations shared with internal/commitbuilder's copy-aware AddDir/
// AddFile stay signature-compatible.
type CopySource struct {
	Path string
	Rev  int
}

// Editor is the minimal subset of the commit editor protocol the driver
// drives; internal/commitbuilder.EditorSession satisfies it directly for
// server-side replay/testing, and a wire-facing implementation satisfies it
// for talking to a real SVN client.
type Editor struct {
	OpenRoot       func() error
	OpenDir        func(path string) error
	AddDir         func(path string, copyFrom *CopySource) error
	CloseDir       func(path string) error
	AddFile        func(path string, copyFrom *CopySource) error
	OpenFile       func(path string, baseChecksum string) error
	ChangeProp     func(path, key, value string, isDir bool) error
	ApplyTextDelta func(path string, window SVNDiffWindow) error
	CloseFile      func(path, resultChecksum string) error
	DeleteEntry    func(path string) error
}

func (e *Editor) openRoot() error          { return e.OpenRoot() }
func (e *Editor) openDir(path string) error { return e.OpenDir(path) }
func (e *Editor) addDir(path string, copyFrom *CopySource) error {
	return e.AddDir(path, copyFrom)
}
func (e *Editor) closeDir(path string) error { return e.CloseDir(path) }
func (e *Editor) addFile(path string, copyFrom *CopySource) error {
	return e.AddFile(path, copyFrom)
}
func (e *Editor) openFile(path, baseChecksum string) error { return e.OpenFile(path, baseChecksum) }
func (e *Editor) changeProp(path, key, value string, isDir bool) error {
	return e.ChangeProp(path, key, value, isDir)
}
func (e *Editor) applyTextDelta(path string, window SVNDiffWindow) error {
	return e.ApplyTextDelta(path, window)
}
func (e *Editor) closeFile(path, resultChecksum string) error {
	return e.CloseFile(path, resultChecksum)
}
func (e *Editor) deleteEntry(path string) error { return e.DeleteEntry(path) }

// Driver walks a Reporter's declared entries against a target FS snapshot
// (targetRev, optionally a different targetPath for switch) and drives an
// Editor with the minimal set of operations needed to bring the client's
// view in line with the target.
type Driver struct {
	fs *vfs.FS
}

func NewDriver(fs *vfs.FS) *Driver {
	return &Driver{fs: fs}
}

// Drive replays r's reported entries against targetRev/targetPath in
// depth-first, parent-before-children order, calling the editor's hooks.
// sendAll forces every file's delta to be computed from an empty base
// (svn's "send all data" mode) rather than the reporter's declared base
// revision.
func (d *Driver) Drive(r *Reporter, targetRev int, targetPath string, ed *Editor, sendAll bool) error {
	if err := ed.openRoot(); err != nil {
		return err
	}
	for _, path := range r.order {
		reported := r.entries[path]
		dest := targetPath
		if dest == "" {
			dest = "/"
		}
		destPath := joinTarget(dest, path)
		if err := d.driveOne(reported, destPath, targetRev, ed, sendAll); err != nil {
			return err
		}
	}
	return nil
}

func joinTarget(targetRoot, reportedPath string) string {
	targetRoot = strings.TrimRight(targetRoot, "/")
	return targetRoot + "/" + strings.TrimLeft(reportedPath, "/")
}

// driveOne diffs one reported path against the target tree and emits
// editor operations for it and, if it is a directory, its descendants.
func (d *Driver) driveOne(reported ReportedPath, destPath string, targetRev int, ed *Editor, sendAll bool) error {
	targetNode, err := d.fs.Stat(targetRev, destPath)
	if err != nil {
		return fmt.Errorf("reportdriver: stat target %q: %w", destPath, err)
	}

	if reported.Deleted || targetNode.Kind == vfs.KindAbsent {
		if targetNode.Kind == vfs.KindAbsent {
			return ed.deleteEntry(reported.Path)
		}
	}

	var baseNode *vfs.Node
	if !reported.StartEmpty && reported.Rev > 0 {
		baseNode, err = d.fs.Stat(reported.Rev, destPath)
		if err != nil {
			return fmt.Errorf("reportdriver: stat base %q at rev %d: %w", destPath, reported.Rev, err)
		}
	}

	baseKind := vfs.KindAbsent
	if baseNode != nil {
		baseKind = baseNode.Kind
	}

	if baseKind != vfs.KindAbsent && baseKind != targetNode.Kind {
		if err := ed.deleteEntry(reported.Path); err != nil {
			return err
		}
		baseKind = vfs.KindAbsent
		baseNode = nil
	}

	switch targetNode.Kind {
	case vfs.KindDir:
		return d.driveDir(reported, destPath, targetRev, baseKind == vfs.KindAbsent, ed, sendAll)
	case vfs.KindFile:
		return d.driveFile(reported.Path, baseNode, targetNode, sendAll, ed)
	}
	return nil
}

func (d *Driver) driveDir(reported ReportedPath, destPath string, targetRev int, isNew bool, ed *Editor, sendAll bool) error {
	if isNew {
		if err := ed.addDir(reported.Path, nil); err != nil {
			return err
		}
	} else {
		if err := ed.openDir(reported.Path); err != nil {
			return err
		}
	}

	if reported.Depth != DepthEmpty {
		entries, err := d.fs.List(targetRev, destPath)
		if err != nil {
			return fmt.Errorf("reportdriver: list %q: %w", destPath, err)
		}
		for _, e := range entries {
			childReported := ReportedPath{
				Path:       strings.TrimRight(reported.Path, "/") + "/" + e.Name,
				Rev:        reported.Rev,
				StartEmpty: reported.StartEmpty,
				Depth:      childDepth(reported.Depth),
			}
			childDest := strings.TrimRight(destPath, "/") + "/" + e.Name
			if err := d.driveOne(childReported, childDest, targetRev, ed, sendAll); err != nil {
				return err
			}
		}
	}

	return ed.closeDir(reported.Path)
}

func childDepth(d Depth) Depth {
	if d == DepthInfinity {
		return DepthInfinity
	}
	return DepthEmpty
}

func (d *Driver) driveFile(path string, base, target *vfs.Node, sendAll bool, ed *Editor) error {
	isNew := base == nil || base.Kind != vfs.KindFile
	var baseContent []byte
	var baseChecksum string
	if !isNew && !sendAll {
		content, err := base.Open()
		if err != nil {
			return fmt.Errorf("reportdriver: open base %q: %w", path, err)
		}
		baseContent = content
		sum, err := base.MD5()
		if err != nil {
			return err
		}
		baseChecksum = sum
	}

	targetContent, err := target.Open()
	if err != nil {
		return fmt.Errorf("reportdriver: open target %q: %w", path, err)
	}

	if !isNew && string(baseContent) == string(targetContent) {
		propsChanged, err := propertiesDiffer(base, target)
		if err != nil {
			return err
		}
		if !propsChanged {
			return nil
		}
	}

	if isNew {
		if err := ed.addFile(path, nil); err != nil {
			return err
		}
	} else {
		if err := ed.openFile(path, baseChecksum); err != nil {
			return err
		}
	}

	if err := diffProperties(path, base, target, ed); err != nil {
		return err
	}

	window := EncodeSVNDiff(baseContent, targetContent)
	if err := ed.applyTextDelta(path, window); err != nil {
		return err
	}

	resultSum, err := target.MD5()
	if err != nil {
		return err
	}
	return ed.closeFile(path, resultSum)
}

func propertiesDiffer(base, target *vfs.Node) (bool, error) {
	baseProps, err := base.Properties(false)
	if err != nil {
		return false, err
	}
	targetProps, err := target.Properties(false)
	if err != nil {
		return false, err
	}
	if len(baseProps) != len(targetProps) {
		return true, nil
	}
	for k, v := range targetProps {
		if baseProps[k] != v {
			return true, nil
		}
	}
	return false, nil
}

func diffProperties(path string, base, target *vfs.Node, ed *Editor) error {
	targetProps, err := target.Properties(false)
	if err != nil {
		return err
	}
	var baseProps map[string]string
	if base != nil {
		baseProps, err = base.Properties(false)
		if err != nil {
			return err
		}
	}
	isDir := target.Kind == vfs.KindDir
	for k, v := range targetProps {
		if baseProps[k] != v {
			if err := ed.changeProp(path, k, v, isDir); err != nil {
				return err
			}
		}
	}
	for k := range baseProps {
		if _, ok := targetProps[k]; !ok {
			if err := ed.changeProp(path, k, "", isDir); err != nil {
				return err
			}
		}
	}
	return nil
}

// MyersLineDiff exposes the line-level diff used to build an svndiff0
// window, kept here rather than inlined so tests can assert on it directly.
func MyersLineDiff(base, target []byte) []textmerge.DiffOp {
	return textmerge.MyersDiff(splitLines(base), splitLines(target))
}

// SVNDiffWindow is one svndiff0 window: a source view into the base text
// plus an instruction stream of COPY/NEW ops that rebuild the target view
// from that source view and the window's own new-data section. A single
// window covers the whole file; svnbridged never splits deltas across
// multiple windows.
type SVNDiffWindow struct {
	SourceViewOffset int
	SourceViewLen    int
	TargetViewLen    int
	Instructions     []byte
	NewData          []byte
}

const svndiffMagic = "SVN\x00"

// svndiff opcodes, packed into the instruction byte's top two bits per
// the svndiff0 format: 0x00 COPY-from-source, 0x40 COPY-from-target
// (never emitted here, svnbridged has no need for self-referential
// copies), 0x80 NEW.
const (
	instrCopySource byte = 0x00
	instrNew        byte = 0x80
)

// EncodeSVNDiff builds a single svndiff0 window turning base into target,
// using a line-level Myers diff to find the runs of unchanged source text
// that can be expressed as COPY instructions rather than re-sent as NEW
// data. Encode always emits a source view over the whole of base.
func EncodeSVNDiff(base, target []byte) SVNDiffWindow {
	baseLines := splitLines(base)
	targetLines := splitLines(target)
	ops := textmerge.MyersDiff(baseLines, targetLines)

	var instr bytes.Buffer
	var newData bytes.Buffer
	sourceOffset := 0

	flushNew := func(data []byte) {
		if len(data) == 0 {
			return
		}
		instr.WriteByte(instrNew)
		writeSVNInt(&instr, uint64(len(data)))
		newData.Write(data)
	}

	var pendingNew bytes.Buffer
	flushPendingNew := func() {
		if pendingNew.Len() == 0 {
			return
		}
		flushNew(pendingNew.Bytes())
		pendingNew.Reset()
	}

	for _, op := range ops {
		switch op.Type {
		case textmerge.Equal:
			flushPendingNew()
			instr.WriteByte(instrCopySource)
			writeSVNInt(&instr, uint64(sourceOffset))
			writeSVNInt(&instr, uint64(len(op.Line)))
			sourceOffset += len(op.Line)
		case textmerge.Delete:
			sourceOffset += len(op.Line)
		case textmerge.Insert:
			pendingNew.WriteString(op.Line)
		}
	}
	flushPendingNew()

	return SVNDiffWindow{
		SourceViewOffset: 0,
		SourceViewLen:    len(base),
		TargetViewLen:    len(target),
		Instructions:     instr.Bytes(),
		NewData:          newData.Bytes(),
	}
}

// writeSVNInt appends v as an svndiff variable-length integer: 7 bits per
// byte, high bit set on every byte but the last, most significant group
// first.
func writeSVNInt(buf *bytes.Buffer, v uint64) {
	var tmp [10]byte
	i := len(tmp)
	i--
	tmp[i] = byte(v & 0x7f)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	buf.Write(tmp[i:])
}

// EncodeWindowHeader serializes window's header and instruction/new-data
// lengths the way they are laid out on the wire, ahead of the instruction
// and new-data sections themselves.
func EncodeWindowHeader(w SVNDiffWindow) []byte {
	var buf bytes.Buffer
	writeSVNInt(&buf, uint64(w.SourceViewOffset))
	writeSVNInt(&buf, uint64(w.SourceViewLen))
	writeSVNInt(&buf, uint64(w.TargetViewLen))
	writeSVNInt(&buf, uint64(len(w.Instructions)))
	writeSVNInt(&buf, uint64(len(w.NewData)))
	return buf.Bytes()
}

// EncodeSVNDiffStream serializes window as a complete svndiff0 document:
// magic header, then the one window's header, instructions and new data.
func EncodeSVNDiffStream(w SVNDiffWindow) []byte {
	var buf bytes.Buffer
	buf.WriteString(svndiffMagic)
	buf.Write(EncodeWindowHeader(w))
	buf.Write(w.Instructions)
	buf.Write(w.NewData)
	return buf.Bytes()
}

// readSVNInt reads one svndiff variable-length integer from the front of
// data, the inverse of writeSVNInt, and returns the value and the number of
// bytes consumed.
func readSVNInt(data []byte) (uint64, int, error) {
	var v uint64
	for i, b := range data {
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		if i >= 9 {
			return 0, 0, fmt.Errorf("reportdriver: svndiff integer too long")
		}
	}
	return 0, 0, fmt.Errorf("reportdriver: truncated svndiff integer")
}

// decodeWindow reads one window's header and instruction/new-data sections
// from the front of data, returning the window and the number of bytes
// consumed.
func decodeWindow(data []byte) (SVNDiffWindow, int, error) {
	pos := 0
	readInt := func() (uint64, error) {
		v, n, err := readSVNInt(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		return v, nil
	}

	sourceOffset, err := readInt()
	if err != nil {
		return SVNDiffWindow{}, 0, err
	}
	sourceLen, err := readInt()
	if err != nil {
		return SVNDiffWindow{}, 0, err
	}
	targetLen, err := readInt()
	if err != nil {
		return SVNDiffWindow{}, 0, err
	}
	instrLen, err := readInt()
	if err != nil {
		return SVNDiffWindow{}, 0, err
	}
	newDataLen, err := readInt()
	if err != nil {
		return SVNDiffWindow{}, 0, err
	}

	if pos+int(instrLen) > len(data) || pos+int(instrLen)+int(newDataLen) > len(data) {
		return SVNDiffWindow{}, 0, fmt.Errorf("reportdriver: window sections exceed stream length")
	}
	instructions := data[pos : pos+int(instrLen)]
	pos += int(instrLen)
	newData := data[pos : pos+int(newDataLen)]
	pos += int(newDataLen)

	return SVNDiffWindow{
		SourceViewOffset: int(sourceOffset),
		SourceViewLen:    int(sourceLen),
		TargetViewLen:    int(targetLen),
		Instructions:     instructions,
		NewData:          newData,
	}, pos, nil
}

// DecodeSVNDiffStream parses a complete svndiff0 document - the magic
// header followed by one or more windows - and returns the decoded windows
// in stream order. It mirrors EncodeSVNDiffStream's layout and does not
// inspect instruction bytes; instructions this package never emits (a
// packed inline length or a copy-from-target instruction) are rejected
// rather than guessed at when ApplySVNDiffWindow applies the window.
func DecodeSVNDiffStream(data []byte) ([]SVNDiffWindow, error) {
	if len(data) < len(svndiffMagic) || string(data[:len(svndiffMagic)]) != svndiffMagic {
		return nil, fmt.Errorf("reportdriver: missing svndiff0 magic header")
	}
	rest := data[len(svndiffMagic):]

	var windows []SVNDiffWindow
	for len(rest) > 0 {
		w, n, err := decodeWindow(rest)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
		rest = rest[n:]
	}
	return windows, nil
}

// ApplySVNDiffWindow reconstructs the target content a window encodes,
// given the base content it was diffed against. Instruction bytes are
// interpreted the same way EncodeSVNDiff emits them: the opcode occupies
// the byte's top two bits and its length always follows as a separate
// svndiff integer, never packed into the opcode byte's low six bits.
func ApplySVNDiffWindow(base []byte, w SVNDiffWindow) ([]byte, error) {
	var out bytes.Buffer
	pos := 0
	newPos := 0

	for pos < len(w.Instructions) {
		opByte := w.Instructions[pos]
		pos++
		if opByte&0x3f != 0 {
			return nil, fmt.Errorf("reportdriver: unsupported packed svndiff instruction length in opcode %#x", opByte)
		}
		switch opByte & 0xc0 {
		case instrCopySource:
			offset, n, err := readSVNInt(w.Instructions[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			length, n, err := readSVNInt(w.Instructions[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			if int(offset) < 0 || int(offset)+int(length) > len(base) {
				return nil, fmt.Errorf("reportdriver: copy-source instruction reads past base content")
			}
			out.Write(base[int(offset) : int(offset)+int(length)])
		case instrNew:
			length, n, err := readSVNInt(w.Instructions[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			if newPos+int(length) > len(w.NewData) {
				return nil, fmt.Errorf("reportdriver: new-data instruction reads past new data section")
			}
			out.Write(w.NewData[newPos : newPos+int(length)])
			newPos += int(length)
		default:
			return nil, fmt.Errorf("reportdriver: unsupported svndiff instruction opcode %#x", opByte)
		}
	}

	if out.Len() != w.TargetViewLen {
		return nil, fmt.Errorf("reportdriver: reconstructed %d bytes, window declares target length %d", out.Len(), w.TargetViewLen)
	}
	return out.Bytes(), nil
}

// DecodeSVNDiff decodes a complete svndiff0 document and applies every
// window in turn, feeding each window's reconstructed output forward as the
// base for the next window (svnbridged always emits a single window per
// file, so in practice this loop runs once).
func DecodeSVNDiff(base []byte, stream []byte) ([]byte, error) {
	windows, err := DecodeSVNDiffStream(stream)
	if err != nil {
		return nil, err
	}
	content := base
	for _, w := range windows {
		decoded, err := ApplySVNDiffWindow(content, w)
		if err != nil {
			return nil, err
		}
		content = decoded
	}
	return content, nil
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	raw := strings.SplitAfter(string(b), "\n")
	if raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	return raw
}
