package commitbuilder

import "fmt"

// IllegalStateError reports an editor driver call made while the session is
// in a state that does not permit it (e.g. a second openRoot, or any call
// after closeEdit/abortEdit).
type IllegalStateError struct {
	Call  string
	State EditorState
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("commitbuilder: %s not allowed in state %s", e.Call, e.State)
}

// PropertyConflictError is returned when changeProp sets a synthesized
// property (one derived from .gitattributes or .gitignore) to a value the
// tree being committed would not itself synthesize, without also editing
// the attributes file that governs it.
type PropertyConflictError struct {
	Path     string
	Property string
	Wanted   string
	Derived  string
}

func (e *PropertyConflictError) Error() string {
	return fmt.Sprintf("commitbuilder: property conflict at %q: %s=%q but tree derives %q", e.Path, e.Property, e.Wanted, e.Derived)
}

// OutOfDateError is returned when closeEdit's rebase-on-conflict retry could
// not reconcile the staged edit with the branch tip, listing every path
// where both sides changed the same content incompatibly.
type OutOfDateError struct {
	ConflictPaths []string
}

func (e *OutOfDateError) Error() string {
	return fmt.Sprintf("commitbuilder: out of date, conflicts at %v", e.ConflictPaths)
}

// LockDeniedError is returned when an edit touches a locked path without
// presenting its lock token.
type LockDeniedError struct {
	Path string
}

func (e *LockDeniedError) Error() string {
	return fmt.Sprintf("commitbuilder: path %q is locked", e.Path)
}

// ChecksumMismatchError is returned when a delta's declared base or result
// checksum does not match the content it was applied against or produced.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Got      string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("commitbuilder: checksum mismatch at %q: expected %s, got %s", e.Path, e.Expected, e.Got)
}
