package gitobj

// Hash is a 64-character hex-encoded SHA-256 digest identifying a stored
// object, mirroring the content addressing of a Git repository using the
// SHA-256 object format.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTag    ObjectType = "tag"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
)

// Blob holds raw file data exactly as it is stored in the object store,
// the filter chain's "stored" representation, not the client-visible one.
type Blob struct {
	Data []byte
}

// TagObj preserves an annotated tag payload while tracking the referenced
// object.
type TagObj struct {
	TargetHash Hash
	Data       []byte
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// TreeObj holds a sorted list of tree entries. Entries are sorted by Name so
// that two trees with identical content hash identically.
type TreeObj struct {
	Entries []TreeEntry
}

// CommitObj represents a commit pointing to a tree with metadata. Only the
// first element of Parents is followed when assigning revision numbers;
// later parents are retained for completeness of `log -g`-style inspection
// but are not assigned revisions of their own.
type CommitObj struct {
	TreeHash           Hash
	Parents            []Hash
	Author             string
	Timestamp          int64
	AuthorTimezone     string
	Committer          string
	CommitterTimestamp int64
	CommitterTimezone  string
	Message            string
}
