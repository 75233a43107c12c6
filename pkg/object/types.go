package object

// Hash is a 40-character hex-encoded SHA-1 digest.
type Hash string

// ZeroHash is the all-zero hash used by the wire protocol to mean
// "no object" in ref create/delete updates.
const ZeroHash Hash = "0000000000000000000000000000000000000000"

// HashHexLen is the length of a hex-encoded hash; RawHashLen is the
// length of its binary form as embedded in tree bodies and packs.
const (
	HashHexLen = 40
	RawHashLen = 20
)

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

const (
	// Tree mode strings as git serializes them. Note the directory mode
	// carries no leading zero on disk.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// TreeEntry is one entry in a tree object: a single path segment
// pointing at a blob or subtree.
type TreeEntry struct {
	Mode string
	Name string
	Hash Hash
}

// IsDir reports whether the entry points at a subtree.
func (e TreeEntry) IsDir() bool {
	return e.Mode == TreeModeDir
}

// Signature is an author or committer line: identity plus a unix
// timestamp and a timezone offset such as "+0000".
type Signature struct {
	Name  string
	Email string
	When  int64
	TZ    string
}

// CommitObj represents a commit pointing at a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
}

// TagObj is an annotated tag pointing at another object.
type TagObj struct {
	TargetHash Hash
	TargetType ObjectType
	Name       string
	Tagger     Signature
	Message    string
}

// GitObject is a stored object: kind, declared size, and raw body.
type GitObject struct {
	Hash Hash
	Kind ObjectType
	Size int64
	Body []byte
}

// ParseObjectType validates and normalizes an object type string.
func ParseObjectType(s string) (ObjectType, bool) {
	switch ObjectType(s) {
	case TypeBlob, TypeTree, TypeCommit, TypeTag:
		return ObjectType(s), true
	}
	return "", false
}
