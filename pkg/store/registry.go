package store

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/odvcencio/gitcell/pkg/object"
)

// Seed identity for the initial commit of a fresh repository. A fixed
// signature at epoch 0 makes the seeded history identical across
// instances.
var seedSignature = object.Signature{
	Name:  "gitcell",
	Email: "gitcell@local",
	When:  0,
	TZ:    "+0000",
}

const (
	seedMessage   = "initial commit\n"
	DefaultBranch = "refs/heads/main"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Registry owns one storage handle per repo+user pair, opened on first
// access and cached for the process lifetime. It is the only component
// that opens database connections; everything downstream receives a
// Handle as a capability.
type Registry struct {
	dataDir string

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates a registry storing databases under dataDir. An
// empty dataDir keeps every repository in memory, which tests use.
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		handles: make(map[string]*Handle),
	}
}

// GetOrCreate returns the handle for a repo+user pair, opening and
// seeding the database on first access.
func (r *Registry) GetOrCreate(repo, user string) (*Handle, error) {
	if !namePattern.MatchString(repo) {
		return nil, fmt.Errorf("invalid repository name %q", repo)
	}
	if !namePattern.MatchString(user) {
		return nil, fmt.Errorf("invalid user name %q", user)
	}

	key := repo + "/" + user

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		return h, nil
	}

	db, err := sqlx.Connect("sqlite", r.dsn(repo, user))
	if err != nil {
		return nil, fmt.Errorf("open database for %s: %w", key, err)
	}
	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY between requests.
	db.SetMaxOpenConns(1)

	h, err := NewHandle(db)
	if err != nil {
		return nil, fmt.Errorf("init database for %s: %w", key, err)
	}
	if err := seed(h); err != nil {
		return nil, fmt.Errorf("seed repository %s: %w", key, err)
	}

	r.handles[key] = h
	return h, nil
}

func (r *Registry) dsn(repo, user string) string {
	if r.dataDir == "" {
		return ":memory:"
	}
	return filepath.Join(r.dataDir, repo+"__"+user+".db")
}

// seed initializes an empty repository: the empty tree, an initial
// commit on top of it, refs/heads/main, and HEAD -> refs/heads/main.
// Already-seeded repositories are left untouched.
func seed(h *Handle) error {
	if _, err := h.Refs.Get("HEAD"); err == nil {
		return nil
	}

	treeHash, err := h.Objects.Put(object.TypeTree, nil)
	if err != nil {
		return err
	}
	commitHash, err := h.Objects.Put(object.TypeCommit, object.MarshalCommit(&object.CommitObj{
		TreeHash:  treeHash,
		Author:    seedSignature,
		Committer: seedSignature,
		Message:   seedMessage,
	}))
	if err != nil {
		return err
	}
	if err := h.Refs.Set(DefaultBranch, string(commitHash), false); err != nil {
		return err
	}
	return h.Refs.Set("HEAD", DefaultBranch, true)
}
