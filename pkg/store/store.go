// Package store persists objects and refs for one repository instance
// in a small relational database. Objects are write-once rows keyed by
// content hash; refs are mutable name->target rows with symbolic
// indirection for HEAD.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/odvcencio/gitcell/pkg/object"
)

var (
	// ErrNotFound is returned when an object or ref does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRefCycle is returned when symbolic ref resolution loops.
	ErrRefCycle = errors.New("symbolic ref cycle")
	// ErrRefCASMismatch is returned when a compare-and-swap ref update
	// finds a current value other than the expected one.
	ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	hash TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	size INTEGER NOT NULL,
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS refs (
	name TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	symbolic INTEGER NOT NULL DEFAULT 0
);
`

// Handle bundles the object and ref stores of one repository instance
// over a single database connection. Handles stay open for the process
// lifetime and are reused across requests.
type Handle struct {
	db      *sqlx.DB
	Objects *ObjectStore
	Refs    *RefStore
}

// NewHandle wraps an open database, creating the schema if needed.
func NewHandle(db *sqlx.DB) (*Handle, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Handle{
		db:      db,
		Objects: &ObjectStore{db: db},
		Refs:    &RefStore{db: db},
	}, nil
}

// ---------------------------------------------------------------------------
// Object store
// ---------------------------------------------------------------------------

type objectRow struct {
	Hash string `db:"hash"`
	Kind string `db:"kind"`
	Size int64  `db:"size"`
	Body []byte `db:"body"`
}

// ObjectStore is a content-addressed, write-once object table.
type ObjectStore struct {
	db *sqlx.DB
}

// Put stores an object and returns its content hash. Inserting an
// already-present hash is a no-op; objects are immutable once stored.
func (s *ObjectStore) Put(kind object.ObjectType, body []byte) (object.Hash, error) {
	if _, ok := object.ParseObjectType(string(kind)); !ok {
		return "", fmt.Errorf("put object: invalid kind %q", kind)
	}
	h := object.HashObject(kind, body)
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO objects (hash, kind, size, body) VALUES (?, ?, ?, ?)`,
		string(h), string(kind), int64(len(body)), body,
	)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", h, err)
	}
	return h, nil
}

// Get retrieves an object by hash.
func (s *ObjectStore) Get(h object.Hash) (*object.GitObject, error) {
	var row objectRow
	err := s.db.Get(&row, `SELECT hash, kind, size, body FROM objects WHERE hash = ?`, string(h))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", h, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", h, err)
	}
	return &object.GitObject{
		Hash: object.Hash(row.Hash),
		Kind: object.ObjectType(row.Kind),
		Size: row.Size,
		Body: row.Body,
	}, nil
}

// Has reports whether the store contains the given hash.
func (s *ObjectStore) Has(h object.Hash) (bool, error) {
	var one int
	err := s.db.Get(&one, `SELECT 1 FROM objects WHERE hash = ?`, string(h))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has object %s: %w", h, err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Ref store
// ---------------------------------------------------------------------------

type refRow struct {
	Name     string `db:"name"`
	Target   string `db:"target"`
	Symbolic bool   `db:"symbolic"`
}

// Ref is a resolved ref listing entry.
type Ref struct {
	Name string
	Hash object.Hash
}

// RefStore is a mutable name->target registry. Symbolic targets name
// another ref; resolution follows them transitively.
type RefStore struct {
	db *sqlx.DB
}

// Get resolves name to a concrete hash, following symbolic refs with a
// visited set so a cycle fails with ErrRefCycle instead of looping.
// A missing ref returns ErrNotFound.
func (s *RefStore) Get(name string) (object.Hash, error) {
	visited := make(map[string]struct{})
	for {
		if _, ok := visited[name]; ok {
			return "", fmt.Errorf("ref %s: %w", name, ErrRefCycle)
		}
		visited[name] = struct{}{}

		var row refRow
		err := s.db.Get(&row, `SELECT name, target, symbolic FROM refs WHERE name = ?`, name)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("ref %s: %w", name, ErrNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("get ref %s: %w", name, err)
		}
		if !row.Symbolic {
			return object.Hash(row.Target), nil
		}
		name = row.Target
	}
}

// Set writes a ref, overwriting any previous value.
func (s *RefStore) Set(name, target string, symbolic bool) error {
	_, err := s.db.Exec(
		`INSERT INTO refs (name, target, symbolic) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET target = excluded.target, symbolic = excluded.symbolic`,
		name, target, symbolic,
	)
	if err != nil {
		return fmt.Errorf("set ref %s: %w", name, err)
	}
	return nil
}

// Delete removes a ref, reporting whether it existed.
func (s *RefStore) Delete(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM refs WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete ref %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete ref %s: %w", name, err)
	}
	return n > 0, nil
}

// List returns refs whose name starts with prefix, sorted by name, with
// symbolic entries pre-resolved for advertisement. Symbolic refs whose
// chain dangles or cycles are skipped.
func (s *RefStore) List(prefix string) ([]Ref, error) {
	var rows []refRow
	err := s.db.Select(&rows,
		`SELECT name, target, symbolic FROM refs WHERE name LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list refs %q: %w", prefix, err)
	}

	out := make([]Ref, 0, len(rows))
	for _, row := range rows {
		h := object.Hash(row.Target)
		if row.Symbolic {
			h, err = s.Get(row.Name)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRefCycle) {
				continue
			}
			if err != nil {
				return nil, err
			}
		}
		out = append(out, Ref{Name: row.Name, Hash: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CompareAndSwap updates name from old to new inside one transaction so
// concurrent pushes to the same ref cannot interleave between the read
// and the write. An empty old requires the ref to be absent (create).
func (s *RefStore) CompareAndSwap(name string, old, new object.Hash) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("cas ref %s: begin: %w", name, err)
	}
	defer tx.Rollback()

	var row refRow
	err = tx.Get(&row, `SELECT name, target, symbolic FROM refs WHERE name = ?`, name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if old != "" {
			return fmt.Errorf("ref %s: expected %s, ref absent: %w", name, old, ErrRefCASMismatch)
		}
	case err != nil:
		return fmt.Errorf("cas ref %s: %w", name, err)
	default:
		if old == "" || object.Hash(row.Target) != old {
			return fmt.Errorf("ref %s: expected %s, found %s: %w", name, old, row.Target, ErrRefCASMismatch)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO refs (name, target, symbolic) VALUES (?, ?, 0)
		 ON CONFLICT(name) DO UPDATE SET target = excluded.target, symbolic = 0`,
		name, string(new),
	); err != nil {
		return fmt.Errorf("cas ref %s: write: %w", name, err)
	}
	return tx.Commit()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
