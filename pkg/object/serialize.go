package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SentinelSignature stands in for author/committer lines that do not
// match git's "name <email> epoch tz" shape. History traversal must
// survive malformed commits, so decoding degrades instead of failing.
var SentinelSignature = Signature{Name: "unknown", Email: "unknown", When: 0, TZ: "+0000"}

// ---------------------------------------------------------------------------
// Tree
// ---------------------------------------------------------------------------

// MarshalTree serializes entries to git's canonical tree body. Entries
// are sorted by byte-wise name comparison (not locale-aware); each is
// "<mode> <name>\0<20 raw hash bytes>". Two equal entry sets serialize
// identically.
func MarshalTree(entries []TreeEntry) ([]byte, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare([]byte(sorted[i].Name), []byte(sorted[j].Name)) < 0
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		raw, err := hex.DecodeString(string(e.Hash))
		if err != nil || len(raw) != RawHashLen {
			return nil, fmt.Errorf("marshal tree: entry %q: invalid hash %q", e.Name, e.Hash)
		}
		fmt.Fprintf(&buf, "%s %s\x00", normalizeTreeMode(e.Mode), e.Name)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// UnmarshalTree parses a canonical tree body. On truncation it stops at
// the last well-formed entry rather than failing outright.
func UnmarshalTree(data []byte) []TreeEntry {
	var entries []TreeEntry
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			break
		}
		mode := string(data[:sp])
		rest := data[sp+1:]

		nul := bytes.IndexByte(rest, 0)
		if nul < 0 || len(rest) < nul+1+RawHashLen {
			break
		}
		name := string(rest[:nul])
		raw := rest[nul+1 : nul+1+RawHashLen]

		entries = append(entries, TreeEntry{
			Mode: normalizeTreeMode(mode),
			Name: name,
			Hash: Hash(hex.EncodeToString(raw)),
		})
		data = rest[nul+1+RawHashLen:]
	}
	return entries
}

// normalizeTreeMode maps the display form "040000" to the on-disk
// "40000". Anything else passes through untouched.
func normalizeTreeMode(mode string) string {
	if mode == "040000" {
		return TreeModeDir
	}
	return mode
}

// ---------------------------------------------------------------------------
// Signature lines
// ---------------------------------------------------------------------------

func formatSignature(s Signature) string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When, s.TZ)
}

// parseSignature parses "name <email> epoch tz". A non-matching line
// yields the sentinel signature instead of an error.
func parseSignature(line string) Signature {
	lt := strings.Index(line, " <")
	gt := strings.Index(line, "> ")
	if lt < 0 || gt < 0 || gt < lt {
		return SentinelSignature
	}
	name := line[:lt]
	email := line[lt+2 : gt]

	fields := strings.Fields(line[gt+2:])
	if len(fields) != 2 {
		return SentinelSignature
	}
	when, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return SentinelSignature
	}
	tz := fields[1]
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return SentinelSignature
	}
	return Signature{Name: name, Email: email, When: when, TZ: tz}
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

// MarshalCommit serializes a commit to git's canonical body:
//
//	tree <hash>
//	parent <hash>   (zero or more)
//	author name <email> epoch tz
//	committer name <email> epoch tz
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeHash)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", formatSignature(c.Author))
	fmt.Fprintf(&buf, "committer %s\n", formatSignature(c.Committer))
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a canonical commit body. Unknown header keys
// (gpgsig, encoding, ...) are skipped; malformed author/committer lines
// decode to the sentinel signature. The message is kept verbatim.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	header := data
	message := ""
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		header = data[:idx]
		message = string(data[idx+2:])
	}

	c := &CommitObj{
		Author:    SentinelSignature,
		Committer: SentinelSignature,
		Message:   message,
	}
	for _, line := range strings.Split(string(header), "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "tree":
			c.TreeHash = Hash(val)
		case "parent":
			c.Parents = append(c.Parents, Hash(val))
		case "author":
			c.Author = parseSignature(val)
		case "committer":
			c.Committer = parseSignature(val)
		}
	}
	if c.TreeHash == "" {
		return nil, fmt.Errorf("unmarshal commit: missing tree header")
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Tag
// ---------------------------------------------------------------------------

// MarshalTag serializes an annotated tag to git's canonical body.
func MarshalTag(t *TagObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.TargetHash)
	fmt.Fprintf(&buf, "type %s\n", t.TargetType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	fmt.Fprintf(&buf, "tagger %s\n", formatSignature(t.Tagger))
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// UnmarshalTag parses a canonical tag body.
func UnmarshalTag(data []byte) (*TagObj, error) {
	header := data
	message := ""
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		header = data[:idx]
		message = string(data[idx+2:])
	}

	t := &TagObj{Tagger: SentinelSignature, Message: message}
	for _, line := range strings.Split(string(header), "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "object":
			t.TargetHash = Hash(val)
		case "type":
			t.TargetType = ObjectType(val)
		case "tag":
			t.Name = val
		case "tagger":
			t.Tagger = parseSignature(val)
		}
	}
	if t.TargetHash == "" {
		return nil, fmt.Errorf("unmarshal tag: missing object header")
	}
	return t, nil
}
