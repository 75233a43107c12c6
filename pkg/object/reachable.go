package object

// Source is the read side of an object store, enough for graph walks.
type Source interface {
	Get(h Hash) (*GitObject, error)
	Has(h Hash) (bool, error)
}

// CollectReachable walks the object graph breadth-first from starts and
// returns every visited hash. A commit expands to its tree and parents,
// a tree to all child entries, a tag to its target. The walk stops at
// hashes in excludes, at already-visited hashes, and at hashes missing
// from the source.
//
// Only the directly-named excludes are skipped, not their full
// ancestry, so the result over-approximates "objects the peer lacks".
func CollectReachable(src Source, starts, excludes []Hash) (map[Hash]struct{}, error) {
	excluded := make(map[Hash]struct{}, len(excludes))
	for _, h := range excludes {
		excluded[h] = struct{}{}
	}

	out := make(map[Hash]struct{})
	queue := make([]Hash, 0, len(starts))
	queue = append(queue, starts...)

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == "" || h.IsZero() {
			continue
		}
		if _, ok := out[h]; ok {
			continue
		}
		if _, ok := excluded[h]; ok {
			continue
		}
		ok, err := src.Has(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[h] = struct{}{}

		obj, err := src.Get(h)
		if err != nil {
			return nil, err
		}
		queue = append(queue, referencedHashes(obj)...)
	}
	return out, nil
}

func referencedHashes(obj *GitObject) []Hash {
	switch obj.Kind {
	case TypeCommit:
		c, err := UnmarshalCommit(obj.Body)
		if err != nil {
			return nil
		}
		refs := make([]Hash, 0, 1+len(c.Parents))
		refs = append(refs, c.TreeHash)
		refs = append(refs, c.Parents...)
		return refs
	case TypeTree:
		entries := UnmarshalTree(obj.Body)
		refs := make([]Hash, 0, len(entries))
		for _, e := range entries {
			refs = append(refs, e.Hash)
		}
		return refs
	case TypeTag:
		t, err := UnmarshalTag(obj.Body)
		if err != nil {
			return nil
		}
		return []Hash{t.TargetHash}
	default:
		return nil
	}
}
