package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/gitcell/pkg/object"
	"github.com/odvcencio/gitcell/pkg/pack"
	"github.com/odvcencio/gitcell/pkg/store"
)

// refUpdate is one requested ref transition from a push.
type refUpdate struct {
	Old  object.Hash
	New  object.Hash
	Name string
}

// ReceivePack processes a push: ref-update pkt-lines, a flush, then an
// embedded pack. Every pack object is ingested before any ref is
// touched; if pack parsing fails, all requested updates are reported
// failed and no ref changes. Updates are then applied independently
// with a report-status response: "unpack ok|<error>", one "ok <ref>" or
// "ng <ref> <reason>" per update, then a flush.
func ReceivePack(h *store.Handle, body []byte) ([]byte, error) {
	updates, packData, err := parseReceivePackRequest(body)
	if err != nil {
		return nil, err
	}

	if err := ingestPack(h, packData); err != nil {
		out := appendPktString(nil, fmt.Sprintf("unpack %v\n", err))
		for _, u := range updates {
			out = appendPktString(out, fmt.Sprintf("ng %s %v\n", u.Name, err))
		}
		return appendFlush(out), nil
	}

	out := appendPktString(nil, "unpack ok\n")
	for _, u := range updates {
		if reason := applyRefUpdate(h, u); reason != "" {
			out = appendPktString(out, fmt.Sprintf("ng %s %s\n", u.Name, reason))
			continue
		}
		out = appendPktString(out, fmt.Sprintf("ok %s\n", u.Name))
	}
	return appendFlush(out), nil
}

func parseReceivePackRequest(body []byte) ([]refUpdate, []byte, error) {
	sc := newPktScanner(body)
	var updates []refUpdate
	for {
		line, flush, done, err := sc.Next()
		if err != nil {
			return nil, nil, err
		}
		if flush || done {
			break
		}

		text := string(trimPktNewline(line))
		// The first update line carries a capability list after a NUL.
		if nul := strings.IndexByte(text, 0); nul >= 0 {
			text = text[:nul]
		}

		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, nil, fmt.Errorf("malformed ref-update line %q", text)
		}
		oldHash := object.Hash(fields[0])
		newHash := object.Hash(fields[1])
		if err := object.ValidateHash(oldHash); err != nil {
			return nil, nil, fmt.Errorf("ref-update old hash: %w", err)
		}
		if err := object.ValidateHash(newHash); err != nil {
			return nil, nil, fmt.Errorf("ref-update new hash: %w", err)
		}
		updates = append(updates, refUpdate{Old: oldHash, New: newHash, Name: fields[2]})
	}
	return updates, sc.Rest(), nil
}

// ingestPack parses the embedded pack and stores every object. A push
// that only deletes refs carries no pack at all. Objects inserted
// before a mid-pack failure remain; they are content-addressed and
// idempotent, so they are harmless.
func ingestPack(h *store.Handle, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	pf, err := pack.Read(data)
	if err != nil {
		return err
	}
	for _, obj := range pf.Objects {
		if _, err := h.Objects.Put(obj.Kind, obj.Body); err != nil {
			return err
		}
	}
	return nil
}

// applyRefUpdate applies one update, returning an in-band failure
// reason or "" on success. Deletion is requested by an all-zero new
// hash, creation by an all-zero old hash; anything else is a
// compare-and-swap against the store's current value.
func applyRefUpdate(h *store.Handle, u refUpdate) string {
	if u.New.IsZero() {
		existed, err := h.Refs.Delete(u.Name)
		if err != nil {
			return "failed to delete"
		}
		if !existed {
			return "no such ref"
		}
		return ""
	}

	if ok, err := h.Objects.Has(u.New); err != nil || !ok {
		return "missing object"
	}

	old := u.Old
	if old.IsZero() {
		old = ""
	}
	if err := h.Refs.CompareAndSwap(u.Name, old, u.New); err != nil {
		if errors.Is(err, store.ErrRefCASMismatch) {
			return "non-fast-forward"
		}
		return "failed to update"
	}
	return ""
}
