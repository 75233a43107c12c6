package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gitcell/pkg/object"
	"github.com/odvcencio/gitcell/pkg/pack"
	"github.com/odvcencio/gitcell/pkg/store"
)

// Services this handler speaks.
const (
	ServiceUploadPack  = "git-upload-pack"
	ServiceReceivePack = "git-receive-pack"
)

// Capability strings advertised on the first ref line of each service.
const (
	uploadPackCaps  = "ofs-delta"
	receivePackCaps = "report-status delete-refs ofs-delta"
)

// ValidService reports whether s is a service this handler speaks.
func ValidService(s string) bool {
	return s == ServiceUploadPack || s == ServiceReceivePack
}

// ---------------------------------------------------------------------------
// Advertisement
// ---------------------------------------------------------------------------

// Advertise renders the ref advertisement for a service: the smart-HTTP
// service prelude, HEAD plus every ref with the capability string after
// a NUL on the first line, terminated by a flush. An empty repository
// advertises the zero-hash capabilities^{} pseudo-ref so clients detect
// "no branches".
func Advertise(h *store.Handle, service string) ([]byte, error) {
	if !ValidService(service) {
		return nil, fmt.Errorf("unknown service %q", service)
	}
	caps := uploadPackCaps
	if service == ServiceReceivePack {
		caps = receivePackCaps
	}

	refs, err := h.Refs.List("refs/")
	if err != nil {
		return nil, err
	}

	lines := make([]store.Ref, 0, len(refs)+1)
	if head, err := h.Refs.Get("HEAD"); err == nil {
		lines = append(lines, store.Ref{Name: "HEAD", Hash: head})
	} else if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrRefCycle) {
		return nil, err
	}
	lines = append(lines, refs...)

	out := appendPktString(nil, "# service="+service+"\n")
	out = appendFlush(out)

	if len(lines) == 0 {
		out = appendPktString(out, fmt.Sprintf("%s capabilities^{}\x00%s\n", object.ZeroHash, caps))
		return appendFlush(out), nil
	}

	for i, ref := range lines {
		if i == 0 {
			out = appendPktString(out, fmt.Sprintf("%s %s\x00%s\n", ref.Hash, ref.Name, caps))
			continue
		}
		out = appendPktString(out, fmt.Sprintf("%s %s\n", ref.Hash, ref.Name))
	}
	return appendFlush(out), nil
}

// ---------------------------------------------------------------------------
// Upload-pack
// ---------------------------------------------------------------------------

// UploadPack runs one fetch negotiation round: parse want/have/done
// lines, answer with a single NAK or one ACK per recognized have, then
// stream a pack covering everything reachable from the wants minus the
// directly-named haves. No wants means a lone flush.
func UploadPack(h *store.Handle, body []byte) ([]byte, error) {
	wants, haves, err := parseUploadPackRequest(body)
	if err != nil {
		return nil, err
	}
	if len(wants) == 0 {
		return appendFlush(nil), nil
	}

	var recognized []object.Hash
	for _, have := range haves {
		ok, err := h.Objects.Has(have)
		if err != nil {
			return nil, err
		}
		if ok {
			recognized = append(recognized, have)
		}
	}

	var out []byte
	if len(recognized) == 0 {
		out = appendPktString(out, "NAK\n")
	} else {
		for _, have := range recognized {
			out = appendPktString(out, fmt.Sprintf("ACK %s\n", have))
		}
	}

	set, err := object.CollectReachable(h.Objects, wants, haves)
	if err != nil {
		return nil, err
	}

	packData, err := buildPack(h, set)
	if err != nil {
		return nil, err
	}
	return append(out, packData...), nil
}

func parseUploadPackRequest(body []byte) (wants, haves []object.Hash, err error) {
	sc := newPktScanner(body)
	for {
		line, flush, done, err := sc.Next()
		if err != nil {
			return nil, nil, err
		}
		if done {
			return wants, haves, nil
		}
		if flush {
			continue
		}

		text := string(trimPktNewline(line))
		switch {
		case strings.HasPrefix(text, "want "):
			h, err := parseHashField(text[len("want "):])
			if err != nil {
				return nil, nil, fmt.Errorf("want line: %w", err)
			}
			wants = append(wants, h)
		case strings.HasPrefix(text, "have "):
			h, err := parseHashField(text[len("have "):])
			if err != nil {
				return nil, nil, fmt.Errorf("have line: %w", err)
			}
			haves = append(haves, h)
		case text == "done" || text == "":
			// End of negotiation; nothing further to record.
		default:
			return nil, nil, fmt.Errorf("unexpected negotiation line %q", text)
		}
	}
}

// parseHashField extracts the leading hash from a field that may carry
// a trailing capability list.
func parseHashField(s string) (object.Hash, error) {
	if sp := strings.IndexByte(s, ' '); sp >= 0 {
		s = s[:sp]
	}
	h := object.Hash(s)
	if err := object.ValidateHash(h); err != nil {
		return "", err
	}
	return h, nil
}

// buildPack writes the selected objects as a pack stream, sorted by
// hash for deterministic output.
func buildPack(h *store.Handle, set map[object.Hash]struct{}) ([]byte, error) {
	hashes := make([]object.Hash, 0, len(set))
	for hash := range set {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	var buf bytes.Buffer
	pw, err := pack.NewWriter(&buf, uint32(len(hashes)))
	if err != nil {
		return nil, err
	}
	for _, hash := range hashes {
		obj, err := h.Objects.Get(hash)
		if err != nil {
			return nil, err
		}
		if err := pw.WriteObject(obj.Kind, obj.Body); err != nil {
			return nil, err
		}
	}
	if _, err := pw.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
